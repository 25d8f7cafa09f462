package emr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the registry has no matching resource.
// Callers are expected to recover locally (create a new patient, skip
// the hospital context) rather than abort the whole request.
var ErrNotFound = errors.New("emr: resource not found")

// Client is the surface the rest of the system uses to reach the
// registry.  Implementations must translate a missing resource into
// ErrNotFound.
type Client interface {
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) (*Patient, error)
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	ListRelatedPersons(ctx context.Context, patientID string) ([]RelatedPerson, error)
	CreateRelatedPerson(ctx context.Context, rp *RelatedPerson) (*RelatedPerson, error)
	FindPractitionerByName(ctx context.Context, name string) (*Practitioner, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
}

// HTTPClient is the REST implementation of Client.
type HTTPClient struct {
	base  string
	token string
	http  *http.Client
}

// NewHTTPClient builds a registry client for the given base URL.  The
// token is sent as a bearer credential on every request.
func NewHTTPClient(base, token string) *HTTPClient {
	return &HTTPClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     60 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   3 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
	}
}

func (c *HTTPClient) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	var p Patient
	path := "/patients?phone=" + url.QueryEscape(phone)
	if err := c.get(ctx, path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	if err := c.get(ctx, "/patients/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	var created Patient
	if err := c.post(ctx, "/patients", p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var o Organization
	if err := c.get(ctx, "/organizations/"+url.PathEscape(id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *HTTPClient) ListRelatedPersons(ctx context.Context, patientID string) ([]RelatedPerson, error) {
	var out []RelatedPerson
	path := "/patients/" + url.PathEscape(patientID) + "/related-persons"
	if err := c.get(ctx, path, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateRelatedPerson(ctx context.Context, rp *RelatedPerson) (*RelatedPerson, error) {
	var created RelatedPerson
	path := "/patients/" + url.PathEscape(rp.PatientID) + "/related-persons"
	if err := c.post(ctx, path, rp, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) FindPractitionerByName(ctx context.Context, name string) (*Practitioner, error) {
	var pr Practitioner
	path := "/practitioners?name=" + url.QueryEscape(name)
	if err := c.get(ctx, path, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

func (c *HTTPClient) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var a Appointment
	if err := c.get(ctx, "/appointments/"+url.PathEscape(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	jb, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(jb))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("emr: %s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
