package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"clinic-frontdesk/internal/callctx"
	"clinic-frontdesk/internal/convo"
	"clinic-frontdesk/internal/emr"
	"clinic-frontdesk/internal/llm"
	"clinic-frontdesk/internal/verify"
	"clinic-frontdesk/pkg"
)

// echoLLM answers with the directive portion of the instruction so
// assertions can key off deterministic text.
type echoLLM struct{}

func (echoLLM) Complete(_ context.Context, _ []llm.Message, instruction string) (string, error) {
	if i := strings.LastIndex(instruction, "\n\n"); i >= 0 {
		return instruction[i+2:], nil
	}
	return instruction, nil
}

func (echoLLM) Extract(context.Context, []llm.Message, []string) (map[string]string, error) {
	return map[string]string{}, nil
}

type fakeEMR struct {
	byPhone      map[string]*emr.Patient
	appointments map[string]*emr.Appointment
}

func (f *fakeEMR) FindPatientByPhone(_ context.Context, phone string) (*emr.Patient, error) {
	if p, ok := f.byPhone[phone]; ok {
		return p, nil
	}
	return nil, emr.ErrNotFound
}

func (f *fakeEMR) GetPatient(context.Context, string) (*emr.Patient, error) {
	return nil, emr.ErrNotFound
}

func (f *fakeEMR) CreatePatient(_ context.Context, p *emr.Patient) (*emr.Patient, error) {
	out := *p
	out.ID = "pat-new"
	return &out, nil
}

func (f *fakeEMR) GetOrganization(_ context.Context, id string) (*emr.Organization, error) {
	return &emr.Organization{ID: id, Name: "Main Clinic", PhoneNumber: "+15550999"}, nil
}

func (f *fakeEMR) ListRelatedPersons(context.Context, string) ([]emr.RelatedPerson, error) {
	return nil, nil
}

func (f *fakeEMR) CreateRelatedPerson(_ context.Context, rp *emr.RelatedPerson) (*emr.RelatedPerson, error) {
	out := *rp
	out.ID = "rel-new"
	return &out, nil
}

func (f *fakeEMR) FindPractitionerByName(context.Context, string) (*emr.Practitioner, error) {
	return nil, emr.ErrNotFound
}

func (f *fakeEMR) GetAppointment(_ context.Context, id string) (*emr.Appointment, error) {
	if f.appointments == nil {
		return nil, emr.ErrNotFound
	}
	if a, ok := f.appointments[id]; ok {
		return a, nil
	}
	return nil, emr.ErrNotFound
}

type fakeProvider struct {
	calls  int
	lastTo string
	sid    string
	err    error
}

func (f *fakeProvider) PlaceCall(_ context.Context, to, _ string) (string, error) {
	f.calls++
	f.lastTo = to
	if f.err != nil {
		return "", f.err
	}
	return f.sid, nil
}

type fakeLogs struct {
	nextID     int64
	created    []pkg.CallLogEntry
	statuses   map[int64]pkg.CallStatus
	summaries  map[int64]string
	failUpdate bool
}

func newFakeLogs() *fakeLogs {
	return &fakeLogs{statuses: map[int64]pkg.CallStatus{}, summaries: map[int64]string{}}
}

func (f *fakeLogs) CreateCallLog(_ context.Context, e *pkg.CallLogEntry) (int64, error) {
	f.nextID++
	e.ID = f.nextID
	f.created = append(f.created, *e)
	return f.nextID, nil
}

func (f *fakeLogs) UpdateCallStatus(_ context.Context, id int64, status pkg.CallStatus, _ int) error {
	if f.failUpdate {
		return errors.New("db down")
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeLogs) AttachPatientSummary(_ context.Context, id int64, summary string) error {
	f.summaries[id] = summary
	return nil
}

func (f *fakeLogs) GetCallLog(_ context.Context, id int64) (*pkg.CallLogEntry, error) {
	for i := range f.created {
		if f.created[i].ID == id {
			return &f.created[i], nil
		}
	}
	return nil, errors.New("no such call")
}

func (f *fakeLogs) ListRecentCalls(context.Context, int) ([]pkg.CallLogEntry, error) {
	return f.created, nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) NotifyCallStatus(_ context.Context, logID int64, status string) error {
	f.events = append(f.events, fmt.Sprintf("%d:%s", logID, status))
	return nil
}

func newTestServer(reg emr.Client, prov *fakeProvider, logs *fakeLogs, notif *fakeNotifier) *Server {
	contexts := callctx.NewStore()
	var machineLogs convo.CallLogger
	if logs != nil {
		machineLogs = logs
	}
	machine := convo.NewMachine(convo.NewSessionStore(), reg, echoLLM{}, prov, contexts, machineLogs, "+15550000")
	srv := &Server{
		Machine:       machine,
		Verifier:      verify.New(reg),
		Contexts:      contexts,
		Provider:      prov,
		Registry:      reg,
		PublicBaseURL: "https://clinic.example.com",
		HospitalID:    "org-1",
		ClinicLine:    "+15550000",
	}
	if logs != nil {
		srv.Logs = logs
	}
	if notif != nil {
		srv.Notifier = notif
	}
	return srv
}

func TestInboundCallReturnsStreamMarkup(t *testing.T) {
	reg := &fakeEMR{byPhone: map[string]*emr.Patient{
		"+15550100": {ID: "pat-9", FirstName: "John", LastName: "Smith", Phone: "+15550100"},
	}}
	logs := newFakeLogs()
	srv := newTestServer(reg, &fakeProvider{sid: "CA100"}, logs, nil)

	form := url.Values{"From": {"+15550100"}, "To": {"+15550199"}, "CallSid": {"CA900"}}
	req := httptest.NewRequest(http.MethodPost, "/voice/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "wss://clinic.example.com/voice/stream") {
		t.Errorf("markup missing stream url: %s", body)
	}
	if !strings.Contains(body, "contextKey=inbound_1") {
		t.Errorf("markup missing context key: %s", body)
	}

	cc, ok := srv.Contexts.Get("inbound_1")
	if !ok {
		t.Fatal("context not registered under log key")
	}
	aliased, ok := srv.Contexts.Get("CA900")
	if !ok || aliased != cc {
		t.Error("context not aliased under the provider call id")
	}
	if cc.PatientID == nil || *cc.PatientID != "pat-9" {
		t.Error("known caller not pre-resolved to a patient")
	}
	if len(logs.created) != 1 || logs.created[0].Direction != pkg.DirectionInbound {
		t.Errorf("call log entries = %+v", logs.created)
	}
}

func TestOutboundCallEndpoint(t *testing.T) {
	prov := &fakeProvider{sid: "CA200"}
	srv := newTestServer(&fakeEMR{}, prov, newFakeLogs(), nil)

	body, _ := json.Marshal(pkg.OutboundCallRequest{
		PhoneNumber: "+919876543210",
		HospitalID:  "org-2",
		CallType:    pkg.CallTypeReminder,
	})
	req := httptest.NewRequest(http.MethodPost, "/voice/outbound", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["provider_call_id"] != "CA200" {
		t.Errorf("provider_call_id = %q", resp["provider_call_id"])
	}
	if prov.calls != 1 || prov.lastTo != "+919876543210" {
		t.Errorf("provider calls = %d, to %q", prov.calls, prov.lastTo)
	}
	cc, ok := srv.Contexts.Get("CA200")
	if !ok {
		t.Fatal("context not reachable under provider call id")
	}
	if cc.CallType != pkg.CallTypeReminder || cc.ContextKey != resp["context_key"] {
		t.Errorf("context = %+v", cc)
	}
}

func TestOutboundReminderCarriesAppointmentDetails(t *testing.T) {
	reg := &fakeEMR{appointments: map[string]*emr.Appointment{
		"appt-8": {ID: "appt-8", Doctor: "Dr. Lee", Date: "2026-09-03", Time: "10:30"},
	}}
	prov := &fakeProvider{sid: "CA210"}
	srv := newTestServer(reg, prov, nil, nil)

	body, _ := json.Marshal(pkg.OutboundCallRequest{
		PhoneNumber:   "+15550177",
		CallType:      pkg.CallTypeReminder,
		AppointmentID: "appt-8",
	})
	req := httptest.NewRequest(http.MethodPost, "/voice/outbound", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	cc, ok := srv.Contexts.Get("CA210")
	if !ok {
		t.Fatal("context not registered")
	}
	if cc.Metadata["doctor"] != "Dr. Lee" || cc.Metadata["date"] != "2026-09-03" {
		t.Errorf("metadata = %v", cc.Metadata)
	}
}

func TestOutboundCallRequiresPhoneNumber(t *testing.T) {
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/voice/outbound", strings.NewReader(`{"hospital_id":"org-1"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusCallbackUpdatesEverything(t *testing.T) {
	logs := newFakeLogs()
	notif := &fakeNotifier{}
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, logs, notif)

	sess, _ := srv.Machine.StartSession("org-1")
	srv.Contexts.Put("outbound_5", &pkg.CallContext{
		Direction:  pkg.DirectionOutbound,
		ContextKey: "outbound_5",
		LogID:      5,
		SessionID:  sess.ID,
		Status:     pkg.StatusInProgress,
	})
	if err := srv.Contexts.Alias("outbound_5", "CA300"); err != nil {
		t.Fatal(err)
	}

	form := url.Values{"CallSid": {"CA300"}, "CallStatus": {"completed"}, "CallDuration": {"42"}}
	req := httptest.NewRequest(http.MethodPost, "/voice/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	cc, _ := srv.Contexts.Get("outbound_5")
	if cc.Status != pkg.StatusAnswered || cc.DurationSeconds != 42 {
		t.Errorf("context after callback = %+v", cc)
	}
	if logs.statuses[5] != pkg.StatusAnswered {
		t.Errorf("persisted status = %q", logs.statuses[5])
	}
	if len(notif.events) != 1 || notif.events[0] != "5:answered" {
		t.Errorf("notifications = %v", notif.events)
	}
	if sess.CallOutcome == nil || *sess.CallOutcome != pkg.StatusAnswered {
		t.Error("session call outcome not updated")
	}
}

func TestStatusCallbackSurvivesPersistFailure(t *testing.T) {
	logs := newFakeLogs()
	logs.failUpdate = true
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, logs, nil)

	srv.Contexts.Put("outbound_7", &pkg.CallContext{
		Direction:  pkg.DirectionOutbound,
		ContextKey: "outbound_7",
		LogID:      7,
		Status:     pkg.StatusInProgress,
	})
	_ = srv.Contexts.Alias("outbound_7", "CA301")

	form := url.Values{"CallSid": {"CA301"}, "CallStatus": {"busy"}}
	req := httptest.NewRequest(http.MethodPost, "/voice/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	// The webhook must succeed even when the database write does not.
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	cc, _ := srv.Contexts.Get("outbound_7")
	if cc.Status != pkg.StatusBusy {
		t.Errorf("context status = %q", cc.Status)
	}
}

func TestStatusCallbackUnknownCall(t *testing.T) {
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, nil, nil)
	form := url.Values{"CallSid": {"CA999"}, "CallStatus": {"completed"}}
	req := httptest.NewRequest(http.MethodPost, "/voice/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatSessionFlow(t *testing.T) {
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/sessions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created["session_id"] == "" || created["reply"] == "" {
		t.Fatalf("create response = %v", created)
	}

	msg := strings.NewReader(`{"content":"I want to book an appointment"}`)
	req = httptest.NewRequest(http.MethodPost, "/chat/sessions/"+created["session_id"]+"/messages", msg)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d, body %s", rec.Code, rec.Body.String())
	}
	var turn map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatal(err)
	}
	if turn["stage"] != string(convo.StageAwaitingConfirmation) {
		t.Errorf("stage = %q", turn["stage"])
	}
	if turn["reply"] == "" {
		t.Error("empty reply")
	}
}

func TestPostMessageUnknownSession(t *testing.T) {
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/sessions/nope/messages", strings.NewReader(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestVerifyCallerEndpoint(t *testing.T) {
	reg := &fakeEMR{byPhone: map[string]*emr.Patient{
		"+15550100": {ID: "pat-3", FirstName: "John", LastName: "Smith", Phone: "+15550100"},
	}}
	srv := newTestServer(reg, &fakeProvider{sid: "CA1"}, nil, nil)
	srv.Contexts.Put("inbound_3", &pkg.CallContext{
		Direction:  pkg.DirectionInbound,
		ContextKey: "inbound_3",
		From:       "+15550100",
	})

	body := strings.NewReader(`{"context_key":"inbound_3","spoken_name":"john"}`)
	req := httptest.NewRequest(http.MethodPost, "/voice/verify", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["verified"] != true || resp["outcome"] != "patient" {
		t.Errorf("verify response = %v", resp)
	}
	cc, _ := srv.Contexts.Get("inbound_3")
	if cc.PatientID == nil || *cc.PatientID != "pat-3" {
		t.Error("verified patient not attached to call context")
	}
}

// echoPipeline speaks every caller frame straight back.
type echoPipeline struct{}

func (echoPipeline) ProcessAudio(_ string, pcm []byte) []byte { return pcm }

func TestStreamPlaysPromptAndEchoesMedia(t *testing.T) {
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, nil, nil)
	srv.Pipeline = echoPipeline{}
	prompt := bytes.Repeat([]byte{0x7F}, 160)
	srv.PromptFrames = [][]byte{prompt}
	srv.Contexts.Put("inbound_9", &pkg.CallContext{
		Direction:  pkg.DirectionInbound,
		ContextKey: "inbound_9",
	})

	frame := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, 160))
	var in bytes.Buffer
	_ = json.NewEncoder(&in).Encode(map[string]interface{}{
		"event": "start",
		"start": map[string]string{"callSid": "CA400"},
	})
	_ = json.NewEncoder(&in).Encode(map[string]interface{}{
		"event": "media",
		"media": map[string]string{"payload": frame},
	})
	_ = json.NewEncoder(&in).Encode(map[string]string{"event": "stop"})

	req := httptest.NewRequest(http.MethodPost, "/voice/stream?contextKey=inbound_9", &in)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var events []mediaOut
	dec := json.NewDecoder(rec.Body)
	for dec.More() {
		var ev mediaOut
		if err := dec.Decode(&ev); err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("got %d media events, want prompt plus echo", len(events))
	}
	if got, _ := base64.StdEncoding.DecodeString(events[0].Media.Payload); !bytes.Equal(got, prompt) {
		t.Error("first event is not the greeting prompt")
	}
	echo, _ := base64.StdEncoding.DecodeString(events[1].Media.Payload)
	if len(echo) != 160 {
		t.Errorf("echoed frame length = %d", len(echo))
	}

	if _, ok := srv.Contexts.Get("CA400"); !ok {
		t.Error("stream start did not alias the provider call id")
	}
}

func TestStreamUnknownContext(t *testing.T) {
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/voice/stream?contextKey=nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeEMR{}, &fakeProvider{sid: "CA1"}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
