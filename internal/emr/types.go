// Package emr talks to the external clinical registry: the system of
// record for patients, practitioners, organizations and related persons.
// Resources are modelled as typed structures with named optional fields
// so malformed payloads fail at decode time instead of deep inside the
// dialogue flow.
package emr

import "time"

// Patient is the registry's patient resource.
type Patient struct {
	ID        string     `json:"id,omitempty"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Phone     string     `json:"phone"`
	Email     string     `json:"email,omitempty"`
	Age       int        `json:"age,omitempty"`
	Gender    string     `json:"gender,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}

// FullName joins the name parts the way the registry displays them.
func (p *Patient) FullName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Organization is a hospital or clinic site.  PhoneNumber is the
// provider line outbound calls are routed through; a site without one
// cannot receive booking calls.
type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
}

// RelatedPerson is an authorized third party on a patient's record, e.g.
// a family member or caregiver who may call on the patient's behalf.
type RelatedPerson struct {
	ID           string `json:"id,omitempty"`
	PatientID    string `json:"patient_id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// Practitioner is a doctor patients can book with.
type Practitioner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Appointment is a scheduled visit on the registry, referenced by
// reminder and follow-up calls.
type Appointment struct {
	ID         string `json:"id"`
	PatientID  string `json:"patient_id"`
	Doctor     string `json:"doctor,omitempty"`
	Date       string `json:"date,omitempty"`
	Time       string `json:"time,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Status     string `json:"status,omitempty"`
	HospitalID string `json:"hospital_id,omitempty"`
}
