// Package convo drives the staged appointment-booking dialogue: it
// identifies or registers the patient one field at a time, collects the
// appointment details in order, and decides deterministically when
// enough information exists to place the outbound booking call.
package convo

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"clinic-frontdesk/internal/llm"
	"clinic-frontdesk/pkg"
)

// Stage is a conversation session's position in the booking flow.
type Stage string

const (
	StageGreeting               Stage = "greeting"
	StageAwaitingConfirmation   Stage = "awaiting_confirmation"
	StageAwaitingPhone          Stage = "awaiting_phone"
	StageNewPatientRegistration Stage = "new_patient_registration"
	StagePatientFound           Stage = "patient_found"
	StagePatientCreated         Stage = "patient_created"
	StageBookingAppointment     Stage = "booking_appointment"
	StageCallInitiated          Stage = "call_initiated"
	StageConversationEnded      Stage = "conversation_ended"
)

// CollectionStage points at the appointment field being collected.
type CollectionStage string

const (
	CollectWhoFor        CollectionStage = "who_for"
	CollectFamilyDetails CollectionStage = "family_details"
	CollectDoctor        CollectionStage = "doctor"
	CollectDate          CollectionStage = "date"
	CollectTime          CollectionStage = "time"
	CollectReason        CollectionStage = "reason"
	CollectConfirm       CollectionStage = "confirm"
)

// Patient registration field names, in the fixed priority order used
// when inferring which field a user message answers.
const (
	FieldFirstName   = "first name"
	FieldLastName    = "last name"
	FieldEmail       = "email"
	FieldPhone       = "phone"
	FieldAge         = "age"
	FieldGender      = "gender"
	FieldDateOfBirth = "date of birth"
)

var registrationFields = []string{
	FieldFirstName, FieldLastName, FieldEmail, FieldPhone,
	FieldAge, FieldGender, FieldDateOfBirth,
}

// PatientData is the patient record being filled in during registration.
// Four fields are critical (enough to create a record); all seven make
// it fully complete.
type PatientData struct {
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	Age            int    `json:"age,omitempty"`
	Gender         string `json:"gender,omitempty"`
	DateOfBirth    string `json:"date_of_birth,omitempty"`
	ExistingRecord bool   `json:"existing_record,omitempty"`
}

// CriticalComplete reports whether the record can be created: first
// name, last name, phone and email are all present.
func (p *PatientData) CriticalComplete() bool {
	return p.FirstName != "" && p.LastName != "" && p.Phone != "" && p.Email != ""
}

// FullyComplete reports whether all seven fields are present.
func (p *PatientData) FullyComplete() bool {
	return p.CriticalComplete() && p.Age > 0 && p.Gender != "" && p.DateOfBirth != ""
}

// Missing returns the unfilled fields in priority order.
func (p *PatientData) Missing() []string {
	var out []string
	for _, f := range registrationFields {
		if p.get(f) == "" {
			out = append(out, f)
		}
	}
	return out
}

func (p *PatientData) get(field string) string {
	switch field {
	case FieldFirstName:
		return p.FirstName
	case FieldLastName:
		return p.LastName
	case FieldEmail:
		return p.Email
	case FieldPhone:
		return p.Phone
	case FieldAge:
		if p.Age > 0 {
			return "set"
		}
		return ""
	case FieldGender:
		return p.Gender
	case FieldDateOfBirth:
		return p.DateOfBirth
	}
	return ""
}

// WhoFor says whose appointment is being booked.
type WhoFor string

const (
	ForSelf  WhoFor = "self"
	ForOther WhoFor = "other"
)

// AppointmentData is the booking record being filled in.
type AppointmentData struct {
	Doctor          string          `json:"doctor,omitempty"`
	Date            string          `json:"date,omitempty"`
	Time            string          `json:"time,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	WhoFor          WhoFor          `json:"who_for,omitempty"`
	Relationship    string          `json:"relationship,omitempty"`
	PatientName     string          `json:"patient_name,omitempty"`
	CallbackNumber  string          `json:"callback_number,omitempty"`
	CollectionStage CollectionStage `json:"collection_stage,omitempty"`
}

// ReadyToCall reports whether the outbound booking call may be placed:
// doctor, date, time and reason must all be present.
func (a *AppointmentData) ReadyToCall() bool {
	return a.Doctor != "" && a.Date != "" && a.Time != "" && a.Reason != ""
}

// nextMissing returns the next unfilled field in collection order, or
// CollectConfirm when everything is present.
func (a *AppointmentData) nextMissing() CollectionStage {
	switch {
	case a.Doctor == "":
		return CollectDoctor
	case a.Date == "":
		return CollectDate
	case a.Time == "":
		return CollectTime
	case a.Reason == "":
		return CollectReason
	default:
		return CollectConfirm
	}
}

// Session is one chat/voice dialogue instance.  It is linked to a
// CallContext only through its opaque ID, passed along on the outbound
// call request.  The embedded mutex gives each session a single-flight
// guard: one user message is processed to completion before the next
// begins, while different sessions proceed independently.
type Session struct {
	ID          string          `json:"id"`
	Stage       Stage           `json:"stage"`
	Intent      string          `json:"initial_intent,omitempty"`
	Patient     PatientData     `json:"patient_data"`
	Appointment AppointmentData `json:"appointment_data"`
	History     []llm.Message   `json:"-"`
	CallOutcome *pkg.CallStatus `json:"call_outcome,omitempty"`
	PatientID   string          `json:"patient_id,omitempty"`
	HospitalID  string          `json:"hospital_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// one-shot guards; each is set exactly once for a session's lifetime
	patientCreationAttempted bool
	callAttempted            bool

	// expectedField tags which registration field the previous prompt
	// asked for, so the answer is never re-derived from prompt wording
	// alone.
	expectedField string

	mu sync.Mutex
}

// SessionStore holds live sessions for the process lifetime.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Create mints a new session in the greeting stage.
func (st *SessionStore) Create(hospitalID string) *Session {
	now := time.Now()
	s := &Session{
		ID:         uuid.NewString(),
		Stage:      StageGreeting,
		HospitalID: hospitalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

// Get returns the session with the given id.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}
