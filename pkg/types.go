package pkg

import "time"

// CallDirection tells which side initiated a call.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// CallType describes why a call exists.
type CallType string

const (
	CallTypeReminder CallType = "reminder"
	CallTypeFollowUp CallType = "follow-up"
	CallTypeBooking  CallType = "booking"
	CallTypeGeneral  CallType = "general"
)

// CallStatus is the normalized call-status vocabulary.  Provider-specific
// status strings are mapped onto these values before anything is recorded.
type CallStatus string

const (
	StatusInProgress CallStatus = "in-progress"
	StatusAnswered   CallStatus = "answered"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no-answer"
	StatusFailed     CallStatus = "failed"
	StatusCanceled   CallStatus = "canceled"
)

// CallContext represents one logical telephone call, inbound or outbound.
// It is created when the call is initiated and mutated as the provider
// reports progress.  The same record is reachable under every identifier
// ever assigned to it: the locally minted context key and, once known,
// the provider's call id.
type CallContext struct {
	Direction       CallDirection     `json:"direction"`
	ContextKey      string            `json:"context_key"`
	LogID           int64             `json:"log_id,omitempty"`
	ProviderCallID  string            `json:"provider_call_id,omitempty"`
	PatientID       *string           `json:"patient_id,omitempty"`
	HospitalID      string            `json:"hospital_id,omitempty"`
	From            string            `json:"from"`
	To              string            `json:"to"`
	CallType        CallType          `json:"call_type"`
	SessionID       string            `json:"session_id,omitempty"`
	Status          CallStatus        `json:"status,omitempty"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// OutboundCallRequest asks the telephony layer to place a call.
type OutboundCallRequest struct {
	PhoneNumber   string            `json:"phone_number"`
	HospitalID    string            `json:"hospital_id"`
	Reason        string            `json:"reason,omitempty"`
	CallType      CallType          `json:"call_type,omitempty"`
	AppointmentID string            `json:"appointment_id,omitempty"`
	ReminderType  string            `json:"reminder_type,omitempty"`
	ReminderData  string            `json:"reminder_data,omitempty"`
	FollowUpData  string            `json:"follow_up_data,omitempty"`
	PatientID     string            `json:"patient_id,omitempty"`
	PatientFhirID string            `json:"patient_fhir_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// StatusCallback is the asynchronous POST the provider sends as a call
// progresses (ringing, answered, completed, ...).
type StatusCallback struct {
	ProviderCallID  string `json:"provider_call_id"`
	CallStatus      string `json:"call_status"`
	DurationSeconds int    `json:"call_duration_seconds,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// CallLogEntry is the persisted record of one call.
type CallLogEntry struct {
	ID             int64         `json:"id"`
	Direction      CallDirection `json:"direction"`
	From           string        `json:"from"`
	To             string        `json:"to"`
	Status         CallStatus    `json:"status"`
	SentAt         time.Time     `json:"sent_at"`
	ReceivedAt     *time.Time    `json:"received_at,omitempty"`
	Payload        string        `json:"payload,omitempty"`
	PatientSummary string        `json:"patient_summary,omitempty"`
}
