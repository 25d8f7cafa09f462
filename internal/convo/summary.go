package convo

import (
	"context"
	"strings"

	"clinic-frontdesk/internal/llm"
)

// summaryInstruction steers the post-call summary written onto the
// call log record.
const summaryInstruction = "Summarize this front-desk conversation for the clinic record in " +
	"under 120 words of plain English: who called, who the appointment is for, " +
	"the doctor, date, time and reason if collected, and how the conversation ended. " +
	"No medical advice, no speculation."

// Summarizer condenses a finished conversation into the patient summary
// attached to its call log entry.
type Summarizer struct {
	LLM llm.Client
}

func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{LLM: client}
}

// Summarize produces the call-record summary for a session.  On a
// dialogue-service failure it falls back to a terse line built from the
// collected fields, since a summary is a non-critical side effect.
func (sm *Summarizer) Summarize(ctx context.Context, s *Session) string {
	text, err := sm.LLM.Complete(ctx, s.History, summaryInstruction)
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	var b strings.Builder
	b.WriteString("Front desk call")
	if s.Appointment.PatientName != "" {
		b.WriteString(" for " + s.Appointment.PatientName)
	}
	if s.Appointment.Doctor != "" {
		b.WriteString(", booking with " + s.Appointment.Doctor)
	}
	if s.Appointment.Date != "" {
		b.WriteString(" on " + s.Appointment.Date)
	}
	if s.Appointment.Time != "" {
		b.WriteString(" at " + s.Appointment.Time)
	}
	if s.Appointment.Reason != "" {
		b.WriteString(" (" + s.Appointment.Reason + ")")
	}
	b.WriteString(".")
	return b.String()
}
