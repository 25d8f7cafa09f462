package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"clinic-frontdesk/internal/callctx"
	"clinic-frontdesk/internal/emr"
	"clinic-frontdesk/internal/llm"
	"clinic-frontdesk/internal/phone"
	"clinic-frontdesk/internal/telephony"
	"clinic-frontdesk/pkg"
)

// ErrDialogueStep marks a failed round trip to the dialogue completion
// service.  The session keeps its last consistent stage, so retrying the
// same message resumes at the same point.
var ErrDialogueStep = errors.New("convo: dialogue step failed")

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("convo: session not found")

// CallLogger persists call records; the row id becomes the unique
// suffix of the outbound context key.
type CallLogger interface {
	CreateCallLog(ctx context.Context, e *pkg.CallLogEntry) (int64, error)
}

// Machine drives conversation sessions through the booking flow.
type Machine struct {
	sessions   *SessionStore
	registry   emr.Client
	dialogue   llm.Client
	provider   telephony.Provider
	contexts   *callctx.Store
	logs       CallLogger
	clinicLine string
}

// NewMachine wires the state machine to its collaborators.  logs may be
// nil; a missing call log never blocks call setup.
func NewMachine(sessions *SessionStore, registry emr.Client, dialogue llm.Client,
	provider telephony.Provider, contexts *callctx.Store, logs CallLogger, clinicLine string) *Machine {
	return &Machine{
		sessions:   sessions,
		registry:   registry,
		dialogue:   dialogue,
		provider:   provider,
		contexts:   contexts,
		logs:       logs,
		clinicLine: clinicLine,
	}
}

// StartSession creates a session and returns it with the canned
// greeting already on the history.
func (m *Machine) StartSession(hospitalID string) (*Session, string) {
	s := m.sessions.Create(hospitalID)
	s.History = append(s.History, llm.Message{Role: "assistant", Content: GreetingMessage})
	return s, GreetingMessage
}

// Session exposes a live session for read access.
func (m *Machine) Session(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

// ProcessMessage runs one full conversation turn for the session.  Turns
// for the same session are serialized by the session's single-flight
// guard; different sessions proceed independently.
func (m *Machine) ProcessMessage(ctx context.Context, sessionID, text string) (string, error) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.UpdatedAt = time.Now() }()

	s.History = append(s.History, llm.Message{Role: "user", Content: text})

	if s.Stage != StageGreeting && s.Stage != StageConversationEnded && hasClosingIntent(text) {
		s.Stage = StageConversationEnded
		return m.canned(s, GoodbyeMessage), nil
	}

	switch s.Stage {
	case StageGreeting:
		if hasBookingIntent(text) {
			s.Intent = "booking"
		}
		s.Stage = StageAwaitingConfirmation
		return m.say(ctx, s, directiveAskRegistered)

	case StageAwaitingConfirmation:
		if isAffirmative(text) && !isNegative(text) {
			s.Stage = StageAwaitingPhone
			return m.say(ctx, s, directiveAskLookupPhone)
		}
		s.Stage = StageNewPatientRegistration
		s.expectedField = FieldFirstName
		return m.say(ctx, s, fmt.Sprintf(directiveAskField, FieldFirstName, FieldFirstName))

	case StageAwaitingPhone:
		return m.handlePhoneLookup(ctx, s, text)

	case StageNewPatientRegistration:
		return m.handleRegistration(ctx, s, text)

	case StagePatientFound, StagePatientCreated:
		if hasBookingIntent(text) || s.Intent == "booking" || isAffirmative(text) {
			s.Stage = StageBookingAppointment
			s.Appointment.CollectionStage = CollectWhoFor
			return m.handleBooking(ctx, s, text)
		}
		return m.say(ctx, s, directiveOfferBooking)

	case StageBookingAppointment:
		return m.handleBooking(ctx, s, text)

	case StageCallInitiated:
		// The one outbound call for this session has been placed;
		// collection logic stays off for good.
		return m.canned(s, CallPlacedMessage), nil

	case StageConversationEnded:
		return m.canned(s, GoodbyeMessage), nil
	}
	return "", fmt.Errorf("convo: session %s in unknown stage %q", s.ID, s.Stage)
}

// UpdateCallOutcome feeds an asynchronous call-status update back into
// the session linked to the outbound call.
func (m *Machine) UpdateCallOutcome(sessionID string, status pkg.CallStatus) error {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallOutcome = &status
	s.UpdatedAt = time.Now()
	return nil
}

func (m *Machine) handlePhoneLookup(ctx context.Context, s *Session, text string) (string, error) {
	number, ok := extractPhone(text)
	if !ok {
		return m.say(ctx, s, directiveRepeatPhone)
	}
	var patient *emr.Patient
	for _, candidate := range phone.Variations(number) {
		p, err := m.registry.FindPatientByPhone(ctx, candidate)
		if err != nil {
			if errors.Is(err, emr.ErrNotFound) {
				continue
			}
			return "", err
		}
		patient = p
		break
	}
	if patient == nil {
		s.Stage = StageNewPatientRegistration
		s.Patient.Phone = number
		s.expectedField = FieldFirstName
		return m.say(ctx, s, directivePatientNotFound)
	}
	s.Stage = StagePatientFound
	s.PatientID = patient.ID
	s.Patient = PatientData{
		FirstName:      patient.FirstName,
		LastName:       patient.LastName,
		Phone:          patient.Phone,
		Email:          patient.Email,
		Age:            patient.Age,
		Gender:         patient.Gender,
		ExistingRecord: true,
	}
	if patient.BirthDate != nil {
		s.Patient.DateOfBirth = patient.BirthDate.Format("2006-01-02")
	}
	return m.say(ctx, s, fmt.Sprintf(directivePatientFound, patient.FirstName))
}

// handleRegistration interprets each user message as the answer to
// whichever field was last asked for: the explicit expectedField tag
// when set, otherwise a scan of the previous assistant prompt, and as a
// last resort an extraction request against the dialogue service.
func (m *Machine) handleRegistration(ctx context.Context, s *Session, text string) (string, error) {
	field := s.expectedField
	if field == "" {
		field = detectAskedField(lastAssistant(s.History))
	}
	if field != "" {
		s.Patient.set(field, text)
	} else {
		vals, err := m.dialogue.Extract(ctx, s.History, s.Patient.Missing())
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDialogueStep, err)
		}
		for f, v := range vals {
			s.Patient.set(f, v)
		}
	}
	s.expectedField = ""

	// The moment the four critical fields exist, create the record.
	// The guard is flipped before the call so an overlapping next turn
	// can never submit a duplicate, and it stays set regardless of
	// outcome: creation happens at most once per session.
	if s.Patient.CriticalComplete() && !s.patientCreationAttempted {
		s.patientCreationAttempted = true
		created, err := m.registry.CreatePatient(ctx, &emr.Patient{
			FirstName: s.Patient.FirstName,
			LastName:  s.Patient.LastName,
			Phone:     s.Patient.Phone,
			Email:     s.Patient.Email,
			Age:       s.Patient.Age,
			Gender:    s.Patient.Gender,
		})
		if err != nil {
			log.Printf("session %s: patient creation failed: %v", s.ID, err)
			return m.say(ctx, s, directiveCreateFailed)
		}
		s.PatientID = created.ID
		s.Stage = StagePatientCreated
		return m.say(ctx, s, directiveRegistered)
	}

	missing := s.Patient.Missing()
	if len(missing) == 0 || s.patientCreationAttempted {
		// Record handled already (or creation burned its one shot).
		return m.say(ctx, s, directiveOfferBooking)
	}
	next := missing[0]
	s.expectedField = next
	return m.say(ctx, s, fmt.Sprintf(directiveAskField, next, next))
}

func (m *Machine) handleBooking(ctx context.Context, s *Session, text string) (string, error) {
	a := &s.Appointment
	switch a.CollectionStage {
	case CollectWhoFor, "":
		switch {
		case isForFamily(text):
			a.WhoFor = ForOther
			a.CollectionStage = CollectFamilyDetails
			return m.say(ctx, s, directiveAskFamilyDetails)
		case isForSelf(text):
			m.prefillSelf(s)
			return m.askNextAppointmentField(ctx, s)
		default:
			return m.say(ctx, s, directiveAskWhoFor)
		}

	case CollectFamilyDetails:
		a.PatientName = strings.TrimSpace(text)
		a.Relationship = firstFamilyWord(text)
		a.CallbackNumber = s.Patient.Phone
		return m.askNextAppointmentField(ctx, s)

	case CollectDoctor:
		a.Doctor = strings.TrimSpace(text)
		// Canonicalize against the registry when the doctor is known
		// there; an unknown name is kept as spoken.
		if pr, err := m.registry.FindPractitionerByName(ctx, a.Doctor); err == nil && pr.Name != "" {
			a.Doctor = pr.Name
		}
		return m.askNextAppointmentField(ctx, s)
	case CollectDate:
		a.Date = strings.TrimSpace(text)
		return m.askNextAppointmentField(ctx, s)
	case CollectTime:
		a.Time = strings.TrimSpace(text)
		return m.askNextAppointmentField(ctx, s)
	case CollectReason:
		a.Reason = strings.TrimSpace(text)
		return m.askNextAppointmentField(ctx, s)

	case CollectConfirm:
		if isNegative(text) {
			return m.say(ctx, s, directiveChangeDetail)
		}
		if isAffirmative(text) {
			return m.placeBookingCall(ctx, s)
		}
		return m.say(ctx, s, directiveClarifyConfirm)
	}
	return m.say(ctx, s, directiveAskWhoFor)
}

func (m *Machine) prefillSelf(s *Session) {
	a := &s.Appointment
	a.WhoFor = ForSelf
	a.PatientName = strings.TrimSpace(s.Patient.FirstName + " " + s.Patient.LastName)
	a.CallbackNumber = s.Patient.Phone
}

// askNextAppointmentField advances the collection pointer to the next
// missing field and prompts for exactly that one.  Fields already
// present are never re-requested.
func (m *Machine) askNextAppointmentField(ctx context.Context, s *Session) (string, error) {
	a := &s.Appointment
	next := a.nextMissing()
	a.CollectionStage = next
	switch next {
	case CollectDoctor:
		return m.say(ctx, s, directiveAskDoctor)
	case CollectDate:
		return m.say(ctx, s, directiveAskDate)
	case CollectTime:
		return m.say(ctx, s, directiveAskTime)
	case CollectReason:
		return m.say(ctx, s, directiveAskReason)
	default:
		return m.say(ctx, s, fmt.Sprintf(directiveConfirm, a.Doctor, a.Date, a.Time, a.Reason))
	}
}

// placeBookingCall looks up the hospital routing number, writes the
// call log and context record, and places the outbound call.  The
// callAttempted guard flips only on success so a failed placement can
// be retried with another confirmation; once set, this session never
// places a second call.
func (m *Machine) placeBookingCall(ctx context.Context, s *Session) (string, error) {
	if s.callAttempted {
		return m.canned(s, CallPlacedMessage), nil
	}
	if !s.Appointment.ReadyToCall() {
		return m.askNextAppointmentField(ctx, s)
	}

	org, err := m.registry.GetOrganization(ctx, s.HospitalID)
	if err != nil {
		log.Printf("session %s: organization %q lookup failed: %v", s.ID, s.HospitalID, err)
		return m.say(ctx, s, directiveRouteMissing)
	}
	if org.PhoneNumber == "" {
		// No routing number means no call; fatal for this request.
		log.Printf("session %s: organization %q has no phone number", s.ID, s.HospitalID)
		return m.say(ctx, s, directiveRouteMissing)
	}

	contextKey, logID := m.mintContextKey(ctx, s, org)
	cc := &pkg.CallContext{
		Direction:  pkg.DirectionOutbound,
		ContextKey: contextKey,
		LogID:      logID,
		HospitalID: s.HospitalID,
		From:       m.clinicLine,
		To:         org.PhoneNumber,
		CallType:   pkg.CallTypeBooking,
		SessionID:  s.ID,
		Status:     pkg.StatusInProgress,
		Metadata: map[string]string{
			"doctor": s.Appointment.Doctor,
			"date":   s.Appointment.Date,
			"time":   s.Appointment.Time,
			"reason": s.Appointment.Reason,
		},
		CreatedAt: time.Now(),
	}
	if s.PatientID != "" {
		pid := s.PatientID
		cc.PatientID = &pid
	}
	m.contexts.Put(contextKey, cc)

	providerCallID, err := m.provider.PlaceCall(ctx, org.PhoneNumber, contextKey)
	if err != nil {
		log.Printf("session %s: outbound call failed: %v", s.ID, err)
		return m.say(ctx, s, directiveCallFailed)
	}
	if err := m.contexts.Alias(contextKey, providerCallID); err == nil {
		_ = m.contexts.Update(contextKey, func(c *pkg.CallContext) {
			c.ProviderCallID = providerCallID
		})
	}
	s.callAttempted = true
	s.Stage = StageCallInitiated
	return m.say(ctx, s, directiveCallPlaced)
}

// mintContextKey writes the call log and derives the context key from
// the row id.  A logging failure falls back to a time-based key and
// never blocks call setup.
func (m *Machine) mintContextKey(ctx context.Context, s *Session, org *emr.Organization) (string, int64) {
	if m.logs == nil {
		return callctx.FallbackKey(pkg.DirectionOutbound), 0
	}
	payload, _ := json.Marshal(s.Appointment)
	id, err := m.logs.CreateCallLog(ctx, &pkg.CallLogEntry{
		Direction: pkg.DirectionOutbound,
		From:      m.clinicLine,
		To:        org.PhoneNumber,
		Status:    pkg.StatusInProgress,
		Payload:   string(payload),
	})
	if err != nil {
		log.Printf("session %s: call log write failed: %v", s.ID, err)
		return callctx.FallbackKey(pkg.DirectionOutbound), 0
	}
	return callctx.KeyFromLogID(pkg.DirectionOutbound, id), id
}

// say asks the dialogue service to phrase the next utterance and records
// it on the history.
func (m *Machine) say(ctx context.Context, s *Session, directive string) (string, error) {
	reply, err := m.dialogue.Complete(ctx, s.History, SystemInstruction+"\n\n"+directive)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDialogueStep, err)
	}
	s.History = append(s.History, llm.Message{Role: "assistant", Content: reply})
	return reply, nil
}

// canned records a fixed utterance without a dialogue-service round trip.
func (m *Machine) canned(s *Session, text string) string {
	s.History = append(s.History, llm.Message{Role: "assistant", Content: text})
	return text
}

func lastAssistant(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return history[i].Content
		}
	}
	return ""
}

func firstFamilyWord(msg string) string {
	t := strings.ToLower(msg)
	for _, w := range familyWords {
		if strings.Contains(t, w) {
			return w
		}
	}
	return "family"
}

// set stores a raw answer into the named registration field.
func (p *PatientData) set(field, raw string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	switch field {
	case FieldFirstName:
		p.FirstName = v
	case FieldLastName:
		p.LastName = v
	case FieldEmail:
		p.Email = v
	case FieldPhone:
		if n, ok := extractPhone(v); ok {
			p.Phone = n
		} else {
			p.Phone = v
		}
	case FieldAge:
		if n, err := strconv.Atoi(strings.TrimFunc(v, func(r rune) bool { return r < '0' || r > '9' })); err == nil {
			p.Age = n
		}
	case FieldGender:
		p.Gender = strings.ToLower(v)
	case FieldDateOfBirth:
		p.DateOfBirth = v
	}
}
