package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clinic-frontdesk/internal/callctx"
	"clinic-frontdesk/internal/convo"
	"clinic-frontdesk/internal/emr"
	"clinic-frontdesk/internal/telephony"
	"clinic-frontdesk/pkg"
)

// handleInboundCall answers the provider webhook fired when someone
// dials the clinic.  It mints a context record keyed by the call-log
// row, aliases it under the provider's call id, and returns the markup
// that attaches the audio stream for the rest of the call.
func (s *Server) handleInboundCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")
	callSid := r.PostFormValue("CallSid")
	if from == "" {
		writeError(w, http.StatusBadRequest, "missing From")
		return
	}

	key, logID := s.mintKey(r, pkg.DirectionInbound, from, to, "")
	cc := &pkg.CallContext{
		Direction:  pkg.DirectionInbound,
		ContextKey: key,
		LogID:      logID,
		HospitalID: s.HospitalID,
		From:       from,
		To:         to,
		CallType:   pkg.CallTypeGeneral,
		Status:     pkg.StatusInProgress,
		CreatedAt:  time.Now(),
	}

	// Pre-resolve the caller by number so the dialogue can greet a known
	// patient by name.  A miss just means verification happens later.
	if s.Verifier != nil {
		if p, err := s.Verifier.ResolvePhone(r.Context(), from); err == nil {
			pid := p.ID
			cc.PatientID = &pid
		} else if !errors.Is(err, emr.ErrNotFound) {
			log.Printf("inbound %s: caller lookup failed: %v", key, err)
		}
	}

	s.Contexts.Put(key, cc)
	if callSid != "" {
		if err := s.Contexts.Alias(key, callSid); err == nil {
			_ = s.Contexts.Update(key, func(c *pkg.CallContext) {
				c.ProviderCallID = callSid
			})
		}
	}

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(telephony.StreamResponse(s.PublicBaseURL, key)))
}

// handleOutboundCall places a provider-initiated call on request, e.g.
// an appointment reminder or follow-up triggered by a scheduler.
func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req pkg.OutboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phone_number is required")
		return
	}
	callType := req.CallType
	if callType == "" {
		callType = pkg.CallTypeGeneral
	}
	hospitalID := req.HospitalID
	if hospitalID == "" {
		hospitalID = s.HospitalID
	}

	// Reminder and follow-up calls carry an appointment reference; pull
	// the visit details so the voice leg can speak them.  Best effort.
	if req.AppointmentID != "" && s.Registry != nil {
		if appt, err := s.Registry.GetAppointment(r.Context(), req.AppointmentID); err == nil {
			if req.Metadata == nil {
				req.Metadata = map[string]string{}
			}
			req.Metadata["doctor"] = appt.Doctor
			req.Metadata["date"] = appt.Date
			req.Metadata["time"] = appt.Time
		} else {
			log.Printf("outbound: appointment %s lookup failed: %v", req.AppointmentID, err)
		}
	}

	payload, _ := json.Marshal(req)
	key, logID := s.mintKey(r, pkg.DirectionOutbound, s.ClinicLine, req.PhoneNumber, string(payload))
	cc := &pkg.CallContext{
		Direction:  pkg.DirectionOutbound,
		ContextKey: key,
		LogID:      logID,
		HospitalID: hospitalID,
		From:       s.ClinicLine,
		To:         req.PhoneNumber,
		CallType:   callType,
		SessionID:  req.SessionID,
		Status:     pkg.StatusInProgress,
		Metadata:   req.Metadata,
		CreatedAt:  time.Now(),
	}
	if req.PatientID != "" {
		pid := req.PatientID
		cc.PatientID = &pid
	}
	s.Contexts.Put(key, cc)

	providerCallID, err := s.Provider.PlaceCall(r.Context(), req.PhoneNumber, key)
	if err != nil {
		log.Printf("outbound %s: call placement failed: %v", key, err)
		writeError(w, http.StatusBadGateway, "call placement failed")
		return
	}
	if err := s.Contexts.Alias(key, providerCallID); err == nil {
		_ = s.Contexts.Update(key, func(c *pkg.CallContext) {
			c.ProviderCallID = providerCallID
		})
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"context_key":      key,
		"provider_call_id": providerCallID,
	})
}

// handleStatusCallback ingests the provider's asynchronous call-status
// updates.  Side effects past the context update are best-effort: a
// failed log write or notification is logged and swallowed so the
// provider never retries the webhook.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	cb := parseStatusCallback(r)
	if cb.ProviderCallID == "" {
		writeError(w, http.StatusBadRequest, "missing call id")
		return
	}
	status := telephony.MapStatus(cb.CallStatus)

	cc, ok := s.Contexts.Get(cb.ProviderCallID)
	if !ok {
		// Status for a call this process never saw; acknowledge anyway.
		log.Printf("status callback for unknown call %s (%s)", cb.ProviderCallID, cb.CallStatus)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_ = s.Contexts.Update(cb.ProviderCallID, func(c *pkg.CallContext) {
		c.Status = status
		if cb.DurationSeconds > 0 {
			c.DurationSeconds = cb.DurationSeconds
		}
	})

	if s.Logs != nil && cc.LogID != 0 {
		if err := s.Logs.UpdateCallStatus(r.Context(), cc.LogID, status, cb.DurationSeconds); err != nil {
			log.Printf("call %s: status persist failed: %v", cb.ProviderCallID, err)
		}
	}
	if s.Notifier != nil && cc.LogID != 0 {
		if err := s.Notifier.NotifyCallStatus(r.Context(), cc.LogID, string(status)); err != nil {
			log.Printf("call %s: status notify failed: %v", cb.ProviderCallID, err)
		}
	}

	sessionID := cc.SessionID
	if sessionID == "" {
		sessionID = cb.SessionID
	}
	if sessionID != "" {
		if err := s.Machine.UpdateCallOutcome(sessionID, status); err != nil {
			log.Printf("call %s: outcome update failed: %v", cb.ProviderCallID, err)
		}
		if telephony.IsTerminal(status) {
			s.attachSummary(sessionID, cc.LogID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// attachSummary writes the post-call summary onto the call log in the
// background; the webhook response never waits on the dialogue service.
func (s *Server) attachSummary(sessionID string, logID int64) {
	if s.Summarizer == nil || s.Logs == nil || logID == 0 {
		return
	}
	sess, ok := s.Machine.Session(sessionID)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		summary := s.Summarizer.Summarize(ctx, sess)
		if err := s.Logs.AttachPatientSummary(ctx, logID, summary); err != nil {
			log.Printf("session %s: summary attach failed: %v", sessionID, err)
		}
	}()
}

// parseStatusCallback accepts both the provider's form encoding and the
// service's own JSON shape.
func parseStatusCallback(r *http.Request) pkg.StatusCallback {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var cb pkg.StatusCallback
		_ = json.NewDecoder(r.Body).Decode(&cb)
		return cb
	}
	_ = r.ParseForm()
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	return pkg.StatusCallback{
		ProviderCallID:  r.PostFormValue("CallSid"),
		CallStatus:      r.PostFormValue("CallStatus"),
		DurationSeconds: duration,
		SessionID:       r.PostFormValue("SessionId"),
	}
}

type verifyRequest struct {
	ContextKey string `json:"context_key"`
	SpokenName string `json:"spoken_name"`
}

// handleVerifyCaller resolves who is on the line once the caller has
// said their name.  The speech pipeline calls this with the context key
// from the stream it is serving.
func (s *Server) handleVerifyCaller(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContextKey == "" {
		writeError(w, http.StatusBadRequest, "context_key is required")
		return
	}
	cc, ok := s.Contexts.Get(req.ContextKey)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown context key")
		return
	}
	res, err := s.Verifier.VerifyByName(r.Context(), cc.From, req.SpokenName)
	if err != nil {
		log.Printf("verify %s: %v", req.ContextKey, err)
		writeError(w, http.StatusBadGateway, "caller verification failed")
		return
	}
	if res.Verified && res.Patient != nil {
		_ = s.Contexts.Update(req.ContextKey, func(c *pkg.CallContext) {
			pid := res.Patient.ID
			c.PatientID = &pid
		})
	}
	resp := map[string]interface{}{
		"outcome":               res.Outcome,
		"verified":              res.Verified,
		"booking_mode":          res.BookingMode,
		"requires_registration": res.RequiresRegistration,
		"requires_relationship": res.RequiresRelationship,
	}
	if res.Patient != nil {
		resp["patient_id"] = res.Patient.ID
		resp["patient_name"] = res.Patient.FullName()
	}
	writeJSON(w, http.StatusOK, resp)
}

type relationshipRequest struct {
	ContextKey   string `json:"context_key"`
	CallerName   string `json:"caller_name"`
	Relationship string `json:"relationship"`
}

// handleVerifyRelationship authorizes a family member or caregiver to
// act for the patient attached to the call, creating the relationship
// record when one does not exist yet.
func (s *Server) handleVerifyRelationship(w http.ResponseWriter, r *http.Request) {
	var req relationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContextKey == "" {
		writeError(w, http.StatusBadRequest, "context_key is required")
		return
	}
	cc, ok := s.Contexts.Get(req.ContextKey)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown context key")
		return
	}
	if cc.PatientID == nil {
		writeError(w, http.StatusConflict, "no patient attached to this call")
		return
	}
	res, err := s.Verifier.VerifyRelationship(r.Context(), req.CallerName, cc.From, *cc.PatientID, req.Relationship)
	if err != nil {
		log.Printf("verify relationship %s: %v", req.ContextKey, err)
		writeError(w, http.StatusBadGateway, "relationship verification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authorized":     res.Authorized,
		"created":        res.RequiresCreation,
		"related_person": res.RelatedPerson,
	})
}

type createSessionRequest struct {
	HospitalID string `json:"hospital_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.HospitalID == "" {
		req.HospitalID = s.HospitalID
	}
	sess, greeting := s.Machine.StartSession(req.HospitalID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": sess.ID,
		"reply":      greeting,
		"stage":      string(sess.Stage),
	})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	reply, err := s.Machine.ProcessMessage(r.Context(), id, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, convo.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "unknown session")
		case errors.Is(err, convo.ErrDialogueStep):
			log.Printf("session %s: %v", id, err)
			writeError(w, http.StatusBadGateway, "the assistant is unavailable, please try again")
		default:
			log.Printf("session %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	sess, _ := s.Machine.Session(id)
	writeJSON(w, http.StatusOK, map[string]string{
		"reply": reply,
		"stage": string(sess.Stage),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.Machine.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	if s.Logs == nil {
		writeError(w, http.StatusServiceUnavailable, "call log not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.Logs.ListRecentCalls(r.Context(), limit)
	if err != nil {
		log.Printf("list recent calls: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	if s.Logs == nil {
		writeError(w, http.StatusServiceUnavailable, "call log not configured")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return
	}
	entry, err := s.Logs.GetCallLog(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no such call")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// mintKey writes the call-log row and derives the context key from its
// id; a logging failure falls back to a time-based key so webhook
// handling never blocks on the database.
func (s *Server) mintKey(r *http.Request, direction pkg.CallDirection, from, to, payload string) (string, int64) {
	if s.Logs == nil {
		return callctx.FallbackKey(direction), 0
	}
	id, err := s.Logs.CreateCallLog(r.Context(), &pkg.CallLogEntry{
		Direction: direction,
		From:      from,
		To:        to,
		Status:    pkg.StatusInProgress,
		Payload:   payload,
	})
	if err != nil {
		log.Printf("call log write failed: %v", err)
		return callctx.FallbackKey(direction), 0
	}
	return callctx.KeyFromLogID(direction, id), id
}
