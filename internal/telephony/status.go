package telephony

import "clinic-frontdesk/pkg"

// MapStatus translates a provider call-status string into the normalized
// vocabulary.  Unknown and in-flight values map to in-progress so a junk
// callback never terminates a call record.
func MapStatus(provider string) pkg.CallStatus {
	switch provider {
	case "completed", "answered":
		return pkg.StatusAnswered
	case "busy":
		return pkg.StatusBusy
	case "no-answer":
		return pkg.StatusNoAnswer
	case "failed":
		return pkg.StatusFailed
	case "canceled":
		return pkg.StatusCanceled
	default:
		// queued, initiated, ringing, in-progress, anything unexpected
		return pkg.StatusInProgress
	}
}

// IsTerminal reports whether a status ends the call lifecycle.
func IsTerminal(s pkg.CallStatus) bool {
	return s != pkg.StatusInProgress
}
