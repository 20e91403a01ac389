package domain

import "time"

// CallStatus is the lifecycle state of a signaled call.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallDeclined  CallStatus = "declined"
	CallCancelled CallStatus = "cancelled"
	CallTimedOut  CallStatus = "timed_out"
	CallEnded     CallStatus = "ended"
)

// Terminal reports whether no further transitions are accepted from s.
// Answered is not terminal: an answered call still ends or is ended remotely.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallDeclined, CallCancelled, CallTimedOut, CallEnded:
		return true
	}
	return false
}

// Call is the call-signaling aggregate tracked per call identifier.
type Call struct {
	ID        string
	Caller    string
	Callee    string
	Status    CallStatus
	CreatedAt time.Time
}
