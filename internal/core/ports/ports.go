package ports

import (
	"context"

	"tvlink/internal/core/domain"
)

// CommandExecutor is the receiver-side input/UI layer. The dispatcher only
// routes; execution side effects live behind this interface.
type CommandExecutor interface {
	Navigate(page string) error
	Activate(selector string) error
	Input(selector, value string) error
	KeyPress(key string) error
	Volume(action string) error
	AppState() (domain.AppState, error)
}

// CallUI is the display layer for call signaling. Implementations must be
// cheap and non-blocking; the state machine treats display as a pure side
// effect of Call state.
type CallUI interface {
	ShowIncomingCall(call *domain.Call)
	HideIncomingCall(callID string)
	StartVideo(room string, call *domain.Call)
	ShowError(message string)
}

// SignalingAPI is the HTTP collaborator that owns call setup and presence.
type SignalingAPI interface {
	Answer(ctx context.Context, callID, callee string) (room string, err error)
	Decline(ctx context.Context, callID, callee string) error
	UpdatePresence(ctx context.Context, p domain.Presence) error
	PendingCalls(ctx context.Context, username string) ([]*domain.Call, error)
}

// CandidateStore remembers previously discovered devices so quick scans can
// seed from historically likely addresses.
type CandidateStore interface {
	Save(ctx context.Context, c *domain.Candidate) error
	List(ctx context.Context) ([]*domain.Candidate, error)
	Remove(ctx context.Context, id domain.CandidateID) error
}
