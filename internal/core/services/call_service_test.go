package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tvlink/internal/core/domain"
	"tvlink/pkg/logger"
)

type mockSignalingAPI struct {
	mock.Mock
}

func (m *mockSignalingAPI) Answer(ctx context.Context, callID, callee string) (string, error) {
	args := m.Called(ctx, callID, callee)
	return args.String(0), args.Error(1)
}

func (m *mockSignalingAPI) Decline(ctx context.Context, callID, callee string) error {
	args := m.Called(ctx, callID, callee)
	return args.Error(0)
}

func (m *mockSignalingAPI) UpdatePresence(ctx context.Context, p domain.Presence) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockSignalingAPI) PendingCalls(ctx context.Context, username string) ([]*domain.Call, error) {
	args := m.Called(ctx, username)
	if calls := args.Get(0); calls != nil {
		return calls.([]*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCallUI struct {
	mock.Mock
}

func (m *mockCallUI) ShowIncomingCall(call *domain.Call) { m.Called(call) }
func (m *mockCallUI) HideIncomingCall(callID string)     { m.Called(callID) }
func (m *mockCallUI) StartVideo(room string, call *domain.Call) {
	m.Called(room, call)
}
func (m *mockCallUI) ShowError(message string) { m.Called(message) }

func newTestCallService(t *testing.T) (*CallService, *mockSignalingAPI, *mockCallUI, *clock.Mock) {
	t.Helper()
	api := &mockSignalingAPI{}
	ui := &mockCallUI{}
	clk := clock.NewMock()
	svc := NewCallService(CallConfig{
		Username:     "tv-user",
		RingTimeout:  30 * time.Second,
		PollInterval: 3 * time.Second,
	}, api, ui, clk, logger.Nop(), nil)
	return svc, api, ui, clk
}

func ringingCall(id, caller string) *domain.Call {
	return &domain.Call{ID: id, Caller: caller, Callee: "tv-user"}
}

func statusOf(t *testing.T, svc *CallService, callID string) domain.CallStatus {
	t.Helper()
	for _, c := range svc.Calls() {
		if c.ID == callID {
			return c.Status
		}
	}
	t.Fatalf("call %s not found", callID)
	return ""
}

func TestIncomingCallShowsSurface(t *testing.T) {
	svc, _, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))

	ui.AssertExpectations(t)
	assert.Equal(t, domain.CallRinging, statusOf(t, svc, "c1"))
}

func TestDuplicateSignalSuppressed(t *testing.T) {
	svc, _, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	svc.HandleIncoming(ringingCall("c1", "alice"))
	svc.HandleIncoming(ringingCall("c1", "alice"))

	ui.AssertNumberOfCalls(t, "ShowIncomingCall", 1)
}

func TestConcurrentCallerSuppressedWhileRinging(t *testing.T) {
	svc, _, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	svc.HandleIncoming(ringingCall("c2", "bob"))

	ui.AssertNumberOfCalls(t, "ShowIncomingCall", 1)
	assert.Len(t, svc.Calls(), 1)
}

func TestAnswerStartsVideo(t *testing.T) {
	svc, api, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()
	ui.On("StartVideo", "room-7", mock.Anything).Once()
	api.On("Answer", mock.Anything, "c1", "tv-user").Return("room-7", nil).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	require.NoError(t, svc.Answer(context.Background(), "c1"))

	api.AssertExpectations(t)
	ui.AssertExpectations(t)
	assert.Equal(t, domain.CallAnswered, statusOf(t, svc, "c1"))
}

func TestAnswerFailureEndsCallLocally(t *testing.T) {
	svc, api, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()
	ui.On("ShowError", mock.Anything).Once()
	api.On("Answer", mock.Anything, "c1", "tv-user").Return("", errors.New("signaling down")).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	require.Error(t, svc.Answer(context.Background(), "c1"))

	assert.Equal(t, domain.CallEnded, statusOf(t, svc, "c1"))
	assert.ErrorIs(t, svc.Answer(context.Background(), "c1"), domain.ErrCallTerminal)
	ui.AssertExpectations(t)
}

func TestEndDuringAnswerStaysEnded(t *testing.T) {
	svc, api, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()
	// The peer hangs up on the socket while the answer round-trip is still
	// in flight.
	api.On("Answer", mock.Anything, "c1", "tv-user").Return("room-7", nil).Once().Run(func(mock.Arguments) {
		svc.HandleEnded("c1")
	})

	svc.HandleIncoming(ringingCall("c1", "alice"))
	assert.ErrorIs(t, svc.Answer(context.Background(), "c1"), domain.ErrCallTerminal)

	assert.Equal(t, domain.CallEnded, statusOf(t, svc, "c1"))
	ui.AssertNotCalled(t, "StartVideo", mock.Anything, mock.Anything)
	ui.AssertNumberOfCalls(t, "HideIncomingCall", 1)
}

func TestDeclineIsTerminalEvenWhenSignalFails(t *testing.T) {
	svc, api, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()
	api.On("Decline", mock.Anything, "c1", "tv-user").Return(errors.New("signaling down")).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	require.Error(t, svc.Decline(context.Background(), "c1"))

	assert.Equal(t, domain.CallDeclined, statusOf(t, svc, "c1"))
}

func TestFinishedCallRedeliverySuppressed(t *testing.T) {
	svc, api, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()
	api.On("Decline", mock.Anything, "c1", "tv-user").Return(errors.New("signaling down")).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	require.Error(t, svc.Decline(context.Background(), "c1"))

	// The server still lists the call as pending after the failed decline;
	// poll re-delivery must not ring it again.
	svc.HandleIncoming(ringingCall("c1", "alice"))
	svc.HandleIncoming(ringingCall("c1", "alice"))

	assert.Equal(t, domain.CallDeclined, statusOf(t, svc, "c1"))
	ui.AssertNumberOfCalls(t, "ShowIncomingCall", 1)
}

func TestRingTimeoutAutoDeclines(t *testing.T) {
	svc, api, ui, clk := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()
	declined := make(chan struct{})
	api.On("Decline", mock.Anything, "c1", "tv-user").Return(nil).Once().Run(func(mock.Arguments) {
		close(declined)
	})

	svc.HandleIncoming(ringingCall("c1", "alice"))
	clk.Add(30 * time.Second)

	select {
	case <-declined:
	case <-time.After(2 * time.Second):
		t.Fatal("ring timeout never auto-declined")
	}
	assert.Equal(t, domain.CallTimedOut, statusOf(t, svc, "c1"))
	ui.AssertExpectations(t)
}

func TestAnswerCancelsRingTimer(t *testing.T) {
	svc, api, ui, clk := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()
	ui.On("StartVideo", "room-7", mock.Anything).Once()
	api.On("Answer", mock.Anything, "c1", "tv-user").Return("room-7", nil).Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	require.NoError(t, svc.Answer(context.Background(), "c1"))

	// Advancing past the ring window must not demote the answered call.
	clk.Add(time.Minute)
	assert.Equal(t, domain.CallAnswered, statusOf(t, svc, "c1"))
	api.AssertNotCalled(t, "Decline", mock.Anything, mock.Anything, mock.Anything)
}

func TestFirstTerminalTransitionWins(t *testing.T) {
	svc, _, ui, clk := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()

	svc.HandleIncoming(ringingCall("c1", "alice"))
	svc.HandleCancelled("c1")
	svc.HandleEnded("c1")
	clk.Add(time.Minute)

	assert.Equal(t, domain.CallCancelled, statusOf(t, svc, "c1"))
	ui.AssertNumberOfCalls(t, "HideIncomingCall", 1)
	assert.ErrorIs(t, svc.Answer(context.Background(), "c1"), domain.ErrCallTerminal)
}

func TestAnswerUnknownCall(t *testing.T) {
	svc, _, _, _ := newTestCallService(t)
	assert.ErrorIs(t, svc.Answer(context.Background(), "nope"), domain.ErrCallNotFound)
}

func TestCallSinkRoutesFrames(t *testing.T) {
	svc, _, ui, _ := newTestCallService(t)
	ui.On("ShowIncomingCall", mock.Anything).Once()
	ui.On("HideIncomingCall", "c1").Once()

	svc.HandleMessage(&domain.Message{
		Kind:    domain.KindIncomingCall,
		Payload: []byte(`{"call_id":"c1","caller":"alice","callee":"tv-user"}`),
	})
	assert.Equal(t, domain.CallRinging, statusOf(t, svc, "c1"))

	svc.HandleMessage(&domain.Message{
		Kind:    domain.KindCallCancelled,
		Payload: []byte(`{"call_id":"c1"}`),
	})
	assert.Equal(t, domain.CallCancelled, statusOf(t, svc, "c1"))
}

func TestPollingPicksUpRingingCalls(t *testing.T) {
	svc, api, ui, clk := newTestCallService(t)
	shown := make(chan struct{})
	ui.On("ShowIncomingCall", mock.Anything).Once().Run(func(mock.Arguments) {
		close(shown)
	})
	api.On("PendingCalls", mock.Anything, "tv-user").Return([]*domain.Call{
		{ID: "c1", Caller: "alice", Callee: "tv-user", Status: domain.CallRinging},
	}, nil)

	svc.StartPolling(context.Background())
	defer svc.StopPolling()

	time.Sleep(20 * time.Millisecond) // let the poll loop arm its ticker
	clk.Add(3 * time.Second)

	select {
	case <-shown:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never surfaced the ringing call")
	}
}

func TestVisibilityDrivesPresence(t *testing.T) {
	svc, api, _, _ := newTestCallService(t)
	svc.SetSessionRef("sess-1")

	api.On("UpdatePresence", mock.Anything, domain.Presence{
		Identity: "tv-user", Status: domain.PresenceAway, SessionRef: "sess-1",
	}).Return(nil).Once()
	svc.SetVisibility(context.Background(), false)

	api.On("UpdatePresence", mock.Anything, domain.Presence{
		Identity: "tv-user", Status: domain.PresenceOnline, SessionRef: "sess-1",
	}).Return(nil).Once()
	svc.SetVisibility(context.Background(), true)

	api.AssertExpectations(t)
}

func TestCloseWithdrawsPresenceAndIgnoresLateSignals(t *testing.T) {
	svc, api, ui, _ := newTestCallService(t)
	api.On("UpdatePresence", mock.Anything, domain.Presence{
		Identity: "tv-user", Status: domain.PresenceOffline,
	}).Return(nil).Once()

	svc.Close(context.Background())
	svc.HandleIncoming(ringingCall("c1", "alice"))

	api.AssertExpectations(t)
	ui.AssertNotCalled(t, "ShowIncomingCall", mock.Anything)
	assert.Empty(t, svc.Calls())
}
