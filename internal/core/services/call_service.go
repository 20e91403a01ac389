package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tvlink/internal/core/domain"
	"tvlink/internal/core/ports"
	"tvlink/internal/infrastructure/monitoring"
)

// CallConfig bounds the call lifecycle.
type CallConfig struct {
	Username     string
	RingTimeout  time.Duration
	PollInterval time.Duration
}

// CallService is the callee-side state machine for incoming calls. Display
// is a pure projection of Call state; the service never mutates UI except
// through a state transition. The first terminal transition on a call wins
// and every later signal for it is a no-op.
type CallService struct {
	cfg     CallConfig
	api     ports.SignalingAPI
	ui      ports.CallUI
	clock   clock.Clock
	logger  *zap.SugaredLogger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	calls      map[string]*domain.Call
	ringTimers map[string]*clock.Timer
	sessionRef string
	visible    bool
	closed     bool

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func NewCallService(cfg CallConfig, api ports.SignalingAPI, ui ports.CallUI, clk clock.Clock, logger *zap.SugaredLogger, metrics *monitoring.Metrics) *CallService {
	if clk == nil {
		clk = clock.New()
	}
	return &CallService{
		cfg:        cfg,
		api:        api,
		ui:         ui,
		clock:      clk,
		logger:     logger,
		metrics:    metrics,
		calls:      make(map[string]*domain.Call),
		ringTimers: make(map[string]*clock.Timer),
		visible:    true,
	}
}

// HandleIncoming registers a ringing call and shows the incoming-call
// surface. Re-delivery of a known call id is suppressed, whether it is still
// in flight or already finished, as is a second caller while another call is
// still ringing.
func (s *CallService) HandleIncoming(call *domain.Call) {
	if call == nil || call.ID == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if existing, ok := s.calls[call.ID]; ok {
		// Finished calls stay in the map as tombstones so a server that
		// still lists the call as pending cannot ring it again.
		status := existing.Status
		s.mu.Unlock()
		if status.Terminal() {
			s.logger.Debugw("ignoring redelivery of finished call",
				"call_id", call.ID, "status", status)
		} else {
			s.logger.Debugw("suppressing duplicate call signal", "call_id", call.ID)
		}
		return
	}
	for _, other := range s.calls {
		if other.ID != call.ID && other.Status == domain.CallRinging {
			s.mu.Unlock()
			s.logger.Infow("suppressing concurrent call while another rings",
				"call_id", call.ID, "ringing_call_id", other.ID)
			return
		}
	}

	ringing := &domain.Call{
		ID:        call.ID,
		Caller:    call.Caller,
		Callee:    call.Callee,
		Status:    domain.CallRinging,
		CreatedAt: call.CreatedAt,
	}
	if ringing.CreatedAt.IsZero() {
		ringing.CreatedAt = s.clock.Now()
	}
	s.calls[ringing.ID] = ringing

	callID := ringing.ID
	s.ringTimers[callID] = s.clock.AfterFunc(s.cfg.RingTimeout, func() {
		s.ringTimeout(callID)
	})
	s.mu.Unlock()

	s.logger.Infow("incoming call", "call_id", ringing.ID, "caller", ringing.Caller)
	s.ui.ShowIncomingCall(ringing)
}

// Answer accepts a ringing call. On signaling failure the call ends locally
// and the error surface is shown; the incoming-call surface never outlives
// the ringing state either way.
func (s *CallService) Answer(ctx context.Context, callID string) error {
	call, err := s.beginTransition(callID)
	if err != nil {
		return err
	}

	room, err := s.api.Answer(ctx, callID, call.Callee)
	if err != nil {
		s.finish(callID, domain.CallEnded)
		s.ui.ShowError(fmt.Sprintf("Could not join call from %s", call.Caller))
		return fmt.Errorf("answer call %s: %w", callID, err)
	}

	// The peer may have cancelled or ended on the socket while the answer
	// round-trip was in flight; the terminal transition stays final.
	s.mu.Lock()
	if call.Status.Terminal() {
		status := call.Status
		s.mu.Unlock()
		s.logger.Infow("call went terminal during answer, discarding room",
			"call_id", callID, "status", status, "room", room)
		return fmt.Errorf("%w: call %s is %s", domain.ErrCallTerminal, callID, status)
	}
	call.Status = domain.CallAnswered
	s.mu.Unlock()

	s.logger.Infow("call answered", "call_id", callID, "room", room)
	s.ui.HideIncomingCall(callID)
	s.ui.StartVideo(room, call)
	return nil
}

// Decline rejects a ringing call. The local state goes terminal even when
// the signaling server cannot be reached.
func (s *CallService) Decline(ctx context.Context, callID string) error {
	call, err := s.beginTransition(callID)
	if err != nil {
		return err
	}

	apiErr := s.api.Decline(ctx, callID, call.Callee)
	s.finish(callID, domain.CallDeclined)

	if apiErr != nil {
		s.logger.Warnw("decline signal failed", "call_id", callID, "error", apiErr)
		return fmt.Errorf("decline call %s: %w", callID, apiErr)
	}
	s.logger.Infow("call declined", "call_id", callID)
	return nil
}

// HandleCancelled processes a caller-side hangup before the call was
// answered.
func (s *CallService) HandleCancelled(callID string) {
	if s.finish(callID, domain.CallCancelled) {
		s.logger.Infow("call cancelled by caller", "call_id", callID)
	}
}

// HandleEnded processes the remote end of an established call going away.
func (s *CallService) HandleEnded(callID string) {
	s.mu.Lock()
	call, ok := s.calls[callID]
	if !ok || call.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	call.Status = domain.CallEnded
	s.stopRingTimerLocked(callID)
	s.mu.Unlock()

	s.metrics.CallFinished(string(domain.CallEnded))
	s.logger.Infow("call ended", "call_id", callID)
	s.ui.HideIncomingCall(callID)
}

// HandleMessage is the sink for call-signaling frames arriving over the
// control channel.
func (s *CallService) HandleMessage(msg *domain.Message) {
	var payload struct {
		CallID string `json:"call_id"`
		Caller string `json:"caller"`
		Callee string `json:"callee"`
	}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.logger.Warnw("malformed call payload", "kind", msg.Kind, "error", err)
			return
		}
	}

	switch msg.Kind {
	case domain.KindIncomingCall:
		s.HandleIncoming(&domain.Call{
			ID:     payload.CallID,
			Caller: payload.Caller,
			Callee: payload.Callee,
		})
	case domain.KindCallCancelled:
		s.HandleCancelled(payload.CallID)
	case domain.KindCallEnded:
		s.HandleEnded(payload.CallID)
	default:
		s.logger.Debugw("ignoring non-call frame in call sink", "kind", msg.Kind)
	}
}

// StartPolling runs the pending-call fallback loop until StopPolling or
// Close. Polling coexists with the push channel; duplicate suppression makes
// re-delivery harmless.
func (s *CallService) StartPolling(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.pollCancel != nil {
		s.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	done := make(chan struct{})
	s.pollDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := s.clock.Ticker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
				s.pollOnce(pctx)
			}
		}
	}()
}

func (s *CallService) StopPolling() {
	s.mu.Lock()
	cancel := s.pollCancel
	done := s.pollDone
	s.pollCancel = nil
	s.pollDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *CallService) pollOnce(ctx context.Context) {
	calls, err := s.api.PendingCalls(ctx, s.cfg.Username)
	if err != nil {
		s.logger.Warnw("pending-call poll failed", "error", err)
		return
	}
	for _, call := range calls {
		if call.Status == domain.CallRinging {
			s.HandleIncoming(call)
		}
	}
}

// SetVisibility maps app visibility onto presence: a hidden receiver is
// away, a visible one online.
func (s *CallService) SetVisibility(ctx context.Context, visible bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	s.mu.Unlock()

	status := domain.PresenceOnline
	if !visible {
		status = domain.PresenceAway
	}
	s.publishPresence(ctx, status)
}

// SetSessionRef attaches the control-channel identifier to future presence
// updates.
func (s *CallService) SetSessionRef(ref string) {
	s.mu.Lock()
	s.sessionRef = ref
	s.mu.Unlock()
}

// Close goes offline: presence is withdrawn, the poll loop stops, and every
// ring timer is cancelled.
func (s *CallService) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for callID := range s.ringTimers {
		s.stopRingTimerLocked(callID)
	}
	s.mu.Unlock()

	s.StopPolling()
	s.publishPresence(ctx, domain.PresenceOffline)
}

// Calls returns a snapshot of known calls; ordering is unspecified.
func (s *CallService) Calls() []*domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Call, 0, len(s.calls))
	for _, call := range s.calls {
		copied := *call
		out = append(out, &copied)
	}
	return out
}

// beginTransition validates that the call exists and is still ringing, and
// cancels its ring timer so the timeout cannot race the explicit action.
func (s *CallService) beginTransition(callID string) (*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	if call.Status.Terminal() || call.Status == domain.CallAnswered {
		return nil, fmt.Errorf("%w: call %s is %s", domain.ErrCallTerminal, callID, call.Status)
	}
	s.stopRingTimerLocked(callID)
	return call, nil
}

// finish moves a call to a terminal status if it has not already reached
// one. Returns whether this transition was the first terminal one.
func (s *CallService) finish(callID string, status domain.CallStatus) bool {
	s.mu.Lock()
	call, ok := s.calls[callID]
	if !ok || call.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	call.Status = status
	s.stopRingTimerLocked(callID)
	s.mu.Unlock()

	s.metrics.CallFinished(string(status))
	s.ui.HideIncomingCall(callID)
	return true
}

func (s *CallService) ringTimeout(callID string) {
	if !s.finish(callID, domain.CallTimedOut) {
		return
	}
	s.logger.Infow("call timed out, auto-declining", "call_id", callID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.mu.Lock()
	call := s.calls[callID]
	s.mu.Unlock()
	if err := s.api.Decline(ctx, callID, call.Callee); err != nil {
		s.logger.Warnw("auto-decline signal failed", "call_id", callID, "error", err)
	}
}

func (s *CallService) stopRingTimerLocked(callID string) {
	if timer, ok := s.ringTimers[callID]; ok {
		timer.Stop()
		delete(s.ringTimers, callID)
	}
}

func (s *CallService) publishPresence(ctx context.Context, status domain.PresenceStatus) {
	s.mu.Lock()
	ref := s.sessionRef
	s.mu.Unlock()

	p := domain.Presence{Identity: s.cfg.Username, Status: status, SessionRef: ref}
	if err := s.api.UpdatePresence(ctx, p); err != nil {
		s.logger.Warnw("presence update failed", "status", status, "error", err)
	}
}
