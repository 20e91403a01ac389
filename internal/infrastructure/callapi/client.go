// Package callapi talks to the external call-signaling server over HTTP:
// answer, decline, presence, and the pending-call polling fallback.
package callapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tvlink/internal/core/domain"
	"tvlink/pkg/circuitbreaker"
)

type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("call server circuit state changed", "from", from, "to", to)
	})
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type answerRequest struct {
	CallID string `json:"call_id"`
	Callee string `json:"callee"`
}

type answerResponse struct {
	RoomName string `json:"room_name"`
}

type declineRequest struct {
	CallID string `json:"call_id"`
	Callee string `json:"callee"`
}

type presenceRequest struct {
	Username   string `json:"username"`
	Status     string `json:"status"`
	SessionRef string `json:"session_ref,omitempty"`
}

type pendingResponse struct {
	Calls []struct {
		CallID    string    `json:"call_id"`
		Caller    string    `json:"caller"`
		Callee    string    `json:"callee"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"calls"`
}

// Answer accepts the call and returns the media room name assigned by the
// server.
func (c *Client) Answer(ctx context.Context, callID, callee string) (string, error) {
	var resp answerResponse
	err := c.post(ctx, "/calls/answer", answerRequest{CallID: callID, Callee: callee}, &resp)
	if err != nil {
		return "", fmt.Errorf("answer call %s: %w", callID, err)
	}
	if resp.RoomName == "" {
		return "", fmt.Errorf("answer call %s: server returned no room", callID)
	}
	return resp.RoomName, nil
}

func (c *Client) Decline(ctx context.Context, callID, callee string) error {
	if err := c.post(ctx, "/calls/decline", declineRequest{CallID: callID, Callee: callee}, nil); err != nil {
		return fmt.Errorf("decline call %s: %w", callID, err)
	}
	return nil
}

func (c *Client) UpdatePresence(ctx context.Context, p domain.Presence) error {
	req := presenceRequest{
		Username:   p.Identity,
		Status:     string(p.Status),
		SessionRef: p.SessionRef,
	}
	if err := c.post(ctx, "/calls/presence", req, nil); err != nil {
		return fmt.Errorf("update presence for %s: %w", p.Identity, err)
	}
	return nil
}

// PendingCalls is the polling fallback for environments where the push
// channel is unavailable.
func (c *Client) PendingCalls(ctx context.Context, username string) ([]*domain.Call, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/calls/pending/"+username, nil)
	if err != nil {
		return nil, fmt.Errorf("build pending request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pending calls for %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch pending calls for %s: unexpected status %d", username, resp.StatusCode)
	}

	var body pendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode pending calls: %w", err)
	}

	calls := make([]*domain.Call, 0, len(body.Calls))
	for _, raw := range body.Calls {
		calls = append(calls, &domain.Call{
			ID:        raw.CallID,
			Caller:    raw.Caller,
			Callee:    raw.Callee,
			Status:    domain.CallStatus(raw.Status),
			CreatedAt: raw.CreatedAt,
		})
	}
	return calls, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrCallNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do sends the request through the circuit breaker. Transport errors and 5xx
// responses count against the circuit; anything the server answered
// deliberately does not.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.breaker.Do(func() error {
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("server error: status %d", r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
