package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tvlink/internal/core/domain"
)

// statusResponse is the body of GET /status on a receiver. Classification
// keys on the device_type marker, never on HTTP status alone.
type statusResponse struct {
	DeviceType   string   `json:"device_type"`
	DeviceName   string   `json:"device_name"`
	AppName      string   `json:"app_name"`
	Version      string   `json:"version"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
}

// Prober issues one bounded-timeout health check against an address:port
// pair and classifies the response.
type Prober struct {
	client *http.Client
	logger *zap.SugaredLogger
}

func NewProber(timeout time.Duration, logger *zap.SugaredLogger) *Prober {
	return &Prober{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Probe checks whether host:port runs a receiver. It returns (nil, nil) for
// a clean non-match (unrelated service answered) and an error only for
// transport-level failures.
func (p *Prober) Probe(ctx context.Context, host string, port int) (*domain.Candidate, error) {
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+endpoint+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		// Something answered with non-JSON on a common port; not ours.
		return nil, nil
	}

	if st.DeviceType != domain.DeviceTypeMarker && st.AppName != "SmartTV" {
		p.logger.Debugw("probe hit unrelated service", "endpoint", endpoint, "device_type", st.DeviceType)
		return nil, nil
	}

	name := st.DeviceName
	if name == "" {
		name = fmt.Sprintf("SmartTV (%s)", host)
	}

	return &domain.Candidate{
		ID:           domain.CandidateIdentity(st.DeviceName, host, port),
		Name:         name,
		Address:      host,
		Port:         port,
		Capabilities: st.Capabilities,
		Version:      st.Version,
		Method:       domain.MethodActive,
		LastSeen:     time.Now(),
	}, nil
}
