package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvlink/internal/core/domain"
	"tvlink/pkg/logger"
)

func serverHostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestProbeMatchesOnDeviceMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"device_type":"smarttv","device_name":"LivingRoom","version":"1.2.0","capabilities":["navigation"]}`))
	}))
	defer srv.Close()

	host, port := serverHostPort(t, srv)
	p := NewProber(2*time.Second, logger.Nop())

	cand, err := p.Probe(context.Background(), host, port)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, domain.CandidateID("LivingRoom"), cand.ID)
	assert.Equal(t, "LivingRoom", cand.Name)
	assert.Equal(t, host, cand.Address)
	assert.Equal(t, port, cand.Port)
	assert.Equal(t, "1.2.0", cand.Version)
	assert.Equal(t, domain.MethodActive, cand.Method)
}

func TestProbeRejectsGenericHTTPOK(t *testing.T) {
	// An unrelated service on a common port answering 200 must not match.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	host, port := serverHostPort(t, srv)
	p := NewProber(2*time.Second, logger.Nop())

	cand, err := p.Probe(context.Background(), host, port)
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestProbeRejectsNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>router admin</html>"))
	}))
	defer srv.Close()

	host, port := serverHostPort(t, srv)
	p := NewProber(2*time.Second, logger.Nop())

	cand, err := p.Probe(context.Background(), host, port)
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestProbeRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	host, port := serverHostPort(t, srv)
	p := NewProber(2*time.Second, logger.Nop())

	cand, err := p.Probe(context.Background(), host, port)
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestProbeTimesOutOnSlowTarget(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	host, port := serverHostPort(t, srv)
	p := NewProber(100*time.Millisecond, logger.Nop())

	start := time.Now()
	cand, err := p.Probe(context.Background(), host, port)
	assert.Error(t, err)
	assert.Nil(t, cand)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeFallsBackToCompositeIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"device_type":"smarttv"}`))
	}))
	defer srv.Close()

	host, port := serverHostPort(t, srv)
	p := NewProber(2*time.Second, logger.Nop())

	cand, err := p.Probe(context.Background(), host, port)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, domain.CandidateIdentity("", host, port), cand.ID)
	assert.NotEmpty(t, cand.Name)
}
