package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvlink/internal/core/domain"
	"tvlink/internal/infrastructure/protocol"
	"tvlink/pkg/logger"
)

// fakeExecutor records the last command and serves a fixed app state.
type fakeExecutor struct {
	lastPage string
	state    domain.AppState
}

func (f *fakeExecutor) Navigate(page string) error         { f.lastPage = page; return nil }
func (f *fakeExecutor) Activate(selector string) error     { return nil }
func (f *fakeExecutor) Input(selector, value string) error { return nil }
func (f *fakeExecutor) KeyPress(key string) error          { return nil }
func (f *fakeExecutor) Volume(action string) error         { return nil }
func (f *fakeExecutor) AppState() (domain.AppState, error) { return f.state, nil }

func newTestServer(t *testing.T) (*Server, *fakeExecutor, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	exec := &fakeExecutor{state: domain.AppState{CurrentPage: "home", Title: "Home"}}
	dispatcher := protocol.NewDispatcher(exec, logger.Nop())
	srv := NewServer(Identity{
		DeviceName:   "Living Room TV",
		Version:      "1.0.0",
		Capabilities: []string{"navigation", "volume"},
	}, dispatcher, logger.Nop(), nil)

	router := gin.New()
	srv.Register(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return srv, exec, ts
}

func dialWS(t *testing.T, ts *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *domain.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg *domain.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestStatusCarriesDeviceMarker(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status       string   `json:"status"`
		AppName      string   `json:"app_name"`
		DeviceType   string   `json:"device_type"`
		DeviceName   string   `json:"device_name"`
		Version      string   `json:"version"`
		Capabilities []string `json:"capabilities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, domain.DeviceTypeMarker, body.DeviceType)
	assert.Equal(t, "SmartTV", body.AppName)
	assert.Equal(t, "Living Room TV", body.DeviceName)
	assert.Contains(t, body.Capabilities, "navigation")
}

func TestInitialStatePushOnAttach(t *testing.T) {
	_, _, ts := newTestServer(t)
	conn := dialWS(t, ts, "remote-1")

	msg := readMessage(t, conn)
	assert.Equal(t, domain.KindAppState, msg.Kind)

	var st domain.AppState
	require.NoError(t, json.Unmarshal(msg.Payload, &st))
	assert.Equal(t, "home", st.CurrentPage)
}

func TestCommandRoundTrip(t *testing.T) {
	_, exec, ts := newTestServer(t)
	conn := dialWS(t, ts, "remote-1")
	readMessage(t, conn) // initial app_state

	cmd, err := protocol.NewMessage(domain.KindNavigate, map[string]string{"page": "movies"})
	require.NoError(t, err)
	sendMessage(t, conn, cmd)

	ack := readMessage(t, conn)
	assert.Equal(t, domain.KindAck, ack.Kind)
	assert.Equal(t, "movies", exec.lastPage)
}

func TestHeartbeatPingAnswered(t *testing.T) {
	_, _, ts := newTestServer(t)
	conn := dialWS(t, ts, "remote-1")
	readMessage(t, conn) // initial app_state

	ping, err := protocol.NewMessage(domain.KindPing, map[string]int64{"ts": time.Now().UnixMilli()})
	require.NoError(t, err)
	sendMessage(t, conn, ping)

	pong := readMessage(t, conn)
	assert.Equal(t, domain.KindPong, pong.Kind)
}

func TestReconnectReplacesOldConnection(t *testing.T) {
	srv, _, ts := newTestServer(t)

	first := dialWS(t, ts, "remote-1")
	readMessage(t, first)

	second := dialWS(t, ts, "remote-1")
	readMessage(t, second)

	// The first socket is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	// The replacement stays usable.
	ping, err := protocol.NewMessage(domain.KindPing, nil)
	require.NoError(t, err)
	sendMessage(t, second, ping)
	assert.Equal(t, domain.KindPong, readMessage(t, second).Kind)

	assert.Equal(t, []string{"remote-1"}, srv.ConnectedClients())
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	_, _, ts := newTestServer(t)
	conn := dialWS(t, ts, "remote-1")
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	ping, err := protocol.NewMessage(domain.KindPing, nil)
	require.NoError(t, err)
	sendMessage(t, conn, ping)
	assert.Equal(t, domain.KindPong, readMessage(t, conn).Kind)
}

func TestBroadcastReachesAllRemotes(t *testing.T) {
	srv, _, ts := newTestServer(t)

	a := dialWS(t, ts, "remote-a")
	readMessage(t, a)
	b := dialWS(t, ts, "remote-b")
	readMessage(t, b)

	note, err := protocol.NewMessage(domain.KindPageChanged, domain.AppState{CurrentPage: "movies", Title: "Movies"})
	require.NoError(t, err)
	require.NoError(t, srv.Broadcast(note))

	assert.Equal(t, domain.KindPageChanged, readMessage(t, a).Kind)
	assert.Equal(t, domain.KindPageChanged, readMessage(t, b).Kind)
}

func TestMissingClientIDRejected(t *testing.T) {
	_, _, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The server drops the socket immediately.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
