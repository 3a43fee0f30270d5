package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tilequest/server/app"
	"github.com/tilequest/server/config"
	mw "github.com/tilequest/server/middleware"
	"github.com/tilequest/server/testutil/apptest"
)

// TestServer wraps a real HTTP server in front of a fully wired App.
type TestServer struct {
	App    *app.App
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
}

// NewTestServer starts the App and serves its router, mirroring main.go.
func NewTestServer(t *testing.T, mutate ...func(*config.Config)) *TestServer {
	t.Helper()
	a := apptest.New(t, mutate...)
	require.NoError(t, a.Start(context.Background()))

	server := httptest.NewServer(a.Router())
	// Registered after apptest's cleanup, so it runs first: connections go
	// away before the App closes.
	t.Cleanup(server.Close)

	url := server.URL
	return &TestServer{
		App:    a,
		Server: server,
		URL:    url,
		WSURL:  "ws" + url[len("http"):] + "/ws",
	}
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, header http.Header) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, bearer(token))
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, bearer(token))
}

// Admin sends an admin request carrying the test admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	h := http.Header{}
	h.Set(mw.AdminKeyHeader, apptest.AdminKey)
	return ts.do(t, method, path, body, h)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Token has the admin API issue a player token, the way the account
// service would.
func (ts *TestServer) Token(t *testing.T, userID int64, name string) string {
	t.Helper()
	resp := ts.Admin(t, http.MethodPost, "/api/admin/tokens", map[string]interface{}{
		"user_id": userID,
		"name":    name,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &result)
	require.NotEmpty(t, result.Token)
	return result.Token
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds readCh so timeouts never touch the socket
// read deadline.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a command packet with the next sequence number.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	pkt := map[string]interface{}{"seq": seq, "type": msgType}
	if payload != nil {
		payloadJSON, err := json.Marshal(payload)
		require.NoError(wc.t, err)
		pkt["payload"] = json.RawMessage(payloadJSON)
	}
	data, err := json.Marshal(pkt)
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one packet, returning an error on timeout or read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, &timeoutError{}
	}
}

// timeoutError implements net.Error for timeout detection in callers.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "read timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// RecvType reads packets until one with the given type is found.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	return wc.RecvMatch(msgType, timeout, func(map[string]interface{}) bool { return true })
}

// RecvMatch reads packets until one of msgType whose payload satisfies ok.
func (wc *WSClient) RecvMatch(msgType string, timeout time.Duration, ok func(payload map[string]interface{}) bool) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt["type"] == msgType && ok(PayloadMap(wc.t, pkt)) {
			return pkt
		}
	}
	wc.t.Fatalf("timed out waiting for message type %q", msgType)
	return nil
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// PayloadMap extracts the payload from a received WS packet as a map.
func PayloadMap(t *testing.T, pkt map[string]interface{}) map[string]interface{} {
	t.Helper()
	if m, ok := pkt["payload"].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// ZoneOf returns the zone coordinates of a snapshot payload.
func ZoneOf(payload map[string]interface{}) (int, int) {
	z, _ := payload["zone"].(map[string]interface{})
	x, _ := z["x"].(float64)
	y, _ := z["y"].(float64)
	return int(x), int(y)
}

// --- Composite helper ---

// Join issues a token, opens a socket and waits for the first snapshot.
func (ts *TestServer) Join(t *testing.T, userID int64, name string) (string, *WSClient) {
	t.Helper()
	token := ts.Token(t, userID, name)
	ws := ts.ConnectWS(t, token)
	ws.RecvType("snapshot", 5*time.Second)
	return token, ws
}
