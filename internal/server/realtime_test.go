package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/hardhat/internal/hub"
	"github.com/ssd-technologies/hardhat/internal/state"
)

// wsEvent is an outbound event as read by a test client.
type wsEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func setupWSServer(t *testing.T, cfg Config) (*testStack, *httptest.Server) {
	t.Helper()
	stack := setupTestStack(t, cfg)
	server := httptest.NewServer(stack.srv)
	t.Cleanup(server.Close)
	return stack, server
}

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected status 101, got %d", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendWSMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	if err := conn.WriteJSON(WSMessage{Type: msgType, Payload: p}); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
}

func readWSEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

// expectEvent reads until an event of the given type arrives, failing on
// anything else.
func expectEvent(t *testing.T, conn *websocket.Conn, want string) wsEvent {
	t.Helper()
	ev := readWSEvent(t, conn)
	if ev.Type != want {
		t.Fatalf("event = %s (%s), want %s", ev.Type, ev.Payload, want)
	}
	return ev
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWS_ObserverGetsSnapshot(t *testing.T) {
	stack, server := setupWSServer(t, Config{})
	doJSON(t, stack.srv, http.MethodPost, "/api/sensor-data", map[string]any{"workerId": "001", "temp": 36})

	obs := dialWS(t, server, "?type=dashboard")
	ev := expectEvent(t, obs, hub.EventInitialData)

	var snapshot []state.WorkerRecord
	if err := json.Unmarshal(ev.Payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].WorkerID != "001" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	doJSON(t, stack.srv, http.MethodPost, "/api/sensor-data", map[string]any{"workerId": "002"})
	ev = expectEvent(t, obs, hub.EventSensorUpdate)
	var rec state.WorkerRecord
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if rec.WorkerID != "002" {
		t.Fatalf("update for %s, want 002", rec.WorkerID)
	}
}

func TestWS_DefaultRoleIsObserver(t *testing.T) {
	stack, server := setupWSServer(t, Config{})
	obs := dialWS(t, server, "")
	expectEvent(t, obs, hub.EventInitialData)
	waitFor(t, "observer membership", func() bool { return stack.hub.Count(hub.GroupObservers) == 1 })
}

func TestWS_PhoneLocationFlow(t *testing.T) {
	stack, server := setupWSServer(t, Config{})

	obs := dialWS(t, server, "?type=observer")
	expectEvent(t, obs, hub.EventInitialData)

	phone := dialWS(t, server, "?type=worker&workerId=001")
	ev := expectEvent(t, obs, hub.EventPhoneConnected)
	if !strings.Contains(string(ev.Payload), `"workerId":"001"`) {
		t.Fatalf("payload = %s", ev.Payload)
	}

	sendWSMessage(t, phone, "worker-location", map[string]any{
		"latitude":  24.7136,
		"longitude": 46.6753,
		"accuracy":  8,
		"timestamp": "2025-03-01T08:00:00Z",
	})

	expectEvent(t, phone, hub.EventLocationReceived)

	ev = expectEvent(t, obs, hub.EventLocationUpdate)
	if !strings.Contains(string(ev.Payload), `"latitude":24.7136`) {
		t.Fatalf("location payload = %s", ev.Payload)
	}
	ev = expectEvent(t, obs, hub.EventSensorUpdate)
	var rec state.WorkerRecord
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if !rec.PhoneConnected || rec.GPSSource == nil || *rec.GPSSource != "phone-gps" {
		t.Fatalf("record = %+v", rec)
	}

	got, ok := stack.svc.Worker("001")
	if !ok || got.Latitude == nil || *got.Latitude != 24.7136 {
		t.Fatalf("stored record = %+v", got)
	}
}

func TestWS_PhoneHeartbeatAck(t *testing.T) {
	stack, server := setupWSServer(t, Config{})
	phone := dialWS(t, server, "?type=worker&workerId=hb")

	sendWSMessage(t, phone, "heartbeat", nil)
	expectEvent(t, phone, hub.EventHeartbeatAck)

	rec, ok := stack.svc.Worker("hb")
	if !ok || rec.PhoneLastHeartbeat == nil || !rec.PhoneConnected {
		t.Fatalf("record = %+v", rec)
	}
}

func TestWS_PhoneRegister(t *testing.T) {
	stack, server := setupWSServer(t, Config{})
	phone := dialWS(t, server, "?type=worker&workerId=001")

	sendWSMessage(t, phone, "worker-register", map[string]any{"name": "Ali", "phone": "0500"})
	ev := expectEvent(t, phone, hub.EventRegistered)
	if !strings.Contains(string(ev.Payload), `"name":"Ali"`) {
		t.Fatalf("payload = %s", ev.Payload)
	}

	regs := stack.svc.Registrations()
	if len(regs) != 1 || regs[0].WorkerID != "001" {
		t.Fatalf("registrations = %+v", regs)
	}

	sendWSMessage(t, phone, "register", map[string]any{"workerId": "001"})
	expectEvent(t, phone, hub.EventError)
}

func TestWS_ExplicitDisconnect(t *testing.T) {
	stack, server := setupWSServer(t, Config{})

	obs := dialWS(t, server, "?type=dashboard")
	expectEvent(t, obs, hub.EventInitialData)

	phone := dialWS(t, server, "?type=worker&workerId=001")
	expectEvent(t, obs, hub.EventPhoneConnected)

	sendWSMessage(t, phone, "heartbeat", nil)
	expectEvent(t, phone, hub.EventHeartbeatAck)

	sendWSMessage(t, phone, "disconnect", nil)
	expectEvent(t, phone, hub.EventDisconnected)

	// The server closes the connection after acknowledging.
	phone.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := phone.ReadMessage(); err == nil {
		t.Fatal("expected connection to close")
	}

	ev := expectEvent(t, obs, hub.EventSensorUpdate)
	var rec state.WorkerRecord
	if err := json.Unmarshal(ev.Payload, &rec); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if rec.PhoneConnected {
		t.Fatal("phoneConnected should be false after disconnect")
	}
	expectEvent(t, obs, hub.EventPhoneDisconnected)

	// Exactly one disconnect notification: the transport close that follows
	// is a no-op.
	obs.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra wsEvent
	if err := obs.ReadJSON(&extra); err == nil {
		t.Fatalf("unexpected extra event %s", extra.Type)
	}
	if stack.svc.Links().Online("001") {
		t.Fatal("link should be gone")
	}
}

func TestWS_TransportCloseDisconnectsPhone(t *testing.T) {
	stack, server := setupWSServer(t, Config{})

	phone := dialWS(t, server, "?type=worker&workerId=001")
	sendWSMessage(t, phone, "heartbeat", nil)
	expectEvent(t, phone, hub.EventHeartbeatAck)

	phone.Close()

	waitFor(t, "phone disconnect", func() bool {
		rec, ok := stack.svc.Worker("001")
		return ok && !rec.PhoneConnected
	})
	waitFor(t, "group cleanup", func() bool { return stack.hub.Count(hub.WorkerGroup("001")) == 0 })
}

func TestWS_ObserverCannotSendPhoneMessages(t *testing.T) {
	stack, server := setupWSServer(t, Config{})
	obs := dialWS(t, server, "?type=dashboard")
	expectEvent(t, obs, hub.EventInitialData)

	sendWSMessage(t, obs, "heartbeat", nil)
	expectEvent(t, obs, hub.EventError)
	if len(stack.svc.Workers()) != 0 {
		t.Fatal("observer message must not create records")
	}
}

func TestWS_UnknownMessageType(t *testing.T) {
	_, server := setupWSServer(t, Config{})
	phone := dialWS(t, server, "?type=worker&workerId=001")

	sendWSMessage(t, phone, "play-sound", map[string]string{})
	ev := expectEvent(t, phone, hub.EventError)
	if !strings.Contains(string(ev.Payload), "unknown message type") {
		t.Fatalf("payload = %s", ev.Payload)
	}
}

func TestWS_WorkerWithoutIDOnlyGetsErrors(t *testing.T) {
	stack, server := setupWSServer(t, Config{})
	conn := dialWS(t, server, "?type=worker")

	sendWSMessage(t, conn, "heartbeat", nil)
	expectEvent(t, conn, hub.EventError)
	if stack.hub.Count(hub.GroupObservers) != 0 {
		t.Fatal("bare worker connection must not join observers")
	}
}

func TestWS_RateLimit(t *testing.T) {
	_, server := setupWSServer(t, Config{WSRateLimit: 2})
	phone := dialWS(t, server, "?type=worker&workerId=001")

	for i := 0; i < 2; i++ {
		sendWSMessage(t, phone, "heartbeat", nil)
		expectEvent(t, phone, hub.EventHeartbeatAck)
	}
	sendWSMessage(t, phone, "heartbeat", nil)
	ev := expectEvent(t, phone, hub.EventError)
	if !strings.Contains(string(ev.Payload), "rate limit") {
		t.Fatalf("payload = %s", ev.Payload)
	}
}

func TestWS_SocketAlias(t *testing.T) {
	_, server := setupWSServer(t, Config{})
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/socket?type=dashboard"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial /socket: %v", err)
	}
	defer conn.Close()
	expectEvent(t, conn, hub.EventInitialData)
}
