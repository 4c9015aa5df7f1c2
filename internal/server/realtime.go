package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/hub"
	"github.com/ssd-technologies/hardhat/internal/ingest"
	"github.com/ssd-technologies/hardhat/internal/ratelimit"
	"github.com/ssd-technologies/hardhat/internal/telemetry"
)

const maxMessageBytes = 64 << 10

// roleWorker marks a phone connection in the ?type= query parameter. Any
// other value, including none, joins the observers.
const roleWorker = "worker"

// WSMessage is the JSON message format for real-time communication.
type WSMessage struct {
	Type    string          `json:"type"` // "register", "location-update", "heartbeat", "disconnect"
	Payload json.RawMessage `json:"payload"`
}

// inboundTypes maps every accepted phone message spelling to its canonical
// type.
var inboundTypes = map[string]string{
	"register":          "register",
	"worker-register":   "register",
	"location-update":   "location-update",
	"worker-location":   "location-update",
	"heartbeat":         "heartbeat",
	"worker-heartbeat":  "heartbeat",
	"disconnect":        "disconnect",
	"worker-disconnect": "disconnect",
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is one real-time connection.
type session struct {
	s        *Server
	client   *hub.Client
	role     string
	workerID string
	limiter  *ratelimit.Limiter
}

// handleRealtime upgrades the connection and routes it by declared role:
// observers join the snapshot feed, phones join their worker's group.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("type")
	workerID := r.URL.Query().Get("workerId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	sess := &session{
		s:        s,
		client:   hub.NewClient(uuid.New().String(), s.cfg.ClientBuffer),
		role:     role,
		workerID: workerID,
	}
	if s.cfg.WSRateLimit > 0 {
		sess.limiter = ratelimit.New(s.cfg.WSRateLimit, time.Minute)
	}
	go sess.client.WritePump(conn)

	defer func() {
		s.hub.Unsubscribe(sess.client)
		if sess.isPhone() {
			s.svc.PhoneDisconnected(workerID, sess.client.ID)
		}
		sess.client.Close()
		sess.client.Wait()
	}()

	switch {
	case sess.isPhone():
		s.hub.Subscribe(sess.client, hub.WorkerGroup(workerID))
		s.svc.PhoneConnected(workerID, sess.client.ID)
	case role == roleWorker:
		// A phone without an id can only receive error replies.
	default:
		s.hub.Subscribe(sess.client, hub.GroupObservers)
	}
	s.logger.Info("realtime connected",
		zap.String("conn", sess.client.ID),
		zap.String("role", role),
		zap.String("worker_id", workerID),
	)

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.String("conn", sess.client.ID), zap.Error(err))
			}
			return
		}

		if sess.limiter != nil && !sess.limiter.Allow() {
			sess.sendError("rate limit exceeded")
			continue
		}

		if !sess.handle(msg) {
			return
		}
	}
}

func (sess *session) isPhone() bool {
	return sess.role == roleWorker && sess.workerID != ""
}

// handle processes one inbound message. It returns false when the session
// should end.
func (sess *session) handle(msg WSMessage) bool {
	kind, known := inboundTypes[msg.Type]
	if !known || !sess.isPhone() {
		sess.sendError("unknown message type: " + msg.Type)
		return true
	}

	var p telemetry.Payload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			sess.sendError("invalid " + kind + " payload")
			return true
		}
	}

	svc := sess.s.svc
	switch kind {
	case "register":
		reg := ingest.RegistrationFromPayload(p)
		if reg.WorkerID == "" {
			reg.WorkerID = sess.workerID
		}
		info, err := svc.Register(reg)
		if err != nil {
			sess.sendError(err.Error())
			return true
		}
		sess.s.hub.Send(sess.client, hub.EventRegistered, map[string]any{"worker": info})

	case "location-update":
		svc.PhoneLocation(sess.workerID, ingest.LocationFromPayload(p, time.Now()))

	case "heartbeat":
		svc.PhoneHeartbeat(sess.workerID)
		sess.s.hub.Send(sess.client, hub.EventHeartbeatAck, map[string]string{"status": "ok"})

	case "disconnect":
		svc.PhoneDisconnected(sess.workerID, sess.client.ID)
		sess.s.hub.Send(sess.client, hub.EventDisconnected, map[string]string{"status": "ok"})
		return false
	}
	return true
}

func (sess *session) sendError(message string) {
	sess.s.hub.Send(sess.client, hub.EventError, map[string]string{"error": message})
}
