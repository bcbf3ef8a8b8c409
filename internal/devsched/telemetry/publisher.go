package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/pkg/utils"
)

const (
	writeDeadline = 10 * time.Second
	pingPeriod    = 30 * time.Second
)

// Publisher serves a single device type's dashboard and WebSocket
// endpoints on the fixed port assigned to that type (device.Ports).
type Publisher struct {
	DeviceType device.Type
	Hub        *Hub
	Logger     *logrus.Logger

	server   *http.Server
	upgrader websocket.Upgrader
}

// NewPublisher builds the router and HTTP server for deviceType, bound
// to its assigned port.
func NewPublisher(deviceType device.Type, hub *Hub, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Publisher{
		DeviceType: deviceType,
		Hub:        hub,
		Logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "telemetry."+string(deviceType))
	})
	router.Use(utils.RecoveryMiddleware(logger))
	router.Use(utils.LoggingMiddleware(logger))
	router.Use(utils.CORSMiddleware())
	router.Use(utils.RateLimitMiddleware(600, 50))
	router.HandleFunc("/", p.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/ws/manager", p.handleManagerWS)
	router.HandleFunc("/ws/task/{task}", p.handleTaskWS)

	port := device.Ports[deviceType]
	p.server = &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: router,
	}
	return p
}

// ListenAndServe blocks serving HTTP until the context is cancelled or
// an unrecoverable server error occurs.
func (p *Publisher) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (p *Publisher) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

func (p *Publisher) handleManagerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.Logger.WithError(err).Warn("telemetry: manager websocket upgrade failed")
		return
	}

	sub, tasks := p.Hub.AttachManager(conn)
	defer func() {
		p.Hub.DetachManager(sub)
		conn.Close()
	}()

	initial, _ := json.Marshal(managerEvent{Event: "task_list", Tasks: tasks})
	select {
	case sub.send <- initial:
	default:
	}

	go discardInbound(conn)
	pump(conn, sub.send)
}

func (p *Publisher) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	task := mux.Vars(r)["task"]

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.Logger.WithError(err).Warn("telemetry: task websocket upgrade failed")
		return
	}

	sub, ok := p.Hub.AttachTask(conn, task)
	if !ok {
		conn.WriteJSON(map[string]string{"error": "Task not found", "task": task})
		conn.Close()
		return
	}
	defer func() {
		p.Hub.DetachTask(task, sub)
		conn.Close()
	}()

	go discardInbound(conn)
	pump(conn, sub.send)
}

// discardInbound keeps the read side of the socket drained so
// close/control frames are observed; clients never send data frames on
// these read-only streams.
func discardInbound(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pump writes queued payloads to conn until send is closed, with a
// periodic ping to detect dead peers.
func pump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

const dashboardHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"/><title>device throughput monitor</title></head>
<body>
<h3>Live task throughput</h3>
<div id="status">connecting...</div>
<script>
const sockets = {};
function connectTask(task) {
  if (sockets[task]) return;
  const ws = new WebSocket("ws://" + location.host + "/ws/task/" + encodeURIComponent(task));
  sockets[task] = ws;
  ws.onclose = () => { delete sockets[task]; };
}
const mgr = new WebSocket("ws://" + location.host + "/ws/manager");
mgr.onopen = () => { document.getElementById("status").textContent = "connected"; };
mgr.onmessage = (ev) => {
  const msg = JSON.parse(ev.data);
  if (msg.event === "task_list") (msg.tasks || []).forEach(connectTask);
  else if (msg.event === "task_online") connectTask(msg.task);
};
</script>
</body>
</html>`
