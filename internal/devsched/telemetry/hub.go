// Package telemetry publishes per-device-type throughput streams over
// WebSockets: a Hub fans live samples out to whichever clients are
// attached to a device type's manager or per-task stream, dropping
// subscribers that fall behind rather than letting them back-pressure
// the publisher.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// sendBuffer bounds how many queued messages a slow subscriber may hold
// before it is dropped instead of blocking the publisher.
const sendBuffer = 64

// managerEvent is pushed to every /ws/manager subscriber whenever the set
// of live task series changes.
type managerEvent struct {
	Event string   `json:"event"`
	Task  string   `json:"task,omitempty"`
	Tasks []string `json:"tasks,omitempty"`
	WSURL string   `json:"ws_path,omitempty"`
}

// taskSample is pushed to every /ws/task/{task} subscriber.
type taskSample struct {
	Task  string  `json:"task"`
	TS    float64 `json:"ts"`
	Value float64 `json:"value"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub is the per-device-type publisher: one Hub backs one
// Publisher/HTTP server, fanning live samples out to whichever
// WebSocket clients are attached to the manager or a specific task
// stream.
type Hub struct {
	mu          sync.Mutex
	tasks       map[string]bool
	managerSubs map[*subscriber]struct{}
	taskSubs    map[string]map[*subscriber]struct{}
	logger      *logrus.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		tasks:       make(map[string]bool),
		managerSubs: make(map[*subscriber]struct{}),
		taskSubs:    make(map[string]map[*subscriber]struct{}),
		logger:      logger,
	}
}

// AddTask registers task as a live series and notifies manager
// subscribers. Returns false if the task was already known.
func (h *Hub) AddTask(task string) bool {
	h.mu.Lock()
	if h.tasks[task] {
		h.mu.Unlock()
		return false
	}
	h.tasks[task] = true
	h.mu.Unlock()

	h.broadcastManager(managerEvent{Event: "task_online", Task: task, WSURL: "/ws/task/" + task})
	return true
}

// RemoveTask deregisters task, notifies manager subscribers, and closes
// every subscriber attached to that task's stream.
func (h *Hub) RemoveTask(task string) bool {
	h.mu.Lock()
	if !h.tasks[task] {
		h.mu.Unlock()
		return false
	}
	delete(h.tasks, task)
	subs := h.taskSubs[task]
	delete(h.taskSubs, task)
	h.mu.Unlock()

	for s := range subs {
		close(s.send)
	}
	h.broadcastManager(managerEvent{Event: "task_offline", Task: task})
	return true
}

// PushValue fans a single throughput sample out to every subscriber of
// task's stream. Slow subscribers are dropped rather than allowed to
// back-pressure the publisher.
func (h *Hub) PushValue(task string, ts time.Time, value float64) {
	payload, err := json.Marshal(taskSample{Task: task, TS: float64(ts.UnixNano()) / 1e9, Value: value})
	if err != nil {
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.taskSubs[task]))
	for s := range h.taskSubs[task] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		h.trySend(s, payload)
	}
}

func (h *Hub) broadcastManager(evt managerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.managerSubs))
	for s := range h.managerSubs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		h.trySend(s, payload)
	}
}

func (h *Hub) trySend(s *subscriber, payload []byte) {
	select {
	case s.send <- payload:
	default:
		h.logger.WithField("subscriber_id", s.id).Warn("telemetry: subscriber send buffer full, dropping connection")
		h.dropManagerSub(s)
		h.dropAnyTaskSub(s)
	}
}

// AttachManager registers a new /ws/manager subscriber and returns the
// current task roster so the caller can seed its initial task_list
// message.
func (h *Hub) AttachManager(conn *websocket.Conn) (*subscriber, []string) {
	s := &subscriber{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.managerSubs[s] = struct{}{}
	tasks := make([]string, 0, len(h.tasks))
	for t := range h.tasks {
		tasks = append(tasks, t)
	}
	h.mu.Unlock()
	return s, tasks
}

// AttachTask registers a new /ws/task/{task} subscriber. ok is false if
// task is not currently live, in which case the caller must reject the
// connection.
func (h *Hub) AttachTask(conn *websocket.Conn, task string) (s *subscriber, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.tasks[task] {
		return nil, false
	}
	s = &subscriber{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	if h.taskSubs[task] == nil {
		h.taskSubs[task] = make(map[*subscriber]struct{})
	}
	h.taskSubs[task][s] = struct{}{}
	return s, true
}

// DetachManager removes a manager subscriber.
func (h *Hub) DetachManager(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.managerSubs, s)
}

// DetachTask removes a task subscriber.
func (h *Hub) DetachTask(task string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.taskSubs[task]; ok {
		delete(subs, s)
	}
}

func (h *Hub) dropManagerSub(s *subscriber) {
	h.mu.Lock()
	_, ok := h.managerSubs[s]
	delete(h.managerSubs, s)
	h.mu.Unlock()
	if ok {
		close(s.send)
	}
}

func (h *Hub) dropAnyTaskSub(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for task, subs := range h.taskSubs {
		if _, ok := subs[s]; ok {
			delete(subs, s)
			close(s.send)
			_ = task
			return
		}
	}
}
