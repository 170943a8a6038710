package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/diagnosis/gatekeeper-relay/internal/domain"
	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
)

// Viewer event names.
const (
	EventNewLog     = "new_log"
	EventExitUpdate = "exit_update"
	EventClearLog   = "clear_log"
)

type VisitPayload struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

type Envelope struct {
	Event   string        `json:"event"`
	Payload *VisitPayload `json:"payload,omitempty"`
}

type Sink interface {
	Broadcast(payload []byte)
}

// Broadcaster pushes visit events to a Sink and schedules the clear event
// that follows each one on a timer, so callers never wait out the delay.
type Broadcaster struct {
	sink       Sink
	entryDelay time.Duration
	exitDelay  time.Duration

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewBroadcaster(sink Sink, entryDelay, exitDelay time.Duration) *Broadcaster {
	return &Broadcaster{
		sink:       sink,
		entryDelay: entryDelay,
		exitDelay:  exitDelay,
		timers:     make(map[*time.Timer]struct{}),
	}
}

func (b *Broadcaster) Entry(rec domain.VisitRecord) {
	b.emit(Envelope{Event: EventNewLog, Payload: &VisitPayload{Type: "entry", Data: rec.Payload()}})
	b.scheduleClear(b.entryDelay)
}

func (b *Broadcaster) Exit(rec domain.VisitRecord) {
	b.emit(Envelope{Event: EventExitUpdate, Payload: &VisitPayload{Type: "exit", Data: rec.Payload()}})
	b.scheduleClear(b.exitDelay)
}

// Close stops clears that have not fired yet.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	clear(b.timers)
}

func (b *Broadcaster) emit(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Error("Failed to encode live event", "event", env.Event, "error", err)
		return
	}
	b.sink.Broadcast(payload)
	logger.Debug("Live event sent", "event", env.Event)
}

func (b *Broadcaster) scheduleClear(delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		b.emit(Envelope{Event: EventClearLog})
	})
	b.timers[t] = struct{}{}
}
