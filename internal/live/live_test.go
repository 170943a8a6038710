package live

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/gatekeeper-relay/internal/domain"
)

type captureSink struct {
	mu  sync.Mutex
	out []Envelope
	ch  chan Envelope
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan Envelope, 16)}
}

func (s *captureSink) Broadcast(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.out = append(s.out, env)
	s.mu.Unlock()
	s.ch <- env
}

func (s *captureSink) next(t *testing.T, within time.Duration) Envelope {
	t.Helper()
	select {
	case env := <-s.ch:
		return env
	case <-time.After(within):
		t.Fatal("timed out waiting for live event")
		return Envelope{}
	}
}

func visit() domain.VisitRecord {
	return domain.VisitRecord{CredentialID: "1", Name: "Asha", VisitDate: "2024-01-01", EntryTime: "09:00:00", DayOfWeek: "Mon"}
}

func TestEntryEmitsThenClears(t *testing.T) {
	sink := newCaptureSink()
	b := NewBroadcaster(sink, 30*time.Millisecond, time.Hour)
	defer b.Close()

	start := time.Now()
	b.Entry(visit())
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("Entry blocked for %v", elapsed)
	}

	env := sink.next(t, time.Second)
	if env.Event != EventNewLog || env.Payload == nil || env.Payload.Type != "entry" {
		t.Fatalf("unexpected first event %+v", env)
	}
	if env.Payload.Data["RFID"] != "1" || env.Payload.Data["Name"] != "Asha" {
		t.Errorf("unexpected payload data %v", env.Payload.Data)
	}

	clearEnv := sink.next(t, time.Second)
	if clearEnv.Event != EventClearLog || clearEnv.Payload != nil {
		t.Errorf("expected bare clear event, got %+v", clearEnv)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("clear fired before its delay")
	}
}

func TestExitUsesExitDelay(t *testing.T) {
	sink := newCaptureSink()
	b := NewBroadcaster(sink, time.Hour, 10*time.Millisecond)
	defer b.Close()

	rec := visit()
	rec.ExitTime = "17:00:00"
	b.Exit(rec)

	env := sink.next(t, time.Second)
	if env.Event != EventExitUpdate || env.Payload.Type != "exit" || env.Payload.Data["Ex_Time"] != "17:00:00" {
		t.Fatalf("unexpected exit event %+v", env)
	}
	if env := sink.next(t, time.Second); env.Event != EventClearLog {
		t.Errorf("expected clear, got %+v", env)
	}
}

func TestCloseStopsPendingClears(t *testing.T) {
	sink := newCaptureSink()
	b := NewBroadcaster(sink, 20*time.Millisecond, 20*time.Millisecond)

	b.Entry(visit())
	sink.next(t, time.Second)
	b.Close()
	b.Exit(visit())
	sink.next(t, time.Second)

	select {
	case env := <-sink.ch:
		t.Errorf("unexpected event after Close: %+v", env)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestHubBroadcastSkipsFullClients(t *testing.T) {
	h := NewHub()
	fast := &Client{ID: "fast", Send: make(chan []byte, 2)}
	slow := &Client{ID: "slow", Send: make(chan []byte)}
	h.Register(fast)
	h.Register(slow)

	h.Broadcast([]byte("one"))

	select {
	case msg := <-fast.Send:
		if string(msg) != "one" {
			t.Errorf("unexpected message %q", msg)
		}
	default:
		t.Fatal("fast client got nothing")
	}

	h.Unregister(slow)
	h.Unregister(slow)
	if h.Len() != 1 {
		t.Errorf("expected 1 client, got %d", h.Len())
	}
	if _, open := <-slow.Send; open {
		t.Error("expected slow client channel closed")
	}
}
