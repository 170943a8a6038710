package listener_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/diagnosis/gatekeeper-relay/internal/domain"
	"github.com/diagnosis/gatekeeper-relay/internal/listener"
	"github.com/diagnosis/gatekeeper-relay/internal/metrics"
	"github.com/diagnosis/gatekeeper-relay/internal/repo/csvfile"
	"github.com/diagnosis/gatekeeper-relay/internal/service"
	"github.com/diagnosis/gatekeeper-relay/pkg/config"
	"github.com/diagnosis/gatekeeper-relay/pkg/events"
)

var subjects = config.SubjectConfig{
	Entry:    "esp32.new_entry",
	Exit:     "court.access",
	Metadata: "camera.metadata",
	Ack:      "camera.ack",
}

const entryMsg = "F7,Asha,34,F,1990-02-01,A-100,1_09-00-00.jpg,555-0101,12 Hill Rd,1,2024-01-01,09:00:00,,Mon,visit 10:30"

// ---------- Mocks ----------

type fakeBus struct {
	handlers  map[string]func(*events.Message)
	published []string
	failOn    string
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func(*events.Message))}
}

func (b *fakeBus) Subscribe(subject string, handler func(*events.Message)) error {
	if subject == b.failOn {
		return errors.New("subscribe refused")
	}
	b.handlers[subject] = handler
	return nil
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	b.published = append(b.published, subject+"|"+string(data))
	return nil
}

func (b *fakeBus) deliver(subject, payload string) {
	if h, ok := b.handlers[subject]; ok {
		h(&events.Message{Subject: subject, Data: []byte(payload)})
	}
}

type recordingNotifier struct {
	entries, exits int
}

func (n *recordingNotifier) Entry(domain.VisitRecord) { n.entries++ }
func (n *recordingNotifier) Exit(domain.VisitRecord)  { n.exits++ }

type panickingVisits struct{}

func (panickingVisits) RecordEntry(context.Context, domain.VisitRecord) error { panic("boom") }
func (panickingVisits) RecordExit(context.Context, domain.ExitRequest) (bool, error) {
	panic("boom")
}

type fixture struct {
	bus      *fakeBus
	repo     *csvfile.VisitRepoImpl
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	uploads  string
	capture  service.CaptureService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		bus:      newFakeBus(),
		repo:     csvfile.NewVisitRepo(filepath.Join(dir, "log.csv")),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
		uploads:  filepath.Join(dir, "uploads"),
	}
	f.capture = service.NewCaptureService(service.NewPendingMetadata(), f.uploads, f.bus, subjects.Ack, f.metrics)
	l := listener.New(subjects, service.NewVisitService(f.repo, f.notifier), f.capture, f.metrics)
	if err := l.Start(f.bus); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return f
}

func outcomes(t *testing.T, m *metrics.Metrics, subject, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "gatekeeper_bus_messages_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["subject"] == subject && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// ---------- Decode ----------

func TestDecode(t *testing.T) {
	ev, err := listener.Decode(subjects, subjects.Entry, []byte(entryMsg))
	if err != nil {
		t.Fatalf("Decode entry: %v", err)
	}
	entry, ok := ev.(listener.EntryEvent)
	if !ok || entry.Record.CredentialID != "1" || entry.Record.ReasonForAccess != "visit 10-30" {
		t.Fatalf("unexpected entry event %#v", ev)
	}

	ev, err = listener.Decode(subjects, subjects.Exit, []byte("1,2024-01-01,17:00:00,Mon"))
	if err != nil {
		t.Fatalf("Decode exit: %v", err)
	}
	if exit, ok := ev.(listener.ExitEvent); !ok || exit.Request.ExitTime != "17:00:00" {
		t.Fatalf("unexpected exit event %#v", ev)
	}

	ev, err = listener.Decode(subjects, subjects.Metadata, []byte(" 5,14:30:00\n"))
	if err != nil {
		t.Fatalf("Decode metadata: %v", err)
	}
	if md, ok := ev.(listener.MetadataEvent); !ok || md.Raw != "5,14:30:00" {
		t.Fatalf("unexpected metadata event %#v", ev)
	}

	ev, err = listener.Decode(subjects, "door.status", []byte("open"))
	if err != nil {
		t.Fatalf("Decode unknown: %v", err)
	}
	if u, ok := ev.(listener.UnknownEvent); !ok || u.Subject != "door.status" {
		t.Fatalf("unexpected unknown event %#v", ev)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, tc := range []struct{ subject, payload string }{
		{subjects.Entry, "F7,Asha"},
		{subjects.Exit, "1,2024-01-01"},
	} {
		_, err := listener.Decode(subjects, tc.subject, []byte(tc.payload))
		if !errors.Is(err, domain.ErrMalformedRecord) {
			t.Errorf("Decode(%s, %q) err = %v, want ErrMalformedRecord", tc.subject, tc.payload, err)
		}
	}
}

// ---------- Handle ----------

func TestEntryThenExitFlow(t *testing.T) {
	f := newFixture(t)

	f.bus.deliver(subjects.Entry, entryMsg)
	f.bus.deliver(subjects.Exit, "1,2024-01-01,17:00:00,Mon")

	if f.notifier.entries != 1 || f.notifier.exits != 1 {
		t.Fatalf("notifications entries=%d exits=%d", f.notifier.entries, f.notifier.exits)
	}
	visits, err := f.repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(visits) != 1 || visits[0].ExitTime != "17:00:00" {
		t.Fatalf("unexpected visits %+v", visits)
	}
	if got := outcomes(t, f.metrics, subjects.Entry, metrics.OutcomeHandled); got != 1 {
		t.Errorf("handled entries = %v", got)
	}
}

func TestMalformedEntryLeavesLogUnchanged(t *testing.T) {
	f := newFixture(t)

	f.bus.deliver(subjects.Entry, entryMsg)
	before, err := os.ReadFile(f.repo.Path())
	if err != nil {
		t.Fatal(err)
	}

	f.bus.deliver(subjects.Entry, "F7,Asha,34,F")

	after, err := os.ReadFile(f.repo.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("malformed entry changed the log")
	}
	if got := outcomes(t, f.metrics, subjects.Entry, metrics.OutcomeRejected); got != 1 {
		t.Errorf("rejected entries = %v, want 1", got)
	}
	if f.notifier.entries != 1 {
		t.Errorf("malformed entry must not be broadcast")
	}
}

func TestExitWithoutLogIsCountedAsFailure(t *testing.T) {
	f := newFixture(t)

	f.bus.deliver(subjects.Exit, "1,2024-01-01,17:00:00,Mon")

	if got := outcomes(t, f.metrics, subjects.Exit, metrics.OutcomeFailed); got != 1 {
		t.Errorf("failed exits = %v, want 1", got)
	}
	if f.notifier.exits != 0 {
		t.Error("exit must not be broadcast")
	}
}

func TestExitWithoutTimeIsRejected(t *testing.T) {
	f := newFixture(t)

	f.bus.deliver(subjects.Entry, entryMsg)
	f.bus.deliver(subjects.Exit, "1,2024-01-01,,Mon")
	f.bus.deliver(subjects.Exit, "1,2024-01-01,,Mon")

	if got := outcomes(t, f.metrics, subjects.Exit, metrics.OutcomeRejected); got != 2 {
		t.Errorf("rejected exits = %v, want 2", got)
	}
	if f.notifier.exits != 0 {
		t.Errorf("exit broadcast %d times, want 0", f.notifier.exits)
	}
	visits, err := f.repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(visits) != 1 || !visits[0].IsOpen() {
		t.Fatalf("visit should stay open: %+v", visits)
	}

	f.bus.deliver(subjects.Exit, "1,2024-01-01,17:00:00,Mon")
	if f.notifier.exits != 1 {
		t.Errorf("valid exit after rejected ones: exits=%d, want 1", f.notifier.exits)
	}
}

func TestExitNoMatch(t *testing.T) {
	f := newFixture(t)

	f.bus.deliver(subjects.Entry, entryMsg)
	f.bus.deliver(subjects.Exit, "2,2024-01-01,17:00:00,Mon")

	if got := outcomes(t, f.metrics, subjects.Exit, metrics.OutcomeNoMatch); got != 1 {
		t.Errorf("no-match exits = %v, want 1", got)
	}
}

func TestMetadataThenUpload(t *testing.T) {
	f := newFixture(t)

	f.bus.deliver(subjects.Metadata, "5,14:30:00")
	f.bus.deliver(subjects.Metadata, "invalid")

	if got := outcomes(t, f.metrics, subjects.Metadata, metrics.OutcomeRejected); got != 1 {
		t.Errorf("rejected metadata = %v, want 1", got)
	}

	res, err := f.capture.SaveUpload(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if res.Filename != "5_14-30-00.jpg" {
		t.Errorf("expected file from earlier metadata, got %q", res.Filename)
	}
	data, err := os.ReadFile(filepath.Join(f.uploads, "5_14-30-00.jpg"))
	if err != nil || string(data) != "jpeg-bytes" {
		t.Errorf("stored image = %q, %v", data, err)
	}
	if len(f.bus.published) != 1 || f.bus.published[0] != "camera.ack|image_uploaded" {
		t.Errorf("unexpected acks %v", f.bus.published)
	}
}

func TestHandleRecoversFromPanic(t *testing.T) {
	m := metrics.New()
	l := listener.New(subjects, panickingVisits{}, service.NewCaptureService(service.NewPendingMetadata(), t.TempDir(), newFakeBus(), subjects.Ack, m), m)

	l.Handle(&events.Message{Subject: subjects.Entry, Data: []byte(entryMsg)})

	if got := outcomes(t, m, subjects.Entry, metrics.OutcomeFailed); got != 1 {
		t.Errorf("failed entries = %v, want 1", got)
	}
}

func TestHandleUnknownSubject(t *testing.T) {
	m := metrics.New()
	l := listener.New(subjects, panickingVisits{}, nil, m)

	l.Handle(&events.Message{Subject: "door.status", Data: []byte("open")})

	if got := outcomes(t, m, "door.status", metrics.OutcomeIgnored); got != 1 {
		t.Errorf("ignored = %v, want 1", got)
	}
}

func TestStartPropagatesSubscribeError(t *testing.T) {
	bus := newFakeBus()
	bus.failOn = subjects.Exit
	l := listener.New(subjects, panickingVisits{}, nil, metrics.New())

	if err := l.Start(bus); err == nil {
		t.Fatal("expected subscribe error")
	}
}

