package listener

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/diagnosis/gatekeeper-relay/internal/metrics"
	"github.com/diagnosis/gatekeeper-relay/internal/repo/csvfile"
	"github.com/diagnosis/gatekeeper-relay/internal/service"
	"github.com/diagnosis/gatekeeper-relay/pkg/config"
	"github.com/diagnosis/gatekeeper-relay/pkg/events"
	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
)

const handleTimeout = 10 * time.Second

// Listener routes bus messages to the visit and capture services.
type Listener struct {
	subjects config.SubjectConfig
	visits   service.VisitService
	capture  service.CaptureService
	metrics  *metrics.Metrics
}

func New(subjects config.SubjectConfig, visits service.VisitService, capture service.CaptureService, m *metrics.Metrics) *Listener {
	return &Listener{subjects: subjects, visits: visits, capture: capture, metrics: m}
}

// Start subscribes to the entry, exit and metadata subjects.
func (l *Listener) Start(sub events.Subscriber) error {
	for _, subject := range []string{l.subjects.Entry, l.subjects.Exit, l.subjects.Metadata} {
		if err := sub.Subscribe(subject, l.Handle); err != nil {
			return err
		}
	}
	logger.Info("Subscribed to bus subjects",
		"entry", l.subjects.Entry,
		"exit", l.subjects.Exit,
		"metadata", l.subjects.Metadata,
	)
	return nil
}

// Handle processes one message. It never panics and never returns an error:
// failures are logged and counted so the subscription keeps running.
func (l *Listener) Handle(msg *events.Message) {
	ctx, cancel := context.WithTimeout(logger.WithSubject(context.Background(), msg.Subject), handleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Bus handler panic", "panic", r, "stack", string(debug.Stack()))
			l.metrics.BusMessage(msg.Subject, metrics.OutcomeFailed)
		}
	}()

	logger.InfoContext(ctx, "Bus message received", "payload", string(msg.Data))
	outcome := l.handle(ctx, msg)
	l.metrics.BusMessage(msg.Subject, outcome)
}

func (l *Listener) handle(ctx context.Context, msg *events.Message) string {
	event, err := Decode(l.subjects, msg.Subject, msg.Data)
	if err != nil {
		logger.WarnContext(ctx, "Discarding malformed bus message", "error", err)
		return metrics.OutcomeRejected
	}

	switch ev := event.(type) {
	case EntryEvent:
		if err := l.visits.RecordEntry(ctx, ev.Record); err != nil {
			return l.failure(ctx, "Entry not recorded", err)
		}
	case ExitEvent:
		found, err := l.visits.RecordExit(ctx, ev.Request)
		if err != nil {
			return l.failure(ctx, "Exit not recorded", err)
		}
		if !found {
			return metrics.OutcomeNoMatch
		}
	case MetadataEvent:
		if err := l.capture.SetMetadata(ctx, ev.Raw); err != nil {
			logger.WarnContext(ctx, "Discarding invalid metadata", "error", err)
			return metrics.OutcomeRejected
		}
	case UnknownEvent:
		logger.WarnContext(ctx, "Dropping message on unknown subject")
		return metrics.OutcomeIgnored
	default:
		panic(fmt.Sprintf("unhandled event %T", event))
	}
	return metrics.OutcomeHandled
}

// failure logs err and classifies it. A duplicate open visit is bad input
// rather than an I/O problem.
func (l *Listener) failure(ctx context.Context, msg string, err error) string {
	if errors.Is(err, csvfile.ErrAlreadyInside) {
		logger.WarnContext(ctx, msg, "error", err)
		return metrics.OutcomeRejected
	}
	logger.ErrorContext(ctx, msg, "error", err)
	return metrics.OutcomeFailed
}
