package listener

import (
	"fmt"
	"strings"

	"github.com/diagnosis/gatekeeper-relay/internal/domain"
	"github.com/diagnosis/gatekeeper-relay/pkg/config"
)

// Event is the decoded form of one bus message.
type Event interface {
	isEvent()
}

type EntryEvent struct {
	Record domain.VisitRecord
}

type ExitEvent struct {
	Request domain.ExitRequest
}

// MetadataEvent carries the raw "ID,TIME" text; the capture service owns
// its validation.
type MetadataEvent struct {
	Raw string
}

type UnknownEvent struct {
	Subject string
}

func (EntryEvent) isEvent()    {}
func (ExitEvent) isEvent()     {}
func (MetadataEvent) isEvent() {}
func (UnknownEvent) isEvent()  {}

// Decode maps a subject and payload to an Event without side effects. A
// malformed entry or exit payload returns an error wrapping
// domain.ErrMalformedRecord.
func Decode(subjects config.SubjectConfig, subject string, payload []byte) (Event, error) {
	message := string(payload)

	switch subject {
	case subjects.Entry:
		rec, err := domain.ParseEntry(message)
		if err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		return EntryEvent{Record: rec}, nil
	case subjects.Exit:
		req, err := domain.ParseExit(message)
		if err != nil {
			return nil, fmt.Errorf("decode exit: %w", err)
		}
		return ExitEvent{Request: req}, nil
	case subjects.Metadata:
		return MetadataEvent{Raw: strings.TrimSpace(message)}, nil
	default:
		return UnknownEvent{Subject: subject}, nil
	}
}
