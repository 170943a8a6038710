package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/diagnosis/gatekeeper-relay/internal/utils"
)

// FallbackMetadata is held until the first metadata message arrives.
const FallbackMetadata = "default_filename"

var ErrInvalidMetadata = errors.New("invalid metadata")

// Capture names the image expected from the next upload.
type Capture struct {
	CredentialID string
	Timestamp    string
}

// Filename is "{CredentialID}_{Timestamp}.jpg" with colons made file safe.
func (c Capture) Filename() string {
	return c.CredentialID + "_" + strings.ReplaceAll(c.Timestamp, ":", "-") + ".jpg"
}

// PendingMetadata is the single slot shared by the bus listener, which
// writes it, and the upload handler, which reads it. Reads never clear it.
type PendingMetadata struct {
	mu  sync.RWMutex
	raw string
}

func NewPendingMetadata() *PendingMetadata {
	return &PendingMetadata{raw: FallbackMetadata}
}

// Set stores message when it carries a comma. Anything else is refused and
// the previous value kept.
func (p *PendingMetadata) Set(message string) error {
	message = strings.TrimSpace(message)
	if !strings.Contains(message, ",") {
		return fmt.Errorf("%w: %q, expected ID,TIME", ErrInvalidMetadata, message)
	}
	p.mu.Lock()
	p.raw = message
	p.mu.Unlock()
	return nil
}

func (p *PendingMetadata) Raw() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.raw
}

// Current parses the held metadata.
func (p *PendingMetadata) Current() (Capture, error) {
	return ParseCapture(p.Raw())
}

// ParseCapture reads "ID,TIME". Both parts must be present and produce a
// plain file name.
func ParseCapture(raw string) (Capture, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 {
		return Capture{}, fmt.Errorf("%w: %q, expected ID,TIME", ErrInvalidMetadata, raw)
	}
	c := Capture{
		CredentialID: strings.TrimSpace(parts[0]),
		Timestamp:    strings.TrimSpace(parts[1]),
	}
	if c.CredentialID == "" || c.Timestamp == "" {
		return Capture{}, fmt.Errorf("%w: %q has an empty part", ErrInvalidMetadata, raw)
	}
	if !utils.IsSafeFilename(c.Filename()) {
		return Capture{}, fmt.Errorf("%w: %q does not form a safe file name", ErrInvalidMetadata, raw)
	}
	return c, nil
}
