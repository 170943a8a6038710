package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/diagnosis/gatekeeper-relay/internal/metrics"
	"github.com/diagnosis/gatekeeper-relay/pkg/events"
	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
)

// Acknowledgment payloads sent back to the camera.
const (
	AckUploaded = "image_uploaded"
	AckError    = "upload_error"
)

// FallbackFilename is used when the pending metadata cannot name the image
// or the named write fails.
const FallbackFilename = FallbackMetadata + ".jpg"

type UploadResult struct {
	Filename string
	Fallback bool
}

type CaptureService interface {
	SetMetadata(ctx context.Context, message string) error
	SaveUpload(ctx context.Context, data []byte) (*UploadResult, error)
}

type captureService struct {
	pending   *PendingMetadata
	uploadDir string
	publisher events.Publisher
	ackSubj   string
	metrics   *metrics.Metrics
}

func NewCaptureService(pending *PendingMetadata, uploadDir string, publisher events.Publisher, ackSubject string, m *metrics.Metrics) CaptureService {
	return &captureService{
		pending:   pending,
		uploadDir: uploadDir,
		publisher: publisher,
		ackSubj:   ackSubject,
		metrics:   m,
	}
}

func (s *captureService) SetMetadata(ctx context.Context, message string) error {
	if err := s.pending.Set(message); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Pending metadata updated", "metadata", s.pending.Raw())
	return nil
}

// SaveUpload writes data under the name derived from the pending metadata and
// acknowledges the outcome on the bus. Any naming or write problem falls back
// to FallbackFilename; the error return is reserved for the case where even
// the fallback write failed.
func (s *captureService) SaveUpload(ctx context.Context, data []byte) (*UploadResult, error) {
	logger.InfoContext(ctx, "Camera upload received", "bytes", len(data), "metadata", s.pending.Raw())

	capture, err := s.pending.Current()
	if err == nil {
		name := capture.Filename()
		if err = s.write(name, data); err == nil {
			logger.InfoContext(ctx, "Image saved", "filename", name)
			s.metrics.Upload(metrics.UploadStored)
			s.ack(ctx, AckUploaded)
			return &UploadResult{Filename: name}, nil
		}
	}
	logger.ErrorContext(ctx, "Image naming failed, using fallback", "error", err)

	if err := s.write(FallbackFilename, data); err != nil {
		logger.ErrorContext(ctx, "Fallback image write failed", "error", err)
		s.metrics.Upload(metrics.UploadFailed)
		s.ack(ctx, AckError)
		return nil, err
	}
	logger.WarnContext(ctx, "Image saved under fallback name", "filename", FallbackFilename)
	s.metrics.Upload(metrics.UploadFallback)
	s.ack(ctx, AckError)
	return &UploadResult{Filename: FallbackFilename, Fallback: true}, nil
}

func (s *captureService) write(name string, data []byte) error {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.uploadDir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *captureService) ack(ctx context.Context, payload string) {
	if err := s.publisher.Publish(ctx, s.ackSubj, []byte(payload)); err != nil {
		logger.ErrorContext(ctx, "Failed to publish upload ack", "ack", payload, "error", err)
	}
}
