package service

import (
	"context"
	"fmt"

	"github.com/diagnosis/gatekeeper-relay/internal/domain"
	"github.com/diagnosis/gatekeeper-relay/internal/repo/csvfile"
	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
)

// Notifier receives visits after they are persisted.
type Notifier interface {
	Entry(rec domain.VisitRecord)
	Exit(rec domain.VisitRecord)
}

type VisitService interface {
	RecordEntry(ctx context.Context, rec domain.VisitRecord) error
	RecordExit(ctx context.Context, req domain.ExitRequest) (bool, error)
}

type visitService struct {
	visitRepo csvfile.VisitRepo
	notifier  Notifier
}

func NewVisitService(visitRepo csvfile.VisitRepo, notifier Notifier) VisitService {
	return &visitService{visitRepo: visitRepo, notifier: notifier}
}

func (s *visitService) RecordEntry(ctx context.Context, rec domain.VisitRecord) error {
	if err := s.visitRepo.Append(ctx, rec); err != nil {
		return fmt.Errorf("record entry for %s: %w", rec.CredentialID, err)
	}
	logger.InfoContext(ctx, "Entry recorded",
		"credential_id", rec.CredentialID,
		"date", rec.VisitDate,
		"entry_time", rec.EntryTime,
	)
	s.notifier.Entry(rec)
	return nil
}

// RecordExit closes the matching open visit. found is false when there was
// nothing to close, which is not an error.
func (s *visitService) RecordExit(ctx context.Context, req domain.ExitRequest) (bool, error) {
	rec, found, err := s.visitRepo.MarkExit(ctx, req)
	if err != nil {
		return false, fmt.Errorf("record exit for %s: %w", req.CredentialID, err)
	}
	if !found {
		logger.InfoContext(ctx, "No open visit to close",
			"credential_id", req.CredentialID,
			"date", req.VisitDate,
			"day", req.DayOfWeek,
		)
		return false, nil
	}
	logger.InfoContext(ctx, "Exit recorded",
		"credential_id", rec.CredentialID,
		"date", rec.VisitDate,
		"exit_time", rec.ExitTime,
	)
	s.notifier.Exit(*rec)
	return true, nil
}
