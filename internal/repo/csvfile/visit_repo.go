package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/diagnosis/gatekeeper-relay/internal/domain"
)

var (
	ErrEmptyLog      = errors.New("visit log is empty")
	ErrMissingHeader = errors.New("visit log has no header row")
	ErrAlreadyInside = errors.New("credential already has an open visit")
)

type VisitRepo interface {
	Append(ctx context.Context, rec domain.VisitRecord) error
	MarkExit(ctx context.Context, req domain.ExitRequest) (*domain.VisitRecord, bool, error)
}

// VisitRepoImpl keeps the visit log in a headered CSV file. Every operation
// holds mu for its whole file access, so appends and exit rewrites never
// interleave within the process.
type VisitRepoImpl struct {
	mu   sync.Mutex
	path string
}

func NewVisitRepo(path string) *VisitRepoImpl { return &VisitRepoImpl{path: path} }

func (r *VisitRepoImpl) Path() string { return r.path }

// Append writes rec as one new row. The header is written first when the
// file is missing or empty. A second open visit for the same credential, date
// and day is refused with ErrAlreadyInside.
func (r *VisitRepoImpl) Append(ctx context.Context, rec domain.VisitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.readAll()
	if err != nil && !errors.Is(err, ErrEmptyLog) {
		return err
	}
	if rec.IsOpen() {
		for _, row := range rows {
			if domain.RowMatchesOpen(row, rec.Key()) {
				return fmt.Errorf("%w: %s on %s", ErrAlreadyInside, rec.CredentialID, rec.VisitDate)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open visit log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat visit log: %w", err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(domain.Columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	} else if err := terminateLastLine(f, info.Size()); err != nil {
		return err
	}
	if err := w.Write(rec.Row()); err != nil {
		return fmt.Errorf("append visit: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append visit: %w", err)
	}
	return f.Sync()
}

// terminateLastLine appends a newline when the file's last byte is not one,
// so the next row starts on its own line.
func terminateLastLine(f *os.File, size int64) error {
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("read visit log tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminate last row: %w", err)
	}
	return nil
}

// MarkExit closes the open visit matching req. It returns found=false, and
// leaves the file untouched, when no open visit matches.
func (r *VisitRepoImpl) MarkExit(ctx context.Context, req domain.ExitRequest) (*domain.VisitRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.readAll()
	if err != nil {
		return nil, false, err
	}

	idx := slices.IndexFunc(rows, func(row []string) bool {
		return domain.RowMatchesOpen(row, req.VisitKey)
	})
	if idx < 0 {
		return nil, false, nil
	}
	domain.SetExitTime(rows[idx], req.ExitTime)

	if err := r.rewrite(rows); err != nil {
		return nil, false, err
	}
	rec := domain.RecordFromRow(rows[idx])
	return &rec, true, nil
}

// List returns every visit in file order.
func (r *VisitRepoImpl) List(ctx context.Context) ([]domain.VisitRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.readAll()
	if errors.Is(err, ErrEmptyLog) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.VisitRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.RecordFromRow(row))
	}
	return out, nil
}

// readAll returns the data rows below the header. Caller holds mu.
func (r *VisitRepoImpl) readAll() ([][]string, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrEmptyLog
	}
	if err != nil {
		return nil, fmt.Errorf("open visit log: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyLog
	}
	if err != nil {
		return nil, fmt.Errorf("read visit log header: %w", err)
	}
	if !slices.Equal(header, domain.Columns) {
		return nil, ErrMissingHeader
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read visit log: %w", err)
	}
	return rows, nil
}

// rewrite replaces the log with header plus rows through a temp file in the
// same directory. Caller holds mu.
func (r *VisitRepoImpl) rewrite(rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".visits-*.csv")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(domain.Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write visit log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp log: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace visit log: %w", err)
	}
	return nil
}
