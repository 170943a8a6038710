package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedRecord = errors.New("malformed record")

// ParseEntry splits a comma separated entry message into a record. Fields
// past the fifteenth belong to the free text reason and are joined back into
// it.
func ParseEntry(message string) (VisitRecord, error) {
	fields := strings.Split(strings.TrimSpace(message), ",")
	if len(fields) < FieldCount {
		return VisitRecord{}, fmt.Errorf("%w: entry has %d fields, want %d", ErrMalformedRecord, len(fields), FieldCount)
	}

	row := make([]string, FieldCount)
	copy(row, fields[:FieldCount-1])
	row[colReason] = NormalizeReason(strings.Join(fields[FieldCount-1:], ","))
	if strings.TrimSpace(row[colCredentialID]) == "" {
		return VisitRecord{}, fmt.Errorf("%w: entry has no credential id", ErrMalformedRecord)
	}
	return RecordFromRow(row), nil
}

// ParseExit reads "CredentialID,Date,Time,Day".
func ParseExit(message string) (ExitRequest, error) {
	fields := strings.Split(strings.TrimSpace(message), ",")
	if len(fields) != 4 {
		return ExitRequest{}, fmt.Errorf("%w: exit has %d fields, want 4", ErrMalformedRecord, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if fields[0] == "" {
		return ExitRequest{}, fmt.Errorf("%w: exit has no credential id", ErrMalformedRecord)
	}
	// An empty time would leave the visit open while reporting it closed.
	if fields[2] == "" {
		return ExitRequest{}, fmt.Errorf("%w: exit has no time", ErrMalformedRecord)
	}
	return ExitRequest{
		VisitKey: VisitKey{CredentialID: fields[0], VisitDate: fields[1], DayOfWeek: fields[3]},
		ExitTime: fields[2],
	}, nil
}
