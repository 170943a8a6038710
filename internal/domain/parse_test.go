package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/diagnosis/gatekeeper-relay/internal/domain"
)

const entryMessage = "F7,Asha,34,F,1990-02-01,A-100,1_09-00-00.jpg,555-0101,12 Hill Rd,1,2024-01-01,09:00:00,,Mon,meeting at 10:30"

func TestParseEntry(t *testing.T) {
	rec, err := domain.ParseEntry(entryMessage)
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}

	want := strings.Split(entryMessage, ",")
	want[14] = "meeting at 10-30"
	got := rec.Row()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseEntryFoldsExtraFieldsIntoReason(t *testing.T) {
	rec, err := domain.ParseEntry(entryMessage + ", then lunch")
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if rec.ReasonForAccess != "meeting at 10-30, then lunch" {
		t.Errorf("unexpected reason %q", rec.ReasonForAccess)
	}
}

func TestParseEntryTooFewFields(t *testing.T) {
	_, err := domain.ParseEntry("F7,Asha,34")
	if !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestParseEntryRequiresCredential(t *testing.T) {
	fields := strings.Split(entryMessage, ",")
	fields[9] = " "
	_, err := domain.ParseEntry(strings.Join(fields, ","))
	if !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestParseExit(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		want    domain.ExitRequest
		wantErr bool
	}{
		{
			name: "valid",
			msg:  "1,2024-01-01,17:05:00,Mon",
			want: domain.ExitRequest{
				VisitKey: domain.VisitKey{CredentialID: "1", VisitDate: "2024-01-01", DayOfWeek: "Mon"},
				ExitTime: "17:05:00",
			},
		},
		{
			name: "trims whitespace",
			msg:  " 1 , 2024-01-01 ,17:05:00, Mon\n",
			want: domain.ExitRequest{
				VisitKey: domain.VisitKey{CredentialID: "1", VisitDate: "2024-01-01", DayOfWeek: "Mon"},
				ExitTime: "17:05:00",
			},
		},
		{name: "too few", msg: "1,2024-01-01", wantErr: true},
		{name: "too many", msg: "1,2024-01-01,17:05:00,Mon,extra", wantErr: true},
		{name: "empty credential", msg: ",2024-01-01,17:05:00,Mon", wantErr: true},
		{name: "empty time", msg: "1,2024-01-01,,Mon", wantErr: true},
		{name: "blank time", msg: "1,2024-01-01,  ,Mon", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.ParseExit(tc.msg)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrMalformedRecord) {
					t.Fatalf("expected ErrMalformedRecord, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExit: %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseExit = %+v, want %+v", got, tc.want)
			}
		})
	}
}
