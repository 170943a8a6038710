package domain

import "strings"

// Columns is the header of the visit log. Order is fixed: downstream readers
// address fields by position.
var Columns = []string{
	"F_ID", "Name", "Age", "Gender", "DOB", "A_No", "Image", "P_No",
	"Address", "RFID", "Date", "E_Time", "Ex_Time", "Day", "RTI",
}

// FieldCount is the number of columns in a visit row.
const FieldCount = 15

const (
	colCredentialID = 9
	colVisitDate    = 10
	colExitTime     = 12
	colDayOfWeek    = 13
	colReason       = 14
)

// VisitRecord is one person-visit row of the log.
type VisitRecord struct {
	FacilityID      string
	Name            string
	Age             string
	Gender          string
	DateOfBirth     string
	AccessNumber    string
	ImageFilename   string
	PhoneNumber     string
	Address         string
	CredentialID    string
	VisitDate       string
	EntryTime       string
	ExitTime        string
	DayOfWeek       string
	ReasonForAccess string
}

// VisitKey identifies the open visit a credential may have on a given day.
type VisitKey struct {
	CredentialID string
	VisitDate    string
	DayOfWeek    string
}

// ExitRequest is a departure reported by the controller.
type ExitRequest struct {
	VisitKey
	ExitTime string
}

// RecordFromRow maps a positional row onto a record. Missing trailing
// columns are left empty.
func RecordFromRow(row []string) VisitRecord {
	at := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return VisitRecord{
		FacilityID:      at(0),
		Name:            at(1),
		Age:             at(2),
		Gender:          at(3),
		DateOfBirth:     at(4),
		AccessNumber:    at(5),
		ImageFilename:   at(6),
		PhoneNumber:     at(7),
		Address:         at(8),
		CredentialID:    at(colCredentialID),
		VisitDate:       at(colVisitDate),
		EntryTime:       at(11),
		ExitTime:        at(colExitTime),
		DayOfWeek:       at(colDayOfWeek),
		ReasonForAccess: at(colReason),
	}
}

// Row returns the record in column order.
func (r VisitRecord) Row() []string {
	return []string{
		r.FacilityID, r.Name, r.Age, r.Gender, r.DateOfBirth, r.AccessNumber,
		r.ImageFilename, r.PhoneNumber, r.Address, r.CredentialID, r.VisitDate,
		r.EntryTime, r.ExitTime, r.DayOfWeek, r.ReasonForAccess,
	}
}

func (r VisitRecord) Key() VisitKey {
	return VisitKey{CredentialID: r.CredentialID, VisitDate: r.VisitDate, DayOfWeek: r.DayOfWeek}
}

// IsOpen reports whether the visit has no exit time yet.
func (r VisitRecord) IsOpen() bool {
	return r.ExitTime == ""
}

// Payload keys the record by its column names for viewers.
func (r VisitRecord) Payload() map[string]string {
	row := r.Row()
	out := make(map[string]string, len(Columns))
	for i, col := range Columns {
		out[col] = row[i]
	}
	return out
}

// NormalizeReason replaces colons in the free text field so it stays safe
// for consumers that split on them.
func NormalizeReason(s string) string {
	return strings.ReplaceAll(s, ":", "-")
}

// RowMatchesOpen reports whether a raw log row is the open visit for key.
// Rows too short to carry the day column never match.
func RowMatchesOpen(row []string, key VisitKey) bool {
	if len(row) <= colDayOfWeek {
		return false
	}
	return row[colCredentialID] == key.CredentialID &&
		row[colVisitDate] == key.VisitDate &&
		row[colDayOfWeek] == key.DayOfWeek &&
		row[colExitTime] == ""
}

// SetExitTime writes t into the exit column of a raw row.
func SetExitTime(row []string, t string) {
	row[colExitTime] = t
}
