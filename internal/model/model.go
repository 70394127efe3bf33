package model

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage format of a meeting date.
const DateLayout = "2006-01-02"

// Kind selects which record book a record belongs to.
type Kind string

const (
	KindAttendance Kind = "attendance"
	KindVisits     Kind = "visits"
)

// Status is the recorded outcome for a member on a date.
type Status string

const (
	StatusPresent    Status = "present"
	StatusAbsent     Status = "absent"
	StatusVisited    Status = "visited"
	StatusNotVisited Status = "not_visited"
)

// ParseKind accepts the path form of a record book.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindAttendance:
		return KindAttendance, true
	case KindVisits:
		return KindVisits, true
	}
	return "", false
}

// Table is the name of the table backing the book.
func (k Kind) Table() string { return string(k) }

// Positive returns present for attendance and visited for visits.
func (k Kind) Positive() Status {
	if k == KindVisits {
		return StatusVisited
	}
	return StatusPresent
}

// Negative returns absent for attendance and not_visited for visits.
func (k Kind) Negative() Status {
	if k == KindVisits {
		return StatusNotVisited
	}
	return StatusAbsent
}

// Allows reports whether s is one of the two statuses of the book.
func (k Kind) Allows(s Status) bool {
	return s == k.Positive() || s == k.Negative()
}

// Label is the Arabic display label of a status.
func (s Status) Label() string {
	switch s {
	case StatusPresent:
		return "حاضر"
	case StatusAbsent:
		return "غائب"
	case StatusVisited:
		return "تم الافتقاد"
	case StatusNotVisited:
		return "لم يُفتقد"
	}
	return string(s)
}

// Member is a student on the roster.
type Member struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Phones    []string   `json:"phones"`
	Notes     string     `json:"notes"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// FirstPhone returns the first phone number or "".
func (m Member) FirstPhone() string {
	if len(m.Phones) == 0 {
		return ""
	}
	return m.Phones[0]
}

// Record is one attendance or visit entry, unique per (MemberID, Date).
type Record struct {
	MemberID   string     `json:"member_id"`
	Date       string     `json:"date"`
	Status     Status     `json:"status"`
	Notes      string     `json:"notes"`
	RecordedBy *string    `json:"recorded_by"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// Role gates the user-management and assignment capabilities.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleServant Role = "servant"
)

// User is a servant account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	PasswordHash []byte    `json:"-"`
}

// Assignment maps a member to the servant responsible for visiting them.
type Assignment struct {
	MemberID  string `json:"member_id"`
	ServantID string `json:"servant_id"`
}

// ValidDate reports whether s is an ISO YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// StringPtr returns nil for "" and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
