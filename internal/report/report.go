package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"leveltwo/internal/attendance"
	"leveltwo/internal/export"
	"leveltwo/internal/model"
)

// ChartSize is how many of the most recent meetings the chart shows.
const ChartSize = 10

var ErrInvalidRange = errors.New("invalid date range")

// Query selects the records a report covers. Empty dates default to the last
// three months.
type Query struct {
	Kind     model.Kind
	From     string
	To       string
	MemberID string
}

// Stats summarises a report.
type Stats struct {
	TotalMeetings     int `json:"total_meetings"`
	TotalStudents     int `json:"total_students"`
	AverageAttendance int `json:"average_attendance"`
	TotalPresent      int `json:"total_present"`
	TotalAbsent       int `json:"total_absent"`
}

// Point is one meeting in the chart series.
type Point struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Absent  int    `json:"absent"`
}

// DateGroup holds the records of one meeting.
type DateGroup struct {
	Point
	Records []attendance.Entry `json:"records"`
}

// Report is the range report shown on the reports screen.
type Report struct {
	Kind     model.Kind         `json:"kind"`
	From     string             `json:"from"`
	To       string             `json:"to"`
	MemberID string             `json:"member_id,omitempty"`
	Stats    Stats              `json:"stats"`
	Chart    []Point            `json:"chart"`
	Dates    []DateGroup        `json:"dates"`
	Records  []attendance.Entry `json:"records"`
}

// Source reads records with member names.
type Source interface {
	Range(ctx context.Context, kind model.Kind, from, to, memberID string) ([]attendance.Entry, error)
}

// Service builds reports and exports.
type Service struct {
	src Source
	now func() time.Time
}

// NewService creates a report service.
func NewService(src Source) *Service {
	return &Service{src: src, now: time.Now}
}

func (s *Service) normalize(q Query) (Query, error) {
	if q.Kind == "" {
		q.Kind = model.KindAttendance
	}
	today := s.now()
	if q.To == "" {
		q.To = today.Format(model.DateLayout)
	}
	if q.From == "" {
		q.From = today.AddDate(0, -3, 0).Format(model.DateLayout)
	}
	if !model.ValidDate(q.From) || !model.ValidDate(q.To) {
		return q, fmt.Errorf("%w: dates must be YYYY-MM-DD", ErrInvalidRange)
	}
	if q.From > q.To {
		return q, fmt.Errorf("%w: from is after to", ErrInvalidRange)
	}
	return q, nil
}

// Build loads and summarises the records of q.
func (s *Service) Build(ctx context.Context, q Query) (Report, error) {
	q, err := s.normalize(q)
	if err != nil {
		return Report{}, err
	}
	entries, err := s.src.Range(ctx, q.Kind, q.From, q.To, q.MemberID)
	if err != nil {
		return Report{}, err
	}
	r := Summarize(q.Kind, entries)
	r.From, r.To, r.MemberID = q.From, q.To, q.MemberID
	return r, nil
}

// Export writes the records of q in format f.
func (s *Service) Export(ctx context.Context, q Query, f export.Format, w io.Writer) error {
	r, err := s.Build(ctx, q)
	if err != nil {
		return err
	}
	return export.Write(w, f, Table(r.Kind, r.Records))
}

// Summarize computes stats, chart and per-date groups from entries.
func Summarize(kind model.Kind, entries []attendance.Entry) Report {
	if kind == "" {
		kind = model.KindAttendance
	}
	r := Report{Kind: kind, Records: entries}
	if r.Records == nil {
		r.Records = []attendance.Entry{}
	}

	members := make(map[string]bool)
	byDate := make(map[string]*DateGroup)
	for _, e := range entries {
		members[e.MemberID] = true
		g, ok := byDate[e.Date]
		if !ok {
			g = &DateGroup{Point: Point{Date: e.Date}}
			byDate[e.Date] = g
		}
		g.Records = append(g.Records, e)
		switch e.Status {
		case kind.Positive():
			g.Present++
			r.Stats.TotalPresent++
		case kind.Negative():
			g.Absent++
			r.Stats.TotalAbsent++
		}
	}
	r.Stats.TotalMeetings = len(byDate)
	r.Stats.TotalStudents = len(members)
	if len(entries) > 0 {
		r.Stats.AverageAttendance = int(math.Round(float64(r.Stats.TotalPresent) / float64(len(entries)) * 100))
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	r.Dates = make([]DateGroup, 0, len(dates))
	for _, d := range dates {
		r.Dates = append(r.Dates, *byDate[d])
	}

	recent := dates
	if len(recent) > ChartSize {
		recent = recent[:ChartSize]
	}
	r.Chart = make([]Point, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		r.Chart = append(r.Chart, byDate[recent[i]].Point)
	}
	return r
}

// Title is the export title of a record book.
func Title(kind model.Kind) string {
	if kind == model.KindVisits {
		return "تقرير الافتقاد"
	}
	return "تقرير الحضور"
}

// Table lays entries out with Arabic headers: date, student, status, notes.
// Empty notes are shown as "-".
func Table(kind model.Kind, entries []attendance.Entry) export.Table {
	t := export.Table{
		Title:   Title(kind),
		Headers: []string{"التاريخ", "الطالب", "الحالة", "الملاحظات"},
		Rows:    make([][]string, 0, len(entries)),
	}
	for _, e := range entries {
		notes := e.Notes
		if notes == "" {
			notes = "-"
		}
		t.Rows = append(t.Rows, []string{e.Date, e.MemberName, e.Status.Label(), notes})
	}
	return t
}
