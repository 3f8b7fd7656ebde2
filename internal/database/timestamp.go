package database

import (
	"fmt"
	"time"

	"git-metrics/internal/model"
)

// sqliteTimeLayout is fixed-width so that text comparison orders instants correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05Z"

const dayLayout = "2006-01-02"

// ts renders a timestamp argument for the dialect.
func (q *Queries) ts(t time.Time) any {
	t = model.NormalizeTime(t)
	if q.dialect == SQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// nullTS renders an optional timestamp argument.
func (q *Queries) nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return q.ts(*t)
}

// day renders a calendar-day argument for the dialect.
func (q *Queries) day(t time.Time) any {
	d := Day(t)
	if q.dialect == SQLite {
		return d.Format(dayLayout)
	}
	return d
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// timestamp scans the representations the three drivers use for time columns.
type timestamp struct {
	Time  time.Time
	Valid bool
}

var scanLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	dayLayout,
}

// Scan implements sql.Scanner.
func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time, ts.Valid = time.Time{}, false
		return nil
	case time.Time:
		ts.Time, ts.Valid = v.UTC(), true
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (ts *timestamp) parse(s string) error {
	for _, layout := range scanLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time, ts.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (ts timestamp) ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
