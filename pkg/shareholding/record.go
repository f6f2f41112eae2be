package shareholding

import (
	"errors"
	"fmt"
	"time"
)

var ErrEmptyStockCode = errors.New("stock code cannot be empty")

const DateLayout = "2006-01-02"

// Record is one participant's holding of a stock on one day.
type Record struct {
	Date            time.Time
	ParticipantID   string
	ParticipantName string
	Shareholding    int64
	ShareholdingPct float64 // fraction, 0.055 means 5.5%
}

// Label names the participant the way the trend chart legend does.
func (r Record) Label() string {
	return fmt.Sprintf("%s (%s)", r.ParticipantName, r.ParticipantID)
}

func (r *Record) set(c Column, v value) {
	switch c {
	case ParticipantID:
		r.ParticipantID = v.str
	case ParticipantName:
		r.ParticipantName = v.str
	case Shareholding:
		r.Shareholding = v.i
	case ShareholdingPct:
		r.ShareholdingPct = v.f
	}
}

func (r Record) get(c Column) any {
	switch c {
	case ParticipantID:
		return r.ParticipantID
	case ParticipantName:
		return r.ParticipantName
	case Shareholding:
		return r.Shareholding
	case ShareholdingPct:
		return r.ShareholdingPct
	}
	return nil
}

// participantKey is the join key of the reconciliations.
type participantKey struct {
	name string
	id   string
}

func (r Record) key() participantKey {
	return participantKey{name: r.ParticipantName, id: r.ParticipantID}
}

// ParseError says the result page did not have the expected layout.
type ParseError struct {
	StockCode string
	Date      time.Time
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse shareholding of %s on %s: %v", e.StockCode, e.Date.Format(DateLayout), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NoHoldersError is returned by Trend when nobody holds the stock at the end
// of the window.
type NoHoldersError struct {
	StockCode string
	Date      time.Time
}

func (e *NoHoldersError) Error() string {
	return fmt.Sprintf("None of the CCASS participants holds %s on %s", e.StockCode, e.Date.Format(DateLayout))
}

// Day drops the clock part of t.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDay(s string) (time.Time, error) {
	if len(s) > len(DateLayout) {
		// date pickers send "2022-09-15T00:00:00"
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
