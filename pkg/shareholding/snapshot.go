package shareholding

import (
	"time"
)

// Snapshot is the result of one search: the holdings of one stock on one
// day, in the order the site returned them.
type Snapshot struct {
	StockCode string
	Date      time.Time
	Columns   []Column
	Records   []Record

	// ParseErr is set when the page could not be read. Records is then empty.
	// A nil ParseErr with no records means nobody held the stock that day.
	ParseErr error
}

func (s *Snapshot) Empty() bool {
	return len(s.Records) == 0
}

func (s *Snapshot) Failed() bool {
	return s.ParseErr != nil
}

func (s *Snapshot) Header() []string {
	h := make([]string, 0, len(s.Columns)+1)
	h = append(h, DateHeader)
	for _, c := range s.Columns {
		h = append(h, c.String())
	}
	return h
}

func (s *Snapshot) Len() int {
	return len(s.Records)
}

func (s *Snapshot) Row(i int) []any {
	r := s.Records[i]
	row := make([]any, 0, len(s.Columns)+1)
	row = append(row, r.Date.Format(DateLayout))
	for _, c := range s.Columns {
		row = append(row, r.get(c))
	}
	return row
}

