package shareholding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"ccasswatch/pkg/hkex"
)

// Searcher submits one search form and returns the result page.
// *hkex.Session implements it.
type Searcher interface {
	Search(ctx context.Context, q hkex.Query) ([]byte, error)
}

type Repository struct {
	searcher Searcher
	logger   *zap.Logger
}

func NewRepository(searcher Searcher, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{searcher: searcher, logger: logger}
}

type queryOptions struct {
	columns         []Column
	topN            int
	participantID   string
	participantName string
}

type Option func(*queryOptions)

// WithColumns keeps only the given columns. The date is always kept.
func WithColumns(columns ...Column) Option {
	return func(o *queryOptions) {
		o.columns = columns
	}
}

// WithTopN stops after the first n rows. n <= 0 reads every row.
func WithTopN(n int) Option {
	return func(o *queryOptions) {
		o.topN = n
	}
}

// WithParticipant narrows the search to one participant using the form's
// own filters. Empty values are not sent.
func WithParticipant(id string, name string) Option {
	return func(o *queryOptions) {
		o.participantID = id
		o.participantName = name
	}
}

var (
	errNoTable = errors.New("results table not found")
	errNoBody  = errors.New("results table has no body")
)

// GetDataByStock fetches the holdings of stockCode on date.
//
// A page that cannot be parsed is logged and comes back as an empty snapshot
// with ParseErr set. Only transport failures and bad input are returned as
// errors.
func (r *Repository) GetDataByStock(ctx context.Context, stockCode string, date time.Time, opts ...Option) (*Snapshot, error) {
	stockCode = strings.TrimSpace(stockCode)
	if stockCode == "" {
		return nil, ErrEmptyStockCode
	}

	o := queryOptions{columns: AllColumns}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.columns) == 0 {
		o.columns = AllColumns
	}
	for _, c := range o.columns {
		if !c.valid() {
			return nil, fmt.Errorf("unknown column %d", int(c))
		}
	}

	date = Day(date)
	logger := r.logger.With(zap.String("stock_code", stockCode), zap.String("date", date.Format(DateLayout)))
	logger.Info("fetching shareholding data")

	body, err := r.searcher.Search(ctx, hkex.Query{
		StockCode:       stockCode,
		Date:            date,
		ParticipantID:   o.participantID,
		ParticipantName: o.participantName,
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		StockCode: stockCode,
		Date:      date,
		Columns:   append([]Column(nil), o.columns...),
		Records:   []Record{},
	}

	records, err := parseRecords(body, date, o.columns, o.topN)
	if err != nil {
		snap.ParseErr = &ParseError{StockCode: stockCode, Date: date, Err: err}
		logger.Error("could not parse shareholding data", zap.Error(err))
		return snap, nil
	}
	snap.Records = records

	logger.Info("fetched shareholding data", zap.Int("rows", len(records)))
	return snap, nil
}

func parseRecords(body []byte, date time.Time, columns []Column, topN int) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, errNoTable
	}
	tbody := table.Find("tbody").First()
	if tbody.Length() == 0 {
		return nil, errNoBody
	}

	rows := tbody.Find("tr")
	if topN > 0 && rows.Length() > topN {
		rows = rows.Slice(0, topN)
	}

	records := make([]Record, 0, rows.Length())
	var rowErr error
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		rec := Record{Date: date}
		for _, c := range columns {
			v, err := readCell(row, columnDefs[c])
			if err != nil {
				rowErr = fmt.Errorf("row %d: %w", i, err)
				return false
			}
			rec.set(c, v)
		}
		records = append(records, rec)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return records, nil
}

func readCell(row *goquery.Selection, def columnDef) (value, error) {
	cell := row.Find(def.selector).First()
	if cell.Length() == 0 {
		return value{}, fmt.Errorf("no %s cell", def.name)
	}
	text := cell.Find(cellBodySelector).First()
	if text.Length() == 0 {
		return value{}, fmt.Errorf("%s cell has no %s", def.name, cellBodySelector)
	}

	normalized, err := def.normalize(strings.TrimSpace(text.Text()))
	if err != nil {
		return value{}, fmt.Errorf("%s %q: %w", def.name, text.Text(), err)
	}
	v, err := cast(def.kind, normalized)
	if err != nil {
		return value{}, fmt.Errorf("%s %q: %w", def.name, text.Text(), err)
	}
	return v, nil
}
