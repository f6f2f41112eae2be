package shareholding

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var transactionColumns = []Column{ParticipantName, ParticipantID, ShareholdingPct}

// Transaction is a day-over-day change in one participant's holding.
type Transaction struct {
	Date            time.Time
	ParticipantID   string
	ParticipantName string
	PreviousPct     float64
	CurrentPct      float64
	Change          float64
}

type Transactions struct {
	StockCode string
	Start     time.Time
	End       time.Time
	Threshold float64
	Rows      []Transaction
}

// Transactions reports, for every day from start to end inclusive, the
// participants whose holding moved by more than threshold (a fraction, 0.01
// means one percentage point) against the day before. The day before start
// is fetched as the first baseline.
func (r *Repository) Transactions(ctx context.Context, stockCode string, start time.Time, end time.Time, threshold float64) (*Transactions, error) {
	start, end = Day(start), Day(end)

	prev, err := r.GetDataByStock(ctx, stockCode, start.AddDate(0, 0, -1), WithColumns(transactionColumns...))
	if err != nil {
		return nil, err
	}

	out := &Transactions{
		StockCode: prev.StockCode,
		Start:     start,
		End:       end,
		Threshold: threshold,
		Rows:      []Transaction{},
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		curr, err := r.GetDataByStock(ctx, stockCode, d, WithColumns(transactionColumns...))
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, Diff(d, prev.Records, curr.Records, threshold)...)
		prev = curr
	}

	r.logger.Info("transactions loaded",
		zap.String("stock_code", out.StockCode),
		zap.Float64("threshold", threshold),
		zap.Int("rows", len(out.Rows)))
	return out, nil
}

// Diff joins prev and curr on participant name and id. A participant missing
// on one side counts as holding 0%. Rows whose absolute change is not above
// threshold are dropped; the rest are ordered by name, then id. The change is
// taken in decimal so a rise and a fall of the same size compare alike.
func Diff(date time.Time, prev []Record, curr []Record, threshold float64) []Transaction {
	type pair struct {
		prev, curr float64
	}
	joined := map[participantKey]*pair{}
	get := func(k participantKey) *pair {
		p, ok := joined[k]
		if !ok {
			p = &pair{}
			joined[k] = p
		}
		return p
	}
	for _, rec := range prev {
		get(rec.key()).prev = rec.ShareholdingPct
	}
	for _, rec := range curr {
		get(rec.key()).curr = rec.ShareholdingPct
	}

	keys := make([]participantKey, 0, len(joined))
	for k := range joined {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].name != keys[b].name {
			return keys[a].name < keys[b].name
		}
		return keys[a].id < keys[b].id
	})

	limit := decimal.NewFromFloat(threshold)
	var out []Transaction
	for _, k := range keys {
		p := joined[k]
		change := decimal.NewFromFloat(p.curr).Sub(decimal.NewFromFloat(p.prev))
		if change.Abs().LessThanOrEqual(limit) {
			continue
		}
		out = append(out, Transaction{
			Date:            date,
			ParticipantID:   k.id,
			ParticipantName: k.name,
			PreviousPct:     p.prev,
			CurrentPct:      p.curr,
			Change:          change.InexactFloat64(),
		})
	}
	return out
}

func (t *Transactions) Header() []string {
	pct := ShareholdingPct.String()
	return []string{
		DateHeader,
		ParticipantID.String(),
		ParticipantName.String(),
		"Previous " + pct,
		"Current " + pct,
		"Change in " + pct,
	}
}

func (t *Transactions) Len() int {
	return len(t.Rows)
}

func (t *Transactions) Row(i int) []any {
	r := t.Rows[i]
	return []any{r.Date.Format(DateLayout), r.ParticipantID, r.ParticipantName, r.PreviousPct, r.CurrentPct, r.Change}
}
