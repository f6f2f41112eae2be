package shareholding

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

var trendColumns = []Column{ParticipantName, ParticipantID, Shareholding}

// Trend is the daily shareholding of the top holders of a stock. Records
// starts with the holders at End, followed by each day of [Start, End) in
// date order.
type Trend struct {
	StockCode string
	Start     time.Time
	End       time.Time
	Records   []Record
}

// Trend picks the topN holders at end and follows their holdings over every
// day from start up to, not including, end.
func (r *Repository) Trend(ctx context.Context, stockCode string, start time.Time, end time.Time, topN int) (*Trend, error) {
	start, end = Day(start), Day(end)

	top, err := r.GetDataByStock(ctx, stockCode, end, WithColumns(trendColumns...), WithTopN(topN))
	if err != nil {
		return nil, err
	}
	if top.Empty() {
		return nil, &NoHoldersError{StockCode: top.StockCode, Date: end}
	}

	holders := make(map[participantKey]bool, len(top.Records))
	for _, rec := range top.Records {
		holders[rec.key()] = true
	}

	t := &Trend{
		StockCode: top.StockCode,
		Start:     start,
		End:       end,
		Records:   append([]Record(nil), top.Records...),
	}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		daily, err := r.GetDataByStock(ctx, stockCode, d, WithColumns(trendColumns...))
		if err != nil {
			return nil, err
		}
		for _, rec := range daily.Records {
			if holders[rec.key()] {
				t.Records = append(t.Records, rec)
			}
		}
	}

	r.logger.Info("shareholding trend loaded",
		zap.String("stock_code", t.StockCode),
		zap.Int("holders", len(holders)),
		zap.Int("rows", len(t.Records)))
	return t, nil
}

func (t *Trend) Header() []string {
	return []string{DateHeader, ParticipantID.String(), ParticipantName.String(), Shareholding.String()}
}

func (t *Trend) Len() int {
	return len(t.Records)
}

func (t *Trend) Row(i int) []any {
	r := t.Records[i]
	return []any{r.Date.Format(DateLayout), r.ParticipantID, r.ParticipantName, r.Shareholding}
}

type Point struct {
	Date         time.Time
	Shareholding int64
}

// Series is the line of one participant in the trend chart.
type Series struct {
	Participant string
	Points      []Point
}

// Series groups the trend by participant, each line sorted by date. Lines
// come in the order the holders rank at the end date.
func (t *Trend) Series() []Series {
	index := map[string]int{}
	var out []Series
	for _, rec := range t.Records {
		label := rec.Label()
		i, ok := index[label]
		if !ok {
			i = len(out)
			index[label] = i
			out = append(out, Series{Participant: label})
		}
		out[i].Points = append(out[i].Points, Point{Date: rec.Date, Shareholding: rec.Shareholding})
	}
	for _, s := range out {
		sort.SliceStable(s.Points, func(a, b int) bool {
			return s.Points[a].Date.Before(s.Points[b].Date)
		})
	}
	return out
}

// Title is the chart title the dashboard shows above the trend.
func (t *Trend) Title() string {
	return fmt.Sprintf("Shareholding Trend for Top Holders of %s (as of %s, from %s)",
		t.StockCode, t.End.Format(DateLayout), t.Start.Format(DateLayout))
}
