package shareholding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ccasswatch/pkg/hkex/hkextest"
)

func TestTrend(t *testing.T) {
	site := hkextest.NewSite(t)
	top := []hkextest.Holding{
		{ID: "A00003", Name: "CHINA SECURITIES", Shares: 900, Pct: "9.00%"},
		{ID: "C00019", Name: "HSBC", Shares: 500, Pct: "5.00%"},
		{ID: "B01451", Name: "GOLDMAN SACHS", Shares: 100, Pct: "1.00%"},
	}
	site.SetHoldings("00700", day("2022-09-16"), top...)
	site.SetHoldings("00700", day("2022-09-14"),
		hkextest.Holding{ID: "C00019", Name: "HSBC", Shares: 450, Pct: "4.50%"},
		hkextest.Holding{ID: "A00003", Name: "CHINA SECURITIES", Shares: 400, Pct: "4.00%"},
		hkextest.Holding{ID: "C00010", Name: "CITIBANK", Shares: 300, Pct: "3.00%"},
	)
	site.SetHoldings("00700", day("2022-09-15"),
		hkextest.Holding{ID: "A00003", Name: "CHINA SECURITIES", Shares: 800, Pct: "8.00%"},
		// same id under another name is a different participant
		hkextest.Holding{ID: "C00019", Name: "HSBC BROKING", Shares: 200, Pct: "2.00%"},
	)
	repo := newRepository(t, site)

	trend, err := repo.Trend(context.Background(), "00700", day("2022-09-14"), day("2022-09-16"), 2)
	require.NoError(t, err)

	got := make([][]any, trend.Len())
	for i := range got {
		got[i] = trend.Row(i)
	}
	assert.Equal(t, [][]any{
		{"2022-09-16", "A00003", "CHINA SECURITIES", int64(900)},
		{"2022-09-16", "C00019", "HSBC", int64(500)},
		{"2022-09-14", "C00019", "HSBC", int64(450)},
		{"2022-09-14", "A00003", "CHINA SECURITIES", int64(400)},
		{"2022-09-15", "A00003", "CHINA SECURITIES", int64(800)},
	}, got)

	posts := site.Posts()
	require.Len(t, posts, 3)
	assert.Equal(t, "2022/09/16", posts[0].Get("txtShareholdingDate"))
	assert.Equal(t, "2022/09/14", posts[1].Get("txtShareholdingDate"))
	assert.Equal(t, "2022/09/15", posts[2].Get("txtShareholdingDate"))

	series := trend.Series()
	require.Len(t, series, 2)
	assert.Equal(t, "CHINA SECURITIES (A00003)", series[0].Participant)
	require.Len(t, series[0].Points, 3)
	assert.Equal(t, day("2022-09-14"), series[0].Points[0].Date)
	assert.Equal(t, int64(900), series[0].Points[2].Shareholding)

	assert.Equal(t, "Shareholding Trend for Top Holders of 00700 (as of 2022-09-16, from 2022-09-14)", trend.Title())
}

func TestTrendNoHolders(t *testing.T) {
	site := hkextest.NewSite(t)
	repo := newRepository(t, site)

	_, err := repo.Trend(context.Background(), "00700", day("2022-09-10"), day("2022-09-16"), 10)
	var noHolders *NoHoldersError
	require.True(t, errors.As(err, &noHolders))
	assert.Equal(t, "None of the CCASS participants holds 00700 on 2022-09-16", err.Error())
	assert.Len(t, site.Posts(), 1, "no daily fetch after an empty top list")
}

func TestTransactions(t *testing.T) {
	site := hkextest.NewSite(t)
	site.SetHoldings("00700", day("2022-09-13"),
		hkextest.Holding{ID: "A00001", Name: "ALPHA", Shares: 500, Pct: "5.00%"},
		hkextest.Holding{ID: "B00002", Name: "BRAVO", Shares: 500, Pct: "5.00%"},
		hkextest.Holding{ID: "C00003", Name: "CHARLIE", Shares: 500, Pct: "5.00%"},
	)
	site.SetHoldings("00700", day("2022-09-14"),
		hkextest.Holding{ID: "A00001", Name: "ALPHA", Shares: 650, Pct: "6.50%"},
		hkextest.Holding{ID: "B00002", Name: "BRAVO", Shares: 550, Pct: "5.50%"},
		hkextest.Holding{ID: "C00003", Name: "CHARLIE", Shares: 500, Pct: "5.00%"},
	)
	site.SetHoldings("00700", day("2022-09-15"),
		hkextest.Holding{ID: "A00001", Name: "ALPHA", Shares: 650, Pct: "6.50%"},
		hkextest.Holding{ID: "B00002", Name: "BRAVO", Shares: 550, Pct: "5.50%"},
		hkextest.Holding{ID: "D00004", Name: "DELTA", Shares: 200, Pct: "2.00%"},
	)
	repo := newRepository(t, site)

	threshold := PercentToFraction(1)
	txs, err := repo.Transactions(context.Background(), "00700", day("2022-09-14"), day("2022-09-15"), threshold)
	require.NoError(t, err)
	require.Len(t, txs.Rows, 3)

	alpha := txs.Rows[0]
	assert.Equal(t, day("2022-09-14"), alpha.Date)
	assert.Equal(t, "ALPHA", alpha.ParticipantName)
	assert.InDelta(t, 0.05, alpha.PreviousPct, 1e-12)
	assert.InDelta(t, 0.065, alpha.CurrentPct, 1e-12)
	assert.InDelta(t, 0.015, alpha.Change, 1e-12)

	// CHARLIE left on the 15th, DELTA arrived; both dated the 15th
	charlie := txs.Rows[1]
	assert.Equal(t, day("2022-09-15"), charlie.Date)
	assert.Equal(t, "CHARLIE", charlie.ParticipantName)
	assert.InDelta(t, 0.05, charlie.PreviousPct, 1e-12)
	assert.Zero(t, charlie.CurrentPct)
	assert.InDelta(t, -0.05, charlie.Change, 1e-12)

	delta := txs.Rows[2]
	assert.Equal(t, "DELTA", delta.ParticipantName)
	assert.Zero(t, delta.PreviousPct)
	assert.InDelta(t, 0.02, delta.Change, 1e-12)

	for _, row := range txs.Rows {
		assert.NotEqual(t, "BRAVO", row.ParticipantName)
	}

	posts := site.Posts()
	require.Len(t, posts, 3, "baseline plus one fetch per day")
	assert.Equal(t, "2022/09/13", posts[0].Get("txtShareholdingDate"))
	assert.Equal(t, "2022/09/14", posts[1].Get("txtShareholdingDate"))
	assert.Equal(t, "2022/09/15", posts[2].Get("txtShareholdingDate"))

	assert.Equal(t, []string{
		"Date", "Participant ID", "Participant Name",
		"Previous Shareholding Percent", "Current Shareholding Percent", "Change in Shareholding Percent",
	}, txs.Header())
}

func TestTransactionsAbortOnFetchError(t *testing.T) {
	searcher := &stubSearcher{errs: map[string]error{"2022-09-15": errors.New("connection reset")}}
	repo := NewRepository(searcher, zaptest.NewLogger(t))

	txs, err := repo.Transactions(context.Background(), "00700", day("2022-09-14"), day("2022-09-17"), 0.01)
	assert.Error(t, err)
	assert.Nil(t, txs)
	assert.Equal(t, []string{"2022-09-13", "2022-09-14", "2022-09-15"}, searcher.calls)
}

func TestDiff(t *testing.T) {
	d := day("2022-09-15")
	prev := []Record{
		{ParticipantID: "A", ParticipantName: "ALPHA", ShareholdingPct: 0.05},
		{ParticipantID: "B", ParticipantName: "BRAVO", ShareholdingPct: 0.05},
	}
	curr := []Record{
		{ParticipantID: "A", ParticipantName: "ALPHA", ShareholdingPct: 0.06},
		{ParticipantID: "B", ParticipantName: "BRAVO", ShareholdingPct: 0.0505},
	}

	rows := Diff(d, prev, curr, 0.01)
	assert.Empty(t, rows, "a change equal to the threshold is not reported")

	rows = Diff(d, prev, curr, 0.0001)
	require.Len(t, rows, 2)
	assert.Equal(t, "ALPHA", rows[0].ParticipantName)
	assert.Equal(t, "BRAVO", rows[1].ParticipantName)

	rows = Diff(d, prev, nil, 0.04)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.InDelta(t, -0.05, r.Change, 1e-12)
		assert.Equal(t, d, r.Date)
	}
}

func TestDiffThresholdIsSymmetric(t *testing.T) {
	d := day("2022-09-15")
	threshold := PercentToFraction(1)
	prev := []Record{
		{ParticipantID: "A", ParticipantName: "ALPHA", ShareholdingPct: 0.05},
		{ParticipantID: "B", ParticipantName: "BRAVO", ShareholdingPct: 0.05},
	}

	up := []Record{
		{ParticipantID: "A", ParticipantName: "ALPHA", ShareholdingPct: 0.06},
		{ParticipantID: "B", ParticipantName: "BRAVO", ShareholdingPct: 0.05},
	}
	assert.Empty(t, Diff(d, prev, up, threshold))

	down := []Record{
		{ParticipantID: "A", ParticipantName: "ALPHA", ShareholdingPct: 0.04},
		{ParticipantID: "B", ParticipantName: "BRAVO", ShareholdingPct: 0.05},
	}
	assert.Empty(t, Diff(d, prev, down, threshold), "a fall equal to the threshold is not reported")

	down[0].ShareholdingPct = 0.0399
	rows := Diff(d, prev, down, threshold)
	require.Len(t, rows, 1)
	assert.Equal(t, -0.0101, rows[0].Change)
}

func TestDiffNeverReportsSmallChanges(t *testing.T) {
	prev := []Record{
		{ParticipantID: "A", ParticipantName: "A", ShareholdingPct: 0.10},
		{ParticipantID: "B", ParticipantName: "B", ShareholdingPct: 0.02},
		{ParticipantID: "C", ParticipantName: "C", ShareholdingPct: 0.003},
	}
	curr := []Record{
		{ParticipantID: "A", ParticipantName: "A", ShareholdingPct: 0.09},
		{ParticipantID: "B", ParticipantName: "B", ShareholdingPct: 0.035},
		{ParticipantID: "D", ParticipantName: "D", ShareholdingPct: 0.004},
	}

	for _, threshold := range []float64{0, 0.001, 0.005, 0.01, 0.02} {
		for _, r := range Diff(day("2022-09-15"), prev, curr, threshold) {
			assert.Greater(t, abs(r.Change), threshold)
		}
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
