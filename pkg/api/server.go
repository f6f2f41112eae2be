package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ccasswatch/pkg/export"
	"ccasswatch/pkg/shareholding"
)

// Service is what the handlers need from the shareholding repository.
type Service interface {
	GetDataByStock(ctx context.Context, stockCode string, date time.Time, opts ...shareholding.Option) (*shareholding.Snapshot, error)
	Trend(ctx context.Context, stockCode string, start time.Time, end time.Time, topN int) (*shareholding.Trend, error)
	Transactions(ctx context.Context, stockCode string, start time.Time, end time.Time, threshold float64) (*shareholding.Transactions, error)
}

// Recorder archives served results. It is optional.
type Recorder interface {
	SaveSnapshot(ctx context.Context, s *shareholding.Snapshot) (string, error)
	SaveTrend(ctx context.Context, t *shareholding.Trend) (string, error)
	SaveTransactions(ctx context.Context, t *shareholding.Transactions) (string, error)
}

type Options struct {
	TopN      int
	Threshold float64 // percent
	Recorder  Recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

type Server struct {
	svc  Service
	opts Options
	log  *zap.Logger
}

const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusDanger  = "danger"
)

type Response struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Title   string           `json:"title,omitempty"`
	Data    []map[string]any `json:"data"`
	Series  []Series         `json:"series,omitempty"`
}

// Series is one participant's line in the trend chart.
type Series struct {
	Participant string  `json:"participant"`
	Points      []Point `json:"points"`
}

type Point struct {
	Date         string `json:"date"`
	Shareholding int64  `json:"shareholding"`
}

func trendSeries(t *shareholding.Trend) []Series {
	var out []Series
	for _, s := range t.Series() {
		line := Series{Participant: s.Participant, Points: make([]Point, len(s.Points))}
		for i, p := range s.Points {
			line.Points[i] = Point{Date: p.Date.Format(shareholding.DateLayout), Shareholding: p.Shareholding}
		}
		out = append(out, line)
	}
	return out
}

func NewServer(svc Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	return &Server{svc: svc, opts: opts, log: opts.Logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/holdings", s.handleHoldings)
		r.Get("/trend", s.handleTrend)
		r.Get("/transactions", s.handleTransactions)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stock := strings.TrimSpace(q.Get("stock"))
	if stock == "" {
		writeError(w, http.StatusBadRequest, "Stock Code cannot be empty")
		return
	}
	date, err := s.dayParam(q.Get("date"), -1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := []shareholding.Option{}
	if v := q.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid top %q", v))
			return
		}
		opts = append(opts, shareholding.WithTopN(n))
	}
	if v := q.Get("columns"); v != "" {
		var cols []shareholding.Column
		for _, name := range strings.Split(v, ",") {
			c, err := shareholding.ParseColumn(name)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			cols = append(cols, c)
		}
		opts = append(opts, shareholding.WithColumns(cols...))
	}

	snap, err := s.svc.GetDataByStock(r.Context(), stock, date, opts...)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.record(func(ctx context.Context) (string, error) { return s.opts.Recorder.SaveSnapshot(ctx, snap) })

	switch {
	case snap.Failed():
		writeJSON(w, http.StatusOK, Response{Status: StatusWarning, Message: fmt.Sprintf("Could not read shareholding data for %s on %s", stock, date.Format(shareholding.DateLayout))})
	case snap.Empty():
		writeJSON(w, http.StatusOK, Response{Status: StatusWarning, Message: fmt.Sprintf("None of the CCASS participants holds %s on %s", stock, date.Format(shareholding.DateLayout))})
	default:
		writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Message: "Shareholding data loaded", Data: export.Records(snap)})
	}
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stock, start, end, ok := s.rangeParams(w, q.Get("stock"), q.Get("start"), q.Get("end"))
	if !ok {
		return
	}
	top := s.opts.TopN
	if v := q.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid top %q", v))
			return
		}
		top = n
	}

	trend, err := s.svc.Trend(r.Context(), stock, start, end, top)
	var noHolders *shareholding.NoHoldersError
	if errors.As(err, &noHolders) {
		writeJSON(w, http.StatusOK, Response{Status: StatusWarning, Message: noHolders.Error()})
		return
	}
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.record(func(ctx context.Context) (string, error) { return s.opts.Recorder.SaveTrend(ctx, trend) })

	writeJSON(w, http.StatusOK, Response{
		Status:  StatusSuccess,
		Message: "Shareholding trend loaded",
		Title:   trend.Title(),
		Data:    export.Records(trend),
		Series:  trendSeries(trend),
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stock, start, end, ok := s.rangeParams(w, q.Get("stock"), q.Get("start"), q.Get("end"))
	if !ok {
		return
	}
	pct := s.opts.Threshold
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid threshold %q", v))
			return
		}
		pct = f
	}

	txs, err := s.svc.Transactions(r.Context(), stock, start, end, shareholding.PercentToFraction(pct))
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	s.record(func(ctx context.Context) (string, error) { return s.opts.Recorder.SaveTransactions(ctx, txs) })

	writeJSON(w, http.StatusOK, Response{
		Status:  StatusSuccess,
		Message: "Transactions loaded",
		Title:   fmt.Sprintf("Transactions Above %.2f%%", pct),
		Data:    export.Records(txs),
	})
}

// rangeParams validates the stock code and the date range shared by the trend
// and transaction views. Missing dates default to the last seven days.
func (s *Server) rangeParams(w http.ResponseWriter, stock string, startStr string, endStr string) (string, time.Time, time.Time, bool) {
	stock = strings.TrimSpace(stock)
	if stock == "" {
		writeError(w, http.StatusBadRequest, "Stock Code cannot be empty")
		return "", time.Time{}, time.Time{}, false
	}
	start, err := s.dayParam(startStr, -7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", time.Time{}, time.Time{}, false
	}
	end, err := s.dayParam(endStr, -1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", time.Time{}, time.Time{}, false
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, "start date must not be after end date")
		return "", time.Time{}, time.Time{}, false
	}
	return stock, start, end, true
}

// dayParam parses v, or returns today shifted by offset days when v is empty.
// Dates must fall within the year before today, today excluded.
func (s *Server) dayParam(v string, offset int) (time.Time, error) {
	today := shareholding.Day(s.opts.Now())
	if v == "" {
		return today.AddDate(0, 0, offset), nil
	}
	d, err := shareholding.ParseDay(v)
	if err != nil {
		return time.Time{}, err
	}
	earliest, latest := today.AddDate(-1, 0, 0), today.AddDate(0, 0, -1)
	if d.Before(earliest) || d.After(latest) {
		return time.Time{}, fmt.Errorf("date %s is outside %s to %s", v,
			earliest.Format(shareholding.DateLayout), latest.Format(shareholding.DateLayout))
	}
	return d, nil
}

func (s *Server) record(save func(context.Context) (string, error)) {
	if s.opts.Recorder == nil {
		return
	}
	if _, err := save(context.Background()); err != nil {
		s.log.Warn("could not archive result", zap.Error(err))
	}
}

func (s *Server) upstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, shareholding.ErrEmptyStockCode) {
		writeError(w, http.StatusBadRequest, "Stock Code cannot be empty")
		return
	}
	s.log.Error("shareholding query failed", zap.Error(err))
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Status: StatusDanger, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
