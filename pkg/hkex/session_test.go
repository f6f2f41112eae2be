package hkex_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ccasswatch/pkg/hkex"
	"ccasswatch/pkg/hkex/hkextest"
)

func fixedNow() time.Time {
	return time.Date(2022, time.September, 16, 9, 30, 0, 0, time.UTC)
}

func newSession(t *testing.T, site *hkextest.Site) *hkex.Session {
	t.Helper()
	s, err := hkex.NewSession(context.Background(), hkex.Options{
		SourceURL: site.URL,
		UserAgent: "ccasswatch-test",
		Logger:    zaptest.NewLogger(t),
		Now:       fixedNow,
	})
	require.NoError(t, err)
	return s
}

func TestNewSessionReadsTokens(t *testing.T) {
	site := hkextest.NewSite(t)
	s := newSession(t, site)

	assert.Equal(t, 1, site.Gets())
	assert.Equal(t, "20220916", s.Today())
	assert.NotEqual(t, uuid.Nil, s.ID)

	payload, err := s.BuildPayload(hkex.Query{StockCode: "00700", Date: fixedNow()})
	require.NoError(t, err)

	form, err := url.ParseQuery(string(payload))
	require.NoError(t, err)
	assert.Equal(t, hkextest.ViewState, form.Get("__VIEWSTATE"))
	assert.Equal(t, hkextest.ViewStateGenerator, form.Get("__VIEWSTATEGEN"))
	assert.Equal(t, "20220916", form.Get("today"))
}

func TestNewSessionMissingField(t *testing.T) {
	site := hkextest.NewSite(t)
	site.OmitGenerator = true

	_, err := hkex.NewSession(context.Background(), hkex.Options{SourceURL: site.URL})
	require.Error(t, err)

	var initErr *hkex.SessionInitError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "__VIEWSTATEGENERATOR", initErr.Field)
}

func TestNewSessionBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := hkex.NewSession(context.Background(), hkex.Options{SourceURL: srv.URL})

	var initErr *hkex.SessionInitError
	require.True(t, errors.As(err, &initErr))
	var httpErr *hkex.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestNewSessionUnreachable(t *testing.T) {
	site := hkextest.NewSite(t)
	addr := site.URL
	site.Close()

	_, err := hkex.NewSession(context.Background(), hkex.Options{SourceURL: addr})
	var initErr *hkex.SessionInitError
	assert.True(t, errors.As(err, &initErr))
}

func TestBuildPayload(t *testing.T) {
	s := newSession(t, hkextest.NewSite(t))
	date := time.Date(2022, time.September, 15, 0, 0, 0, 0, time.UTC)

	payload, err := s.BuildPayload(hkex.Query{StockCode: "00700", Date: date})
	require.NoError(t, err)
	form, err := url.ParseQuery(string(payload))
	require.NoError(t, err)

	assert.Equal(t, "btnSearch", form.Get("__EVENTTARGET"))
	assert.Contains(t, form, "__EVENTARGUMENT")
	assert.Equal(t, "shareholding", form.Get("sortBy"))
	assert.Equal(t, "desc", form.Get("sortDirection"))
	assert.Equal(t, "2022/09/15", form.Get("txtShareholdingDate"))
	assert.Equal(t, "00700", form.Get("txtStockCode"))
	assert.NotContains(t, form, "txtParticipantID")
	assert.NotContains(t, form, "txtParticipantName")

	payload, err = s.BuildPayload(hkex.Query{
		StockCode:       "00700",
		Date:            date,
		ParticipantID:   "C00019",
		ParticipantName: "THE HONGKONG AND SHANGHAI BANKING",
	})
	require.NoError(t, err)
	form, err = url.ParseQuery(string(payload))
	require.NoError(t, err)
	assert.Equal(t, "C00019", form.Get("txtParticipantID"))
	assert.Equal(t, "THE HONGKONG AND SHANGHAI BANKING", form.Get("txtParticipantName"))
}

func TestBuildPayloadRequiresStockAndDate(t *testing.T) {
	s := newSession(t, hkextest.NewSite(t))

	_, err := s.BuildPayload(hkex.Query{Date: fixedNow()})
	assert.ErrorIs(t, err, hkex.ErrInvalidQuery)

	_, err = s.BuildPayload(hkex.Query{StockCode: "00700"})
	assert.ErrorIs(t, err, hkex.ErrInvalidQuery)
}

func TestSearch(t *testing.T) {
	site := hkextest.NewSite(t)
	date := time.Date(2022, time.September, 15, 0, 0, 0, 0, time.UTC)
	site.SetHoldings("00700", date, hkextest.Holding{ID: "A00003", Name: "CHINA SECURITIES DEPOSITORY", Shares: 1200, Pct: "12.00%"})
	s := newSession(t, site)

	body, err := s.Search(context.Background(), hkex.Query{StockCode: "00700", Date: date})
	require.NoError(t, err)
	assert.Contains(t, string(body), "CHINA SECURITIES DEPOSITORY")

	posts := site.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "00700", posts[0].Get("txtStockCode"))
}

func TestSearchBadStatus(t *testing.T) {
	site := hkextest.NewSite(t)
	s := newSession(t, site)
	site.SearchStatus = http.StatusInternalServerError

	_, err := s.Search(context.Background(), hkex.Query{StockCode: "00700", Date: fixedNow()})
	var httpErr *hkex.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}
