package hkex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	viewStateID          = "__VIEWSTATE"
	viewStateGeneratorID = "__VIEWSTATEGENERATOR"

	queryDateLayout = "2006/01/02"
	todayLayout     = "20060102"
)

type Options struct {
	SourceURL  string
	UserAgent  string
	HTTPClient *http.Client
	Logger     *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Query is one form submission. ParticipantID and ParticipantName are
// optional filters and are left out of the payload when empty.
type Query struct {
	StockCode       string
	Date            time.Time
	ParticipantID   string
	ParticipantName string
}

// Session holds the anonymous form tokens of the disclosure search page. It
// is read-only once NewSession returns.
type Session struct {
	ID uuid.UUID

	sourceURL string
	userAgent string
	client    *http.Client
	logger    *zap.Logger

	viewState          string
	viewStateGenerator string
	today              string
}

// NewSession fetches the search page once and keeps its hidden form tokens
// for the lifetime of the returned value.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		ID:        uuid.New(),
		sourceURL: opts.SourceURL,
		userAgent: opts.UserAgent,
		client:    opts.HTTPClient,
	}
	s.logger = opts.Logger.With(zap.String("session_id", s.ID.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return nil, &SessionInitError{URL: s.sourceURL, Err: err}
	}
	s.setHeaders(req)

	res, err := s.client.Do(req)
	if err != nil {
		return nil, &SessionInitError{URL: s.sourceURL, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &SessionInitError{URL: s.sourceURL, Err: NewHTTPError(res.StatusCode, nil)}
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, &SessionInitError{URL: s.sourceURL, Err: err}
	}

	var ok bool
	if s.viewState, ok = doc.Find("#" + viewStateID).Attr("value"); !ok {
		return nil, &SessionInitError{URL: s.sourceURL, Field: viewStateID}
	}
	if s.viewStateGenerator, ok = doc.Find("#" + viewStateGeneratorID).Attr("value"); !ok {
		return nil, &SessionInitError{URL: s.sourceURL, Field: viewStateGeneratorID}
	}
	s.today = opts.Now().Format(todayLayout)

	s.logger.Info("session initialized",
		zap.String("source", s.sourceURL),
		zap.String("today", s.today))
	return s, nil
}

// BuildPayload returns the url-encoded search form for q.
func (s *Session) BuildPayload(q Query) ([]byte, error) {
	if q.StockCode == "" || q.Date.IsZero() {
		return nil, ErrInvalidQuery
	}

	form := url.Values{}
	form.Set("__EVENTTARGET", "btnSearch")
	form.Set("__EVENTARGUMENT", "")
	form.Set("sortBy", "shareholding")
	form.Set("sortDirection", "desc")

	form.Set("__VIEWSTATE", s.viewState)
	form.Set("__VIEWSTATEGEN", s.viewStateGenerator)
	form.Set("today", s.today)

	form.Set("txtShareholdingDate", q.Date.Format(queryDateLayout))
	form.Set("txtStockCode", q.StockCode)

	if q.ParticipantID != "" {
		form.Set("txtParticipantID", q.ParticipantID)
	}
	if q.ParticipantName != "" {
		form.Set("txtParticipantName", q.ParticipantName)
	}

	return []byte(form.Encode()), nil
}

// Search submits q and returns the raw HTML of the result page.
func (s *Session) Search(ctx context.Context, q Query) ([]byte, error) {
	payload, err := s.BuildPayload(q)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sourceURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s on %s: %w", q.StockCode, q.Date.Format(queryDateLayout), err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, NewHTTPError(res.StatusCode, fmt.Errorf("search %s: %s", q.StockCode, strings.TrimSpace(truncate(string(body), 200))))
	}
	return body, nil
}

func (s *Session) Today() string {
	return s.today
}

func (s *Session) setHeaders(req *http.Request) {
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
