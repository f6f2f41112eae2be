// Package hkextest serves a fake CCASS search page for tests.
package hkextest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	ViewState          = "dDwtMTA4NzM0NDQ0Njs7Pg=="
	ViewStateGenerator = "3B6C4E8C"
)

// Holding is one row of a result table. Pct is the text shown by the site,
// for example "5.50%".
type Holding struct {
	ID     string
	Name   string
	Shares int64
	Pct    string
}

type Site struct {
	*httptest.Server

	mu    sync.Mutex
	pages map[string]string
	posts []url.Values
	gets  int

	// SearchStatus, when set, is returned for every POST.
	SearchStatus int
	// OmitGenerator drops the __VIEWSTATEGENERATOR field from the search page.
	OmitGenerator bool
}

func NewSite(t testing.TB) *Site {
	s := &Site{pages: map[string]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func key(stockCode string, date string) string {
	return stockCode + "|" + date
}

// SetHoldings makes a search for stockCode on date return holdings.
func (s *Site) SetHoldings(stockCode string, date time.Time, holdings ...Holding) {
	s.SetPage(stockCode, date, ResultPage(holdings))
}

func (s *Site) SetPage(stockCode string, date time.Time, page string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[key(stockCode, date.Format("2006/01/02"))] = page
}

// Posts returns the decoded form of every search received so far.
func (s *Site) Posts() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.posts))
	copy(out, s.posts)
	return out
}

func (s *Site) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *Site) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		s.gets++
		s.mu.Unlock()
		fmt.Fprint(w, s.searchPage())
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.posts = append(s.posts, r.PostForm)
		page, ok := s.pages[key(r.PostForm.Get("txtStockCode"), r.PostForm.Get("txtShareholdingDate"))]
		s.mu.Unlock()

		if s.SearchStatus != 0 {
			http.Error(w, "service unavailable", s.SearchStatus)
			return
		}
		if r.PostForm.Get("__VIEWSTATE") != ViewState {
			http.Error(w, "invalid viewstate", http.StatusBadRequest)
			return
		}
		if !ok {
			page = NoRecordPage
		}
		fmt.Fprint(w, page)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Site) searchPage() string {
	var b strings.Builder
	b.WriteString(`<html><body><form method="post" action="./searchsdw.aspx" id="form1">`)
	fmt.Fprintf(&b, `<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="%s" />`, ViewState)
	if !s.OmitGenerator {
		fmt.Fprintf(&b, `<input type="hidden" name="__VIEWSTATEGENERATOR" id="__VIEWSTATEGENERATOR" value="%s" />`, ViewStateGenerator)
	}
	b.WriteString(`<input name="txtStockCode" type="text" id="txtStockCode" /></form></body></html>`)
	return b.String()
}

// NoRecordPage is what the site shows when a search matches nothing.
const NoRecordPage = `<html><body><div id="pnlResult"><div class="alert">No match record found.</div></div></body></html>`

// ResultPage renders holdings the way the disclosure site lays out its
// participant table, mobile labels included.
func ResultPage(holdings []Holding) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="search-details-table-container">`)
	b.WriteString(`<table class="table table-scroll table-sort table-mobile-list"><thead><tr>`)
	b.WriteString(`<th>Participant ID</th><th>Name of CCASS Participant</th><th>Address</th><th>Shareholding</th><th>% of the total number of Issued Shares</th>`)
	b.WriteString(`</tr></thead><tbody>`)
	for _, h := range holdings {
		b.WriteString(`<tr>`)
		cell(&b, "col-participant-id", "Participant ID:", h.ID)
		cell(&b, "col-participant-name", "Name of CCASS Participant:", h.Name)
		cell(&b, "col-address", "Address:", "")
		cell(&b, "col-shareholding text-right", "Shareholding:", groupThousands(h.Shares))
		cell(&b, "col-shareholding-percent text-right", "% of the total number of Issued Shares:", h.Pct)
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table></div></body></html>`)
	return b.String()
}

func cell(b *strings.Builder, class string, label string, value string) {
	fmt.Fprintf(b, `<td class="%s"><div class="mobile-list-heading">%s</div><div class="mobile-list-body">%s</div></td>`,
		class, html.EscapeString(label), html.EscapeString(value))
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	var out []byte
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}
