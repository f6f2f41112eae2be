package hkex

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrInvalidQuery = errors.New("hkex: stock code and date are required")

type HTTPError struct {
	StatusCode int
	Status     string
	Err        error
}

func NewHTTPError(statusCode int, err error) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Err:        err,
	}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hkex: status %d: %s", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("hkex: status %d %s", e.StatusCode, e.Status)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// SessionInitError reports that the search page could not supply the form
// tokens. No query can be made without them.
type SessionInitError struct {
	URL   string
	Field string // missing hidden field, empty when the fetch itself failed
	Err   error
}

func (e *SessionInitError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("hkex: session init %s: hidden field %s not found", e.URL, e.Field)
	}
	return fmt.Sprintf("hkex: session init %s: %v", e.URL, e.Err)
}

func (e *SessionInitError) Unwrap() error {
	return e.Err
}
