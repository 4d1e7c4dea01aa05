package speech

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies every error returned by this package
type Kind int

const (
	KindUnknown Kind = iota
	KindInitialization
	KindAuthentication
	KindValidation
	KindNetwork
	KindRateLimit
	KindServiceUnavailable
)

// String returns the kind name used in error messages, e.g. rate_limit.
func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "initialization"
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindRateLimit:
		return "rate_limit"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrInitialization     = &Error{Kind: KindInitialization}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrRateLimit          = &Error{Kind: KindRateLimit}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
)

// ErrStreamClosed is returned by Recv after the consumer closed the stream.
var ErrStreamClosed = errors.New("audio stream closed")

// Error is the single error type of the speech client.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	// RetryAfter is only set for KindRateLimit when the service sent a hint.
	RetryAfter time.Duration
	Message    string
	Err        error
}

// Error formats the operation, kind, status and message.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can write errors.Is(err, speech.ErrRateLimit).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// RetryAfterOf returns the retry hint carried by a rate limit error, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var se *Error
	if errors.As(err, &se) && se.Kind == KindRateLimit && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return newError(KindValidation, "validate", format, args...)
}

func wrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ErrorFromStatus maps a non-success HTTP status and its body into the taxonomy.
func ErrorFromStatus(op string, resp *http.Response, body []byte) *Error {
	e := &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest:
		e.Kind = KindValidation
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e.Kind = KindAuthentication
	case code == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case code >= 500 && code <= 599:
		e.Kind = KindServiceUnavailable
	default:
		e.Kind = KindNetwork
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
