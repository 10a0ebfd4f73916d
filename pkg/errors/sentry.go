package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/aeroride/carpool/pkg/common"
)

// SentryConfig holds the error tracking settings. Identity fields come from
// the caller's config layer; sampling is derived from the environment.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
	Debug       bool
}

// InitSentry initializes the Sentry SDK. Returns an error when no DSN is
// configured so the caller can log and continue without tracking.
func InitSentry(config *SentryConfig) error {
	if config.DSN == "" {
		return fmt.Errorf("sentry DSN is not configured")
	}

	tracesSampleRate := 1.0
	if config.Environment == "production" {
		tracesSampleRate = 0.1
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.DSN,
		Environment:      config.Environment,
		Release:          config.Release,
		ServerName:       config.ServerName,
		Debug:            config.Debug,
		SampleRate:       1.0,
		EnableTracing:    true,
		TracesSampleRate: tracesSampleRate,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// Client-side noise (validation, auth) never reaches this level;
			// drop anything below warning that slips through.
			if event.Level == sentry.LevelInfo || event.Level == sentry.LevelDebug {
				return nil
			}
			return event
		},
		BeforeBreadcrumb: func(breadcrumb *sentry.Breadcrumb, hint *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			if breadcrumb.Category == "http" && breadcrumb.Data != nil {
				delete(breadcrumb.Data, "Authorization")
				delete(breadcrumb.Data, "Cookie")
			}
			return breadcrumb
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return nil
}

// Flush flushes the Sentry buffer.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// ShouldReport decides whether a request error is operationally interesting.
// The marketplace taxonomy splits cleanly: anything the client can fix
// (validation, auth, forbidden, capacity, state) stays out of the tracker;
// payment failures are reported even though they surface as 402, because a
// PSP rejecting charges is something on-call needs to see.
func ShouldReport(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	var appErr *common.AppError
	if stderrors.As(err, &appErr) {
		switch appErr.ErrorCode {
		case common.CodePaymentError, common.CodeInternal, common.CodeRateLimited:
			return true
		default:
			return false
		}
	}

	// Untyped errors: skip plain client mistakes, report everything else.
	if statusCode >= 400 && statusCode < 500 && statusCode != 429 {
		return false
	}
	return true
}

// CaptureSettlementIssue reports a money-path failure that survived its own
// request: a refund that errored after the cancellation committed, a
// withdrawal hold that could not be reversed. These always need a human, so
// they bypass the status-code filtering entirely.
func CaptureSettlementIssue(issue string, fields map[string]interface{}) *sentry.EventID {
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = issue
	event.Tags = map[string]string{"concern": "settlement"}
	event.Extra = fields
	return sentry.CaptureEvent(event)
}

// AddBreadcrumbForRequest records a request on the hub for error context.
func AddBreadcrumbForRequest(method, url string, statusCode int, duration time.Duration) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "http",
		Category:  "http.request",
		Level:     sentry.LevelInfo,
		Message:   fmt.Sprintf("%s %s", method, url),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"method":      method,
			"url":         url,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
		},
	})
}
