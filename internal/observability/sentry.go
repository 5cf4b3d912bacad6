package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

var scrubbedHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
}

// scrubEvent drops credentials (session cookie, pending handoff, plugin
// bearer tokens) from request data before it leaves the process.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}

	event.Request.Cookies = ""
	for _, name := range scrubbedHeaders {
		for key := range event.Request.Headers {
			if http.CanonicalHeaderKey(key) == name {
				delete(event.Request.Headers, key)
			}
		}
	}
	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
