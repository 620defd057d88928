// Package natssink publishes auth activity events to NATS subjects.
package natssink

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/activitymap"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the activity event type
const DefaultSubjectPrefix = "authstate.activity"

// Publisher is the subset of *nats.Conn used by the sink
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink implements authstate.ActivitySink. Each event is normalized and
// published as JSON on <prefix>.<event type>.
type Sink struct {
	publisher Publisher
	prefix    string
	opts      []activitymap.Option
}

var _ authstate.ActivitySink = (*Sink)(nil)

// New creates a sink over publisher
func New(publisher Publisher, opts ...activitymap.Option) *Sink {
	return &Sink{
		publisher: publisher,
		prefix:    DefaultSubjectPrefix,
		opts:      opts,
	}
}

// WithSubjectPrefix overrides DefaultSubjectPrefix
func (s *Sink) WithSubjectPrefix(prefix string) *Sink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix != "" {
		s.prefix = prefix
	}
	return s
}

// Subject returns the subject an event type is published on
func (s *Sink) Subject(eventType authstate.ActivityEventType) string {
	return s.prefix + "." + string(eventType)
}

// Record implements authstate.ActivitySink.
func (s *Sink) Record(ctx context.Context, event authstate.ActivityEvent) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(activitymap.Normalize(event, s.opts...))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode activity event")
	}

	subject := s.Subject(event.EventType)
	if err := s.publisher.Publish(subject, payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to publish activity event").
			WithMetadata(map[string]any{"subject": subject})
	}
	return nil
}

// Connect dials the NATS server with reconnect handlers that report to logger
func Connect(url, name string, logger authstate.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = authstate.DefaultLogger()
	}
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to connect to nats").
			WithMetadata(map[string]any{"url": url})
	}
	return conn, nil
}
