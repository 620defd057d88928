// Package activitymap flattens auth activity events into the record shape
// audit consumers and message subjects expect.
package activitymap

import (
	"strings"
	"time"

	"github.com/goliatone/go-authstate"
)

const (
	// MetadataKeyRole stores the canonical role of the event user.
	MetadataKeyRole = "role"
	// MetadataKeyRoleAlias stores the role as received when it was an alias.
	MetadataKeyRoleAlias = "role_alias"
	// MetadataKeyAction names the auth action of action events.
	MetadataKeyAction = "action"
)

const (
	ObjectSession = "session"
	ObjectProfile = "profile"
	ObjectAction  = "action"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*mapper)

type mapper struct {
	channel    string
	objectType string
	anonymous  string
	objectID   func(authstate.ActivityEvent) string
	now        func() time.Time
}

// Normalize converts an activity event into a Normalized record. The object
// is the session, the profile or the action the event family refers to.
func Normalize(event authstate.ActivityEvent, opts ...Option) Normalized {
	m := &mapper{
		channel:   "auth",
		anonymous: "anonymous",
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	out := Normalized{
		ActorID:    strings.TrimSpace(event.UserID),
		Verb:       string(event.EventType),
		ObjectType: m.objectType,
		Channel:    m.channel,
		Metadata:   metadataOf(event),
		OccurredAt: event.OccurredAt,
	}

	if out.ActorID == "" {
		out.ActorID = m.anonymous
	}
	if out.ObjectType == "" {
		out.ObjectType = ObjectTypeOf(event.EventType)
	}
	if m.objectID != nil {
		out.ObjectID = strings.TrimSpace(m.objectID(event))
	} else {
		out.ObjectID = defaultObjectID(event)
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = m.now().UTC()
	}

	return out
}

// ObjectTypeOf maps an event type onto the object it acts on
func ObjectTypeOf(eventType authstate.ActivityEventType) string {
	family, _, _ := strings.Cut(strings.TrimPrefix(string(eventType), "auth."), ".")
	switch family {
	case ObjectProfile:
		return ObjectProfile
	case ObjectAction:
		return ObjectAction
	default:
		return ObjectSession
	}
}

// WithDefaultChannel sets the channel of every record, "auth" by default.
func WithDefaultChannel(channel string) Option {
	return func(m *mapper) {
		if channel = strings.TrimSpace(channel); channel != "" {
			m.channel = channel
		}
	}
}

// WithDefaultObjectType forces the object type instead of deriving it.
func WithDefaultObjectType(objectType string) Option {
	return func(m *mapper) {
		m.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(authstate.ActivityEvent) string) Option {
	return func(m *mapper) {
		m.objectID = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(m *mapper) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			m.anonymous = actorID
		}
	}
}

// WithClock stamps events that carry no occurrence time.
func WithClock(now func() time.Time) Option {
	return func(m *mapper) {
		if now != nil {
			m.now = now
		}
	}
}

// defaultObjectID is the action name for action events and the user otherwise
func defaultObjectID(event authstate.ActivityEvent) string {
	if ObjectTypeOf(event.EventType) == ObjectAction {
		if action, ok := event.Metadata[MetadataKeyAction].(string); ok {
			return action
		}
	}
	return strings.TrimSpace(event.UserID)
}

// metadataOf copies the event metadata and adds the canonical role, so
// consumers never see paciente and patient as different roles.
func metadataOf(event authstate.ActivityEvent) map[string]any {
	if len(event.Metadata) == 0 && event.Role == "" {
		return nil
	}

	out := make(map[string]any, len(event.Metadata)+2)
	for k, v := range event.Metadata {
		out[k] = v
	}

	if event.Role != "" {
		canonical := authstate.CanonicalRole(event.Role)
		out[MetadataKeyRole] = canonical
		if canonical != event.Role {
			out[MetadataKeyRoleAlias] = event.Role
		}
	}
	return out
}
