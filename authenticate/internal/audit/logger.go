// Package audit publishes auth lifecycle events to the message bus.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vidcat/vidcat-stack/authenticate/internal/metrics"
	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
	"github.com/vidcat/vidcat-stack/common/logging"
	"github.com/vidcat/vidcat-stack/common/messaging"
	"github.com/vidcat/vidcat-stack/common/middleware"
)

// Event is the JSON body of every auth lifecycle message.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	Role       string    `json:"role,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Logger hands events to a publisher. Failures are logged and counted,
// never returned: an unreachable broker must not fail a login.
type Logger struct {
	publisher messaging.Publisher
	logger    *logging.Logger
	now       func() time.Time
}

func NewLogger(publisher messaging.Publisher, logger *logging.Logger) *Logger {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Logger{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (l *Logger) UserRegistered(ctx context.Context, user *models.User) {
	l.emit(ctx, messaging.SubjectAuthUserRegistered, userEvent(user))
}

func (l *Logger) SessionStarted(ctx context.Context, user *models.User) {
	l.emit(ctx, messaging.SubjectAuthSessionLogin, userEvent(user))
}

// TokenRefreshed records a rotation. Refresh does not load the user, so only
// the token subject is known.
func (l *Logger) TokenRefreshed(ctx context.Context, username string) {
	l.emit(ctx, messaging.SubjectAuthTokenRefreshed, Event{Username: username})
}

func userEvent(user *models.User) Event {
	return Event{
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
	}
}

func (l *Logger) emit(ctx context.Context, subject string, ev Event) {
	if l == nil {
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		l.logger.WarnContext(ctx, "failed to generate event ID", logging.Error(err))
		return
	}
	ev.ID = id.String()
	ev.Type = subject
	ev.OccurredAt = l.now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to encode auth event", logging.Subject(subject), logging.Error(err))
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return
	}

	var opts []messaging.PublishOption
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		opts = append(opts, messaging.WithHeader(middleware.RequestIDHeader, requestID))
	}

	if err := l.publisher.PublishMsg(ctx, messaging.NewMessage(subject, data, opts...)); err != nil {
		l.logger.WarnContext(ctx, "failed to publish auth event",
			logging.Subject(subject),
			logging.Username(ev.Username),
			logging.Error(err),
		)
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return
	}
	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
}
