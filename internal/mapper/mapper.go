package mapper

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/service"
)

var (
	// ErrUnsupportedEventType is returned for event types outside the
	// routing table.
	ErrUnsupportedEventType = errors.New("unsupported event type")
	// ErrInvalidEvent is returned when required event fields are missing.
	// Nothing is enqueued in that case.
	ErrInvalidEvent = errors.New("invalid event data")
)

// Enqueuer is the queue store surface the mapper writes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *model.Notification) (string, error)
}

// RecipientResolver resolves the guardians entitled to a child's events.
type RecipientResolver interface {
	ListGuardianIDs(ctx context.Context, childID string) ([]string, error)
}

// TemplateStore fetches per-type message templates.
type TemplateStore interface {
	GetByType(ctx context.Context, notifType string) (*model.Template, error)
}

// MapResult reports what an event produced.
type MapResult struct {
	NotificationIDs []string
	Count           int
}

// route describes one supported event type: the fields it must carry and the
// built-in fallback templates used when no stored template is active.
type route struct {
	required     []string
	defaultTitle string
	defaultBody  string
}

var routes = map[string]route{
	"attendance.checkIn": {
		required:     []string{"child_id", "child_name", "time"},
		defaultTitle: "{{child_name}} checked in",
		defaultBody:  "{{child_name}} was checked in at {{time}}.",
	},
	"attendance.checkOut": {
		required:     []string{"child_id", "child_name", "time"},
		defaultTitle: "{{child_name}} checked out",
		defaultBody:  "{{child_name}} was checked out at {{time}}.",
	},
	"incident.reported": {
		required:     []string{"child_id", "child_name", "summary"},
		defaultTitle: "Incident report for {{child_name}}",
		defaultBody:  "{{summary}}",
	},
	"dailyReport.published": {
		required:     []string{"child_id", "child_name", "date"},
		defaultTitle: "Daily report for {{child_name}}",
		defaultBody:  "The daily report for {{date}} is ready to view.",
	},
	"photo.uploaded": {
		required:     []string{"child_id", "child_name", "count"},
		defaultTitle: "New photos of {{child_name}}",
		defaultBody:  "{{count}} new photos of {{child_name}} were uploaded.",
	},
}

// SupportedEventTypes lists the routing table keys.
func SupportedEventTypes() []string {
	types := make([]string, 0, len(routes))
	for t := range routes {
		types = append(types, t)
	}
	return types
}

// Mapper translates business events into queued notifications, one per
// resolved recipient.
type Mapper struct {
	queue     Enqueuer
	guardians RecipientResolver
	templates TemplateStore
	logger    *zap.Logger
}

func NewMapper(queue Enqueuer, guardians RecipientResolver, templates TemplateStore, logger *zap.Logger) *Mapper {
	return &Mapper{
		queue:     queue,
		guardians: guardians,
		templates: templates,
		logger:    logger,
	}
}

// MapEvent validates the event, resolves recipients and enqueues one
// notification per recipient. Validation happens before any enqueue, so a
// bad event never partially enqueues.
func (m *Mapper) MapEvent(ctx context.Context, eventType string, data map[string]string) (*MapResult, error) {
	r, ok := routes[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
	}

	for _, field := range r.required {
		if data[field] == "" {
			return nil, fmt.Errorf("%w: missing field %q for %s", ErrInvalidEvent, field, eventType)
		}
	}

	recipients, err := m.guardians.ListGuardianIDs(ctx, data["child_id"])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		m.logger.Info("Event has no entitled recipients",
			zap.String("event_type", eventType),
			zap.String("child_id", data["child_id"]),
		)
		return &MapResult{}, nil
	}

	title, body := m.renderMessage(ctx, eventType, r, data)

	result := &MapResult{}
	for _, recipientID := range recipients {
		id, err := m.queue.Enqueue(ctx, &model.Notification{
			RecipientID: recipientID,
			Type:        eventType,
			Title:       title,
			Body:        body,
			Data:        data,
			Channel:     model.ChannelBoth,
		})
		if err != nil {
			return result, fmt.Errorf("failed to enqueue for recipient %s: %w", recipientID, err)
		}
		result.NotificationIDs = append(result.NotificationIDs, id)
		result.Count++
	}

	m.logger.Info("Event mapped to notifications",
		zap.String("event_type", eventType),
		zap.Int("count", result.Count),
	)
	return result, nil
}

// renderMessage prefers an active stored template and falls back to the
// built-in one. Template lookup failures only cost us the custom template.
func (m *Mapper) renderMessage(ctx context.Context, eventType string, r route, data map[string]string) (string, string) {
	titleTpl, bodyTpl := r.defaultTitle, r.defaultBody

	if m.templates != nil {
		tpl, err := m.templates.GetByType(ctx, eventType)
		if err != nil {
			m.logger.Warn("Template lookup failed, using default",
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		} else if tpl != nil && tpl.Active {
			if tpl.PushTitle != "" {
				titleTpl = tpl.PushTitle
			}
			if tpl.PushBody != "" {
				bodyTpl = tpl.PushBody
			}
		}
	}

	return service.RenderTemplate(titleTpl, data), service.RenderTemplate(bodyTpl, data)
}
