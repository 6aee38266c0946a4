package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/mapper"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/trace"
	"notifyhub/pkg/util"
)

// ChildEventHandler consumes business events from the events exchange and
// feeds them through the event-to-notification mapper.
type ChildEventHandler struct {
	mapper  *mapper.Mapper
	deduper *util.Deduper
	logger  *zap.Logger
}

func NewChildEventHandler(m *mapper.Mapper, deduper *util.Deduper, log *zap.Logger) *ChildEventHandler {
	return &ChildEventHandler{
		mapper:  m,
		deduper: deduper,
		logger:  log,
	}
}

func (h *ChildEventHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in ChildEventHandler", zap.Any("panic", r))
		}
	}()

	var p mqcontracts.ChildEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// malformed payload, ack so it never loops
		h.logger.Error("Failed to unmarshal child event payload (non-retryable)", zap.Error(err))
		return nil
	}

	if p.TraceID == "" {
		p.TraceID = trace.GenerateTraceID()
	}
	ctx = trace.WithContext(ctx, p.TraceID)
	log := logger.WithTrace(ctx, h.logger)

	// ingestion is at-least-once: drop duplicate deliveries of the same event
	if p.EventID != "" && !h.deduper.AcquireOnce(ctx, "child-event", p.EventID) {
		return nil
	}

	result, err := h.mapper.MapEvent(ctx, p.EventType, p.Data)
	if err != nil {
		switch {
		case errors.Is(err, mapper.ErrUnsupportedEventType):
			metrics.IncrementEventMapped(p.EventType, "unsupported")
			log.Error("Unsupported event type, dropping", zap.String("event_type", p.EventType))
			return nil
		case errors.Is(err, mapper.ErrInvalidEvent):
			metrics.IncrementEventMapped(p.EventType, "invalid")
			log.Error("Invalid event payload, dropping",
				zap.String("event_type", p.EventType),
				zap.Error(err),
			)
			return nil
		}

		isRetryable, errType := util.IsRetryableError(err)
		log.Error("Failed to map event",
			zap.String("event_type", p.EventType),
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Error(err),
		)
		if !isRetryable {
			return nil
		}
		return err
	}

	metrics.IncrementEventMapped(p.EventType, "ok")
	log.Info("Child event handled",
		zap.String("event_type", p.EventType),
		zap.String("event_id", p.EventID),
		zap.Int("notifications", result.Count),
	)
	return nil
}
