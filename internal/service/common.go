package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/authz"
	"snapclaim/internal/events"
	"snapclaim/internal/metrics"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"
	"snapclaim/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	timeLayout   = time.RFC3339
)

// Actor is the authenticated user performing an operation.
type Actor = authz.Subject

// lookupErr turns a missing row into apperror.ErrNotFound and wraps anything else.
func lookupErr(entity string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(entity)
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperror.NewValidation(field, "must be a valid id")
	}
	return id, nil
}

// parseOptionalID returns nil for a missing or empty value.
func parseOptionalID(field string, raw *string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := parseID(field, *raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperror.NewValidation(field, "must be a date formatted "+model.DateLayout)
	}
	return t, nil
}

func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = defaultPage
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return page, limit
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// writeAudit records who did what. Run it with the transaction context of the change it describes.
func writeAudit(ctx context.Context, repo repository.AuditRepository, actor Actor, action, entityID, entityName string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	var userID *uuid.UUID
	if actor.ID != uuid.Nil {
		id := actor.ID
		userID = &id
	}
	entry := model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(raw),
	}
	if err := repo.Log(ctx, &entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// publish delivers evt after commit. Delivery failures are logged and counted, never returned.
func publish(ctx context.Context, pub events.Publisher, log *logger.Logger, evt events.Event) {
	if err := pub.Publish(ctx, evt); err != nil {
		metrics.EventPublishFailures.WithLabelValues(evt.Type).Inc()
		log.Warn().Err(err).Str("event", evt.Type).Str("entity_id", evt.EntityID).Msg("failed to publish event")
	}
}

func actorID(a Actor) string {
	if a.ID == uuid.Nil {
		return ""
	}
	return a.ID.String()
}
