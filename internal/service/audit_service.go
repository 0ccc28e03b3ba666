package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"

	"github.com/google/uuid"
)

type AuditLogResponse struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Username   string          `json:"username"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name"`
	Details    json.RawMessage `json:"details" swaggertype:"object"`
	CreatedAt  string          `json:"created_at"`
}

// AuditLogFilter narrows the audit trail. From and To are inclusive calendar dates.
type AuditLogFilter struct {
	Action   string
	EntityID string
	UserID   string
	From     string
	To       string
	Page     int
	Limit    int
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, filter AuditLogFilter) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// GetAuditLogs returns a page of audit entries, newest first, with the acting user resolved.
func (s *auditService) GetAuditLogs(ctx context.Context, filter AuditLogFilter) ([]AuditLogResponse, int64, error) {
	repoFilter, err := filter.toRepository()
	if err != nil {
		return nil, 0, err
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	logs, total, err := s.repo.List(ctx, repoFilter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		res = append(res, toAuditLogResponse(l))
	}
	return res, total, nil
}

func (f AuditLogFilter) toRepository() (repository.AuditFilter, error) {
	out := repository.AuditFilter{Action: f.Action, EntityID: f.EntityID}
	verr := &apperror.ValidationError{}

	if f.UserID != "" {
		id, err := uuid.Parse(f.UserID)
		if err != nil {
			verr.Add("user_id", "must be a valid id")
		} else {
			out.UserID = &id
		}
	}
	if f.From != "" {
		d, err := time.Parse(model.DateLayout, f.From)
		if err != nil {
			verr.Add("from", "must be a date formatted "+model.DateLayout)
		}
		out.From = d
	}
	if f.To != "" {
		d, err := time.Parse(model.DateLayout, f.To)
		if err != nil {
			verr.Add("to", "must be a date formatted "+model.DateLayout)
		} else {
			out.To = d.AddDate(0, 0, 1)
		}
	}
	if !out.From.IsZero() && !out.To.IsZero() && !out.From.Before(out.To) {
		verr.Add("to", "must not be before from")
	}

	if verr.HasErrors() {
		return repository.AuditFilter{}, verr
	}
	return out, nil
}

func toAuditLogResponse(l model.AuditLog) AuditLogResponse {
	res := AuditLogResponse{
		ID:         l.ID.String(),
		Username:   "System",
		Action:     l.Action,
		EntityID:   l.EntityID,
		EntityName: l.EntityName,
		Details:    json.RawMessage("null"),
		CreatedAt:  l.CreatedAt.Format(timeLayout),
	}
	if l.User != nil {
		res.Username = l.User.Username
	}
	if l.UserID != nil {
		res.UserID = l.UserID.String()
	}
	if l.Details != "" && json.Valid([]byte(l.Details)) {
		res.Details = json.RawMessage(l.Details)
	}
	return res
}
