package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"
	"snapclaim/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- Branch DTO ---

type BranchPayload struct {
	Name    string `json:"name" validate:"required,max=255"`
	Address string `json:"address" validate:"required"`
	Phone   string `json:"phone" validate:"omitempty,max=50"`
}

type BranchResponse struct {
	ID       uuid.UUID `json:"id"`
	ClientID uuid.UUID `json:"client_id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Phone    string    `json:"phone"`
	Position int       `json:"position"`
}

// --- Client DTOs ---

type CreateClientRequest struct {
	Name     string          `json:"name" validate:"required,max=255"`
	Phone    string          `json:"phone" validate:"omitempty,max=50"`
	Address  string          `json:"address"`
	Branches []BranchPayload `json:"branches" validate:"dive"`
}

type UpdateClientRequest struct {
	Name     *string          `json:"name" validate:"omitempty,max=255"`
	Phone    *string          `json:"phone" validate:"omitempty,max=50"`
	Address  *string          `json:"address"`
	Branches *[]BranchPayload `json:"branches" validate:"omitempty,dive"` // nil = keep, [] = remove all
}

type ClientResponse struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Phone     string           `json:"phone"`
	Address   string           `json:"address"`
	Branches  []BranchResponse `json:"branches"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// --- Interface ---

type ClientService interface {
	CreateClient(ctx context.Context, actor Actor, req CreateClientRequest) (ClientResponse, error)
	UpdateClient(ctx context.Context, actor Actor, id string, req UpdateClientRequest) (ClientResponse, error)
	DeleteClient(ctx context.Context, actor Actor, id string) error
	GetClient(ctx context.Context, id string) (ClientResponse, error)
	ListClients(ctx context.Context, search string, page, limit int) ([]ClientResponse, int64, error)
}

type clientService struct {
	repo      repository.ClientRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
}

func NewClientService(repo repository.ClientRepository, auditRepo repository.AuditRepository, txManager repository.TransactionManager) ClientService {
	return &clientService{repo: repo, auditRepo: auditRepo, txManager: txManager}
}

// --- Implementation ---

func (s *clientService) CreateClient(ctx context.Context, actor Actor, req CreateClientRequest) (ClientResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return ClientResponse{}, err
	}
	if err := s.ensureNameFree(ctx, uuid.Nil, req.Name); err != nil {
		return ClientResponse{}, err
	}

	client := model.Client{
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
	}
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, &client); err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		if err := s.repo.ReplaceBranches(txCtx, client.ID, toBranches(req.Branches)); err != nil {
			return fmt.Errorf("failed to save branches: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionCreateClient, client.ID.String(), client.Name,
			map[string]any{"branches": len(req.Branches)})
	})
	if err != nil {
		return ClientResponse{}, err
	}
	return s.GetClient(ctx, client.ID.String())
}

func (s *clientService) UpdateClient(ctx context.Context, actor Actor, id string, req UpdateClientRequest) (ClientResponse, error) {
	if err := validation.Struct(req); err != nil {
		return ClientResponse{}, err
	}
	clientID, err := parseID("id", id)
	if err != nil {
		return ClientResponse{}, err
	}
	client, err := s.repo.FindByID(ctx, clientID)
	if err != nil {
		return ClientResponse{}, lookupErr("client", err)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return ClientResponse{}, apperror.NewValidation("name", "is required")
		}
		if !strings.EqualFold(name, client.Name) {
			if err := s.ensureNameFree(ctx, client.ID, name); err != nil {
				return ClientResponse{}, err
			}
		}
		client.Name = name
	}
	if req.Phone != nil {
		client.Phone = *req.Phone
	}
	if req.Address != nil {
		client.Address = *req.Address
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, client); err != nil {
			return fmt.Errorf("failed to update client: %w", err)
		}
		if req.Branches != nil {
			if err := s.repo.ReplaceBranches(txCtx, client.ID, toBranches(*req.Branches)); err != nil {
				return fmt.Errorf("failed to save branches: %w", err)
			}
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionUpdateClient, client.ID.String(), client.Name,
			map[string]any{"branches_replaced": req.Branches != nil})
	})
	if err != nil {
		return ClientResponse{}, err
	}
	return s.GetClient(ctx, client.ID.String())
}

// DeleteClient removes the client and its branches. Invoices keep existing without a client.
func (s *clientService) DeleteClient(ctx context.Context, actor Actor, id string) error {
	clientID, err := parseID("id", id)
	if err != nil {
		return err
	}
	client, err := s.repo.FindByID(ctx, clientID)
	if err != nil {
		return lookupErr("client", err)
	}
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Delete(txCtx, client.ID); err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionDeleteClient, client.ID.String(), client.Name, nil)
	})
}

func (s *clientService) GetClient(ctx context.Context, id string) (ClientResponse, error) {
	clientID, err := parseID("id", id)
	if err != nil {
		return ClientResponse{}, err
	}
	client, err := s.repo.FindByID(ctx, clientID)
	if err != nil {
		return ClientResponse{}, lookupErr("client", err)
	}
	return toClientResponse(*client), nil
}

func (s *clientService) ListClients(ctx context.Context, search string, page, limit int) ([]ClientResponse, int64, error) {
	page, limit = normalizePage(page, limit)
	clients, total, err := s.repo.List(ctx, strings.TrimSpace(search), page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list clients: %w", err)
	}
	res := make([]ClientResponse, 0, len(clients))
	for _, c := range clients {
		res = append(res, toClientResponse(c))
	}
	return res, total, nil
}

func (s *clientService) ensureNameFree(ctx context.Context, self uuid.UUID, name string) error {
	existing, err := s.repo.FindByName(ctx, name)
	if err == nil && existing.ID != self {
		return apperror.Conflict("client %q already exists", name)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check client name: %w", err)
	}
	return nil
}

// --- Helpers ---

// toBranches keeps submission order as the branch position.
func toBranches(payloads []BranchPayload) []model.Branch {
	branches := make([]model.Branch, 0, len(payloads))
	for i, p := range payloads {
		branches = append(branches, model.Branch{
			Name:     strings.TrimSpace(p.Name),
			Address:  p.Address,
			Phone:    p.Phone,
			Position: i,
		})
	}
	return branches
}

func toClientResponse(c model.Client) ClientResponse {
	branches := make([]BranchResponse, 0, len(c.Branches))
	for _, b := range c.Branches {
		branches = append(branches, BranchResponse{
			ID:       b.ID,
			ClientID: b.ClientID,
			Name:     b.Name,
			Address:  b.Address,
			Phone:    b.Phone,
			Position: b.Position,
		})
	}
	return ClientResponse{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Address:   c.Address,
		Branches:  branches,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
