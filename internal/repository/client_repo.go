package repository

import (
	"context"

	"snapclaim/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ClientRepository interface {
	Create(ctx context.Context, client *model.Client) error
	Update(ctx context.Context, client *model.Client) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Client, error)
	FindByName(ctx context.Context, name string) (*model.Client, error)
	List(ctx context.Context, search string, page, limit int) ([]model.Client, int64, error)
	ReplaceBranches(ctx context.Context, clientID uuid.UUID, branches []model.Branch) error
}

type clientRepository struct {
	db *gorm.DB
}

func NewClientRepository(db *gorm.DB) ClientRepository {
	return &clientRepository{db: db}
}

func branchesByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position asc")
}

func (r *clientRepository) Create(ctx context.Context, client *model.Client) error {
	return GetDB(ctx, r.db).Create(client).Error
}

// Update saves the client row only; branches go through ReplaceBranches.
func (r *clientRepository) Update(ctx context.Context, client *model.Client) error {
	return GetDB(ctx, r.db).Omit("Branches").Save(client).Error
}

// Delete detaches the client's invoices and removes the client with its branches.
func (r *clientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Invoice{}).Where("client_id = ?", id).Update("client_id", nil).Error; err != nil {
		return err
	}
	if err := db.Where("client_id = ?", id).Delete(&model.Branch{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&model.Client{}).Error
}

func (r *clientRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	var client model.Client
	if err := GetDB(ctx, r.db).Preload("Branches", branchesByPosition).First(&client, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *clientRepository) FindByName(ctx context.Context, name string) (*model.Client, error) {
	var client model.Client
	if err := GetDB(ctx, r.db).Where("LOWER(name) = LOWER(?)", name).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *clientRepository) List(ctx context.Context, search string, page, limit int) ([]model.Client, int64, error) {
	var clients []model.Client
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		if search != "" {
			like := "%" + search + "%"
			db = db.Where("name ILIKE ? OR phone ILIKE ? OR address ILIKE ?", like, like, like)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Client{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Scopes(scope).Preload("Branches", branchesByPosition).Order("name asc").Offset(offset).Limit(limit).Find(&clients).Error; err != nil {
		return nil, 0, err
	}

	return clients, total, nil
}

// ReplaceBranches deletes the client's branches and inserts the given ones.
func (r *clientRepository) ReplaceBranches(ctx context.Context, clientID uuid.UUID, branches []model.Branch) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("client_id = ?", clientID).Delete(&model.Branch{}).Error; err != nil {
		return err
	}
	if len(branches) == 0 {
		return nil
	}
	for i := range branches {
		branches[i].ClientID = clientID
	}
	return db.Create(&branches).Error
}
