package repository

import (
	"context"
	"errors"
	"fmt"

	"snapclaim/internal/assignment"
	"snapclaim/internal/model"

	"gorm.io/gorm"
)

// ErrStaleChange reports a change whose row no longer matched its expected values.
var ErrStaleChange = errors.New("row changed since it was read")

// ChangeApplier writes a ChangeSet. Callers run it inside RunInTx so the whole set
// commits or rolls back with the rest of the unit of work.
type ChangeApplier interface {
	Apply(ctx context.Context, cs assignment.ChangeSet) error
}

type changeApplier struct {
	db *gorm.DB
}

func NewChangeApplier(db *gorm.DB) ChangeApplier {
	return &changeApplier{db: db}
}

func (a *changeApplier) Apply(ctx context.Context, cs assignment.ChangeSet) error {
	db := GetDB(ctx, a.db)
	for _, ch := range cs {
		target, err := modelFor(ch.Entity)
		if err != nil {
			return err
		}
		q := db.Model(target).Where("id = ?", ch.ID)
		if len(ch.Expect) > 0 {
			q = q.Where(ch.Expect)
		}
		res := q.Updates(ch.Fields)
		if res.Error != nil {
			return fmt.Errorf("apply %s %s: %w", ch.Entity, ch.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			if len(ch.Expect) > 0 {
				return fmt.Errorf("apply %s %s: %w", ch.Entity, ch.ID, ErrStaleChange)
			}
			return fmt.Errorf("apply %s %s: %w", ch.Entity, ch.ID, gorm.ErrRecordNotFound)
		}
	}
	return nil
}

func modelFor(entity string) (any, error) {
	switch entity {
	case assignment.EntityInvoice:
		return &model.Invoice{}, nil
	default:
		return nil, fmt.Errorf("apply: unknown entity %q", entity)
	}
}
