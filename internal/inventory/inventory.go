// Package inventory reserves merchandise stock and enforces per-participant
// purchase limits. Every operation runs inside the caller's transaction.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
)

var (
	ErrVariantNotFound       = errors.New("merchandise variant not found")
	ErrOutOfStock            = errors.New("merchandise variant out of stock")
	ErrPurchaseLimitExceeded = errors.New("purchase limit reached")
	ErrNoSelection           = errors.New("merchandise selection is required")
)

// Manager reserves stock through the ledger transaction it is given.
type Manager struct{}

// NewManager constructs a Manager.
func NewManager() *Manager { return &Manager{} }

// CheckPurchaseLimit fails once the participant holds as many purchases for
// the event as its per-participant limit allows. No limit means unlimited.
func (m *Manager) CheckPurchaseLimit(ctx context.Context, tx repository.Tx, e *model.Event, participantID string) error {
	limit := e.PurchaseLimit()
	if limit <= 0 {
		return nil
	}
	n, err := tx.CountParticipantRegistrations(ctx, e.ID, participantID)
	if err != nil {
		return err
	}
	if n >= limit {
		return ErrPurchaseLimitExceeded
	}
	return nil
}

// Reserve takes one unit of the selected variant and returns a snapshot of
// the purchase. The decrement is a conditional update, so concurrent buyers
// can never drive stock below zero.
func (m *Manager) Reserve(ctx context.Context, tx repository.Tx, e *model.Event, sel *model.VariantSelection) (*model.MerchandiseSnapshot, error) {
	if sel == nil || sel.Size == "" || sel.Color == "" {
		return nil, ErrNoSelection
	}
	if e.Merchandise == nil || !offers(e.Merchandise.Item, sel) {
		return nil, fmt.Errorf("%w: %s/%s", ErrVariantNotFound, sel.Size, sel.Color)
	}

	remaining, ok, err := tx.DecrementStock(ctx, e.ID, sel.Size, sel.Color)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrVariantNotFound, sel.Size, sel.Color)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrOutOfStock, sel.Size, sel.Color)
	}
	return &model.MerchandiseSnapshot{
		Name:           e.Merchandise.Item.Name,
		Size:           sel.Size,
		Color:          sel.Color,
		RemainingStock: remaining,
	}, nil
}

func offers(item model.MerchandiseItem, sel *model.VariantSelection) bool {
	for _, v := range item.Variants {
		if v.Size == sel.Size && v.Color == sel.Color {
			return true
		}
	}
	return false
}
