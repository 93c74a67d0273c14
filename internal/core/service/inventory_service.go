package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/observability"
	"github.com/rl1809/storefront/internal/port"
)

type InventoryService struct {
	items  port.InventoryRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewInventoryService(items port.InventoryRepository, logger *zap.Logger) *InventoryService {
	return &InventoryService{
		items:  items,
		logger: logger,
		tracer: observability.Tracer(),
	}
}

func (s *InventoryService) CreateItem(ctx context.Context, actor domain.Account, attrs domain.ItemAttributes) (*domain.InventoryItem, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.create")
	defer span.End()

	now := time.Now().UTC()
	item, err := attrs.Apply(domain.InventoryItem{
		ID:        uuid.New().String(),
		AccountID: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	if err := s.items.CreateItem(ctx, item); err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "create item", Err: err}
	}

	span.SetAttributes(attribute.String("item.id", item.ID))
	s.logger.Info("inventory item created",
		zap.String("item_id", item.ID),
		zap.String("account_id", actor.ID),
	)
	return &item, nil
}

func (s *InventoryService) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load item", Err: err}
	}
	if item == nil {
		return nil, &domain.NotFoundError{Entity: "inventory item", ID: id}
	}
	return item, nil
}

// ListItems pages through the catalog, restricted to filter.IDs when set.
func (s *InventoryService) ListItems(ctx context.Context, filter domain.ItemFilter, page domain.Page) ([]domain.InventoryItem, domain.Pagination, error) {
	page = page.Normalize()
	items, total, err := s.items.ListItems(ctx, filter, page)
	if err != nil {
		return nil, domain.Pagination{}, &domain.PersistenceError{Op: "list items", Err: err}
	}
	return items, domain.NewPagination(page, total), nil
}

// ownedItem loads id and checks that actor owns it.
func (s *InventoryService) ownedItem(ctx context.Context, actor domain.Account, id string) (*domain.InventoryItem, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.AccountID != actor.ID {
		return nil, &domain.ForbiddenError{AccountID: actor.ID, Entity: "inventory item", ID: id}
	}
	return item, nil
}

// UpdateItem applies attrs to an item owned by actor. attrs.Quantity is
// ignored. On a validation error nothing is written.
func (s *InventoryService) UpdateItem(ctx context.Context, actor domain.Account, id string, attrs domain.ItemAttributes) (*domain.InventoryItem, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.update")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", id))

	current, err := s.ownedItem(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	updated, err := attrs.ApplyUpdate(*current)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.items.UpdateItem(ctx, updated); err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &domain.PersistenceError{Op: "update item", Err: err}
	}
	return &updated, nil
}

func (s *InventoryService) DestroyItem(ctx context.Context, actor domain.Account, id string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.destroy")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", id))

	if _, err := s.ownedItem(ctx, actor, id); err != nil {
		return err
	}

	if err := s.items.DeleteItem(ctx, id); err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return err
		}
		return &domain.PersistenceError{Op: "delete item", Err: err}
	}

	s.logger.Info("inventory item destroyed",
		zap.String("item_id", id),
		zap.String("account_id", actor.ID),
	)
	return nil
}
