package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
)

const productHistoryLimit = 200

type CreateProductInput struct {
	Name       string
	SKU        string
	Barcode    *string
	CategoryID string
	BrandID    *string
	Price      decimal.Decimal
}

// ProductPatch carries the fields of a partial product update; nil leaves a
// field unchanged.
type ProductPatch struct {
	Name       *string
	Barcode    *string
	CategoryID *string
	BrandID    *string
	Price      *decimal.Decimal
	IsActive   *bool
}

func (patch ProductPatch) empty() bool {
	return patch.Name == nil && patch.Barcode == nil && patch.CategoryID == nil &&
		patch.BrandID == nil && patch.Price == nil && patch.IsActive == nil
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func productConflict(err error, sku string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return domain.Conflict("a product with sku %q or the same barcode already exists", sku).WithField("sku")
	}
	return err
}

func productEvent(p domain.Product) events.Event {
	return events.Event{
		Type:       events.TypeProductUpdate,
		EntityType: "product",
		EntityID:   p.ID,
		Delta:      map[string]any{"sku": p.SKU, "isActive": p.IsActive},
		Rooms:      []string{events.RoomProducts},
	}
}

func (s *Service) CreateProduct(ctx context.Context, p domain.Principal, in CreateProductInput) (domain.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.SKU = strings.TrimSpace(in.SKU)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	switch {
	case in.Name == "":
		return domain.Product{}, domain.BadRequest("name is required").WithField("name")
	case in.SKU == "":
		return domain.Product{}, domain.BadRequest("sku is required").WithField("sku")
	case in.CategoryID == "":
		return domain.Product{}, domain.BadRequest("categoryId is required").WithField("categoryId")
	case !in.Price.IsPositive():
		return domain.Product{}, domain.BadRequest("price must be greater than zero").WithField("price")
	}
	if err := auth.Authorize(auth.OpManageCatalog, p, auth.Target{}); err != nil {
		return domain.Product{}, err
	}

	var product domain.Product
	err := s.inTx(ctx, "create_product", func(ctx context.Context, tx *txScope) error {
		product = domain.Product{
			ID:         uuid.NewString(),
			Name:       in.Name,
			SKU:        in.SKU,
			Barcode:    trimmedPtr(in.Barcode),
			CategoryID: in.CategoryID,
			BrandID:    trimmedPtr(in.BrandID),
			Price:      domain.Round2(in.Price),
			IsActive:   true,
			CreatedBy:  p.UserID,
			CreatedAt:  tx.now,
			UpdatedAt:  tx.now,
		}
		if err := tx.q.CreateProduct(ctx, &product); err != nil {
			return productConflict(err, product.SKU)
		}
		if err := tx.q.AppendProductEvent(ctx, &domain.ProductEvent{
			ID:        uuid.NewString(),
			ProductID: product.ID,
			UserID:    p.UserID,
			Action:    domain.ProductCreated,
			Timestamp: tx.now,
		}); err != nil {
			return err
		}
		tx.emit(productEvent(product))
		tx.record(p.UserID, "product_created", "product", product.ID, nil, "product "+product.SKU+" created", domain.UrgencyLow,
			domain.ActivityChanges{After: map[string]any{"name": product.Name, "sku": product.SKU, "price": product.Price.StringFixed(2)}})
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// UpdateProduct applies a partial update and appends one product event
// describing it. Toggling isActive is reported as deactivated/reactivated.
func (s *Service) UpdateProduct(ctx context.Context, p domain.Principal, productID string, patch ProductPatch) (domain.Product, error) {
	if patch.empty() {
		return domain.Product{}, domain.BadRequest("no fields to update")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return domain.Product{}, domain.BadRequest("name must not be empty").WithField("name")
	}
	if patch.CategoryID != nil && strings.TrimSpace(*patch.CategoryID) == "" {
		return domain.Product{}, domain.BadRequest("categoryId must not be empty").WithField("categoryId")
	}
	if patch.Price != nil && !patch.Price.IsPositive() {
		return domain.Product{}, domain.BadRequest("price must be greater than zero").WithField("price")
	}
	if err := auth.Authorize(auth.OpManageCatalog, p, auth.Target{}); err != nil {
		return domain.Product{}, err
	}

	var product domain.Product
	err := s.inTx(ctx, "update_product", func(ctx context.Context, tx *txScope) error {
		current, err := tx.q.GetProduct(ctx, productID)
		if err != nil {
			return notFoundAs(err, "product", productID)
		}
		next := current
		before, after := map[string]any{}, map[string]any{}
		var fields []string
		change := func(field string, was, now any) {
			before[field], after[field] = was, now
			fields = append(fields, field)
		}

		if patch.Name != nil && strings.TrimSpace(*patch.Name) != current.Name {
			next.Name = strings.TrimSpace(*patch.Name)
			change("name", current.Name, next.Name)
		}
		if patch.Barcode != nil {
			next.Barcode = trimmedPtr(patch.Barcode)
			if deref(next.Barcode) != deref(current.Barcode) {
				change("barcode", deref(current.Barcode), deref(next.Barcode))
			}
		}
		if patch.CategoryID != nil && strings.TrimSpace(*patch.CategoryID) != current.CategoryID {
			next.CategoryID = strings.TrimSpace(*patch.CategoryID)
			change("categoryId", current.CategoryID, next.CategoryID)
		}
		if patch.BrandID != nil {
			next.BrandID = trimmedPtr(patch.BrandID)
			if deref(next.BrandID) != deref(current.BrandID) {
				change("brandId", deref(current.BrandID), deref(next.BrandID))
			}
		}
		if patch.Price != nil && !domain.Round2(*patch.Price).Equal(current.Price) {
			next.Price = domain.Round2(*patch.Price)
			change("price", current.Price.StringFixed(2), next.Price.StringFixed(2))
		}
		if patch.IsActive != nil && *patch.IsActive != current.IsActive {
			next.IsActive = *patch.IsActive
			change("isActive", current.IsActive, next.IsActive)
		}
		if len(fields) == 0 {
			product = current
			return nil
		}

		next.UpdatedAt = tx.now
		if err := tx.q.UpdateProduct(ctx, &next); err != nil {
			return productConflict(err, next.SKU)
		}
		action := domain.ProductUpdated
		switch {
		case current.IsActive && !next.IsActive:
			action = domain.ProductDeactivated
		case !current.IsActive && next.IsActive:
			action = domain.ProductReactivated
		}
		if err := tx.q.AppendProductEvent(ctx, &domain.ProductEvent{
			ID:        uuid.NewString(),
			ProductID: next.ID,
			UserID:    p.UserID,
			Action:    action,
			Changes:   after,
			Timestamp: tx.now,
		}); err != nil {
			return err
		}
		tx.emit(productEvent(next))
		tx.record(p.UserID, "product_"+action, "product", next.ID, nil, "product "+next.SKU+" "+action, domain.UrgencyLow,
			domain.ActivityChanges{Before: before, After: after, Fields: fields})
		product = next
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// DeleteProduct permanently removes a product nothing is stocked of.
func (s *Service) DeleteProduct(ctx context.Context, p domain.Principal, productID string) error {
	if err := auth.Authorize(auth.OpDeleteProduct, p, auth.Target{}); err != nil {
		return err
	}
	return s.inTx(ctx, "delete_product", func(ctx context.Context, tx *txScope) error {
		product, err := tx.q.GetProduct(ctx, productID)
		if err != nil {
			return notFoundAs(err, "product", productID)
		}
		n, err := tx.q.CountStockRowsForProduct(ctx, productID)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.Conflict("product %s is stocked at %d location(s)", product.SKU, n).WithDetail("stockRows", n)
		}
		if err := tx.q.DeleteProduct(ctx, productID); err != nil {
			return err
		}
		product.IsActive = false
		tx.emit(productEvent(product))
		tx.record(p.UserID, "product_deleted", "product", product.ID, nil, "product "+product.SKU+" permanently deleted", domain.UrgencyCritical,
			domain.ActivityChanges{Before: map[string]any{"name": product.Name, "sku": product.SKU}})
		return nil
	})
}

func (s *Service) GetProduct(ctx context.Context, p domain.Principal, productID string) (domain.Product, error) {
	if err := auth.Authorize(auth.OpReadCatalog, p, auth.Target{}); err != nil {
		return domain.Product{}, err
	}
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, s.read("get_product", notFoundAs(err, "product", productID))
	}
	return product, nil
}

type ProductQuery struct {
	Search string
	Active *bool
	repository.Page
}

func (s *Service) ListProducts(ctx context.Context, p domain.Principal, query ProductQuery) ([]domain.Product, int, error) {
	if err := auth.Authorize(auth.OpReadCatalog, p, auth.Target{}); err != nil {
		return nil, 0, err
	}
	list, total, err := s.store.ListProducts(ctx, repository.ProductFilter{
		Search: query.Search,
		Active: query.Active,
		Page:   query.Page,
	})
	if err != nil {
		return nil, 0, s.read("list_products", err)
	}
	return list, total, nil
}

// ProductHistory returns the most recent product events, oldest first.
func (s *Service) ProductHistory(ctx context.Context, p domain.Principal, productID string) ([]domain.ProductEvent, error) {
	if err := auth.Authorize(auth.OpReadCatalog, p, auth.Target{}); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, s.read("product_history", notFoundAs(err, "product", productID))
	}
	list, err := s.store.ListProductEvents(ctx, productID, productHistoryLimit)
	return list, s.read("product_history", err)
}

func (s *Service) ListLocations(ctx context.Context, p domain.Principal) ([]domain.Location, error) {
	if err := auth.Authorize(auth.OpReadInventory, p, auth.Target{}); err != nil {
		return nil, err
	}
	list, err := s.store.ListLocations(ctx, p)
	return list, s.read("list_locations", err)
}

// CreateLocation registers a new active location. Only the CLI calls it.
func (s *Service) CreateLocation(ctx context.Context, p domain.Principal, name string, kind domain.LocationType) (domain.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Location{}, domain.BadRequest("location name is required").WithField("name")
	}
	if !kind.Valid() {
		return domain.Location{}, domain.BadRequest("unknown location type %q", kind).WithField("type")
	}
	if err := auth.Authorize(auth.OpManageLocations, p, auth.Target{}); err != nil {
		return domain.Location{}, err
	}

	var loc domain.Location
	err := s.inTx(ctx, "create_location", func(ctx context.Context, tx *txScope) error {
		loc = domain.Location{
			ID:        uuid.NewString(),
			Name:      name,
			Type:      kind,
			IsActive:  true,
			CreatedAt: tx.now,
		}
		if err := tx.q.CreateLocation(ctx, &loc); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.Conflict("location %q already exists", name).WithField("name")
			}
			return err
		}
		tx.record(p.UserID, "location_created", "location", loc.ID, []string{loc.ID}, "location "+name+" created", domain.UrgencyLow,
			domain.ActivityChanges{After: map[string]any{"name": name, "type": string(kind)}})
		return nil
	})
	if err != nil {
		return domain.Location{}, err
	}
	return loc, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
