package service

import (
	"context"
	"strings"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.uber.org/zap"
)

// CatalogService manages categories and the products producers sell.
type CatalogService struct {
	store  DataStore
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(st DataStore) *CatalogService {
	return &CatalogService{store: st, logger: util.GetLogger()}
}

// CategoryRequest creates a category.
type CategoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Position    int    `json:"position"`
}

// ProductRequest creates or replaces a product's descriptive fields.
type ProductRequest struct {
	CategoryID  int64       `json:"category_id" binding:"required"`
	Name        string      `json:"name" binding:"required"`
	Description string      `json:"description"`
	ImageURL    string      `json:"image_url"`
	Price       int64       `json:"price"`
	Unit        models.Unit `json:"unit"`
	Stock       int         `json:"stock"`
}

// StockOperation selects how UpdateStock combines the quantity.
type StockOperation string

const (
	StockAdd    StockOperation = "ADD"
	StockRemove StockOperation = "REMOVE"
	StockSet    StockOperation = "SET"
)

// StockRequest adjusts a product's stock.
type StockRequest struct {
	Operation StockOperation `json:"operation"`
	Quantity  int            `json:"quantity"`
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.store.ListCategories(ctx, true)
	return categories, storeErr(err, "categories")
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	return c, storeErr(err, "category")
}

// CreateCategory is reserved to admins.
func (s *CatalogService) CreateCategory(ctx context.Context, actor Actor, req CategoryRequest) (*models.Category, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.Unauthorized, "only admins can create categories")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.Validation, "category name is required")
	}
	c := &models.Category{
		Name:        name,
		Description: req.Description,
		Icon:        req.Icon,
		Active:      true,
		Position:    req.Position,
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, storeErr(err, "category")
	}
	return c, nil
}

// ListProducts returns products matching f. Public callers pass AvailableOnly.
func (s *CatalogService) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	f.Search = strings.TrimSpace(f.Search)
	products, err := s.store.ListProducts(ctx, f)
	return products, storeErr(err, "products")
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	return p, storeErr(err, "product")
}

func validateProduct(req ProductRequest) (models.Unit, error) {
	if strings.TrimSpace(req.Name) == "" {
		return "", apperr.New(apperr.Validation, "product name is required")
	}
	if req.Price <= 0 {
		return "", apperr.New(apperr.Validation, "price must be positive")
	}
	if req.Stock < 0 {
		return "", apperr.New(apperr.Validation, "stock cannot be negative")
	}
	unit := req.Unit
	if unit == "" {
		unit = models.UnitPiece
	}
	if !unit.Valid() {
		return "", apperr.Newf(apperr.Validation, "unknown unit %q", req.Unit)
	}
	return unit, nil
}

// CreateProduct adds a product to the calling producer's catalog.
func (s *CatalogService) CreateProduct(ctx context.Context, actor Actor, req ProductRequest) (*models.Product, error) {
	if actor.Role != models.RoleProducer {
		return nil, apperr.New(apperr.Unauthorized, "only producers can create products")
	}
	unit, err := validateProduct(req)
	if err != nil {
		return nil, err
	}

	p := &models.Product{
		ProducerID:  actor.UserID,
		CategoryID:  req.CategoryID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       req.Price,
		Unit:        unit,
	}
	p.SetStock(req.Stock)

	err = s.store.InTx(ctx, func(q store.Querier) error {
		if _, err := q.GetProducerProfile(ctx, actor.UserID); err != nil {
			return storeErr(err, "producer")
		}
		if _, err := q.GetCategory(ctx, req.CategoryID); err != nil {
			return storeErr(err, "category")
		}
		return storeErr(q.CreateProduct(ctx, p), "product")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product created",
		zap.Int64("product_id", p.ID),
		zap.Int64("producer_id", p.ProducerID),
		zap.Int("stock", p.Stock))
	return p, nil
}

// ownedProduct locks a product and checks the actor may edit it.
func ownedProduct(ctx context.Context, q store.Querier, actor Actor, id int64) (*models.Product, error) {
	p, err := q.LockProduct(ctx, id)
	if err != nil {
		return nil, storeErr(err, "product")
	}
	if !actor.IsAdmin() && !actor.is(models.RoleProducer, p.ProducerID) {
		return nil, apperr.New(apperr.Unauthorized, "product belongs to another producer")
	}
	return p, nil
}

// UpdateProduct replaces the descriptive fields and the stock of a product.
func (s *CatalogService) UpdateProduct(ctx context.Context, actor Actor, id int64, req ProductRequest) (*models.Product, error) {
	unit, err := validateProduct(req)
	if err != nil {
		return nil, err
	}

	var p *models.Product
	err = s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = ownedProduct(ctx, q, actor, id)
		if err != nil {
			return err
		}
		if req.CategoryID != p.CategoryID {
			if _, err := q.GetCategory(ctx, req.CategoryID); err != nil {
				return storeErr(err, "category")
			}
		}
		p.CategoryID = req.CategoryID
		p.Name = strings.TrimSpace(req.Name)
		p.Description = req.Description
		p.ImageURL = req.ImageURL
		p.Price = req.Price
		p.Unit = unit
		p.SetStock(req.Stock)
		return storeErr(q.UpdateProduct(ctx, p), "product")
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateStock applies ADD, REMOVE (floored at zero) or SET. Availability
// follows the resulting stock.
func (s *CatalogService) UpdateStock(ctx context.Context, actor Actor, id int64, req StockRequest) (*models.Product, error) {
	if req.Quantity < 0 {
		return nil, apperr.New(apperr.Validation, "quantity cannot be negative")
	}
	op := StockOperation(strings.ToUpper(string(req.Operation)))
	if op == "" {
		op = StockSet
	}

	var p *models.Product
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = ownedProduct(ctx, q, actor, id)
		if err != nil {
			return err
		}
		switch op {
		case StockAdd:
			p.SetStock(p.Stock + req.Quantity)
		case StockRemove:
			p.SetStock(p.Stock - req.Quantity)
		case StockSet:
			p.SetStock(req.Quantity)
		default:
			return apperr.Newf(apperr.Validation, "unknown stock operation %q", req.Operation)
		}
		return storeErr(q.UpdateProduct(ctx, p), "product")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock updated",
		zap.Int64("product_id", p.ID),
		zap.String("operation", string(op)),
		zap.Int("stock", p.Stock))
	return p, nil
}

// ToggleAvailability flips the availability flag without touching stock.
func (s *CatalogService) ToggleAvailability(ctx context.Context, actor Actor, id int64) (*models.Product, error) {
	var p *models.Product
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		p, err = ownedProduct(ctx, q, actor, id)
		if err != nil {
			return err
		}
		p.Available = !p.Available
		return storeErr(q.UpdateProduct(ctx, p), "product")
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProduct removes a product that no order line references.
func (s *CatalogService) DeleteProduct(ctx context.Context, actor Actor, id int64) error {
	return s.store.InTx(ctx, func(q store.Querier) error {
		if _, err := ownedProduct(ctx, q, actor, id); err != nil {
			return err
		}
		referenced, err := q.ProductReferenced(ctx, id)
		if err != nil {
			return storeErr(err, "product")
		}
		if referenced {
			return apperr.New(apperr.InvalidState, "product is referenced by orders; mark it unavailable instead")
		}
		if err := q.DeleteProduct(ctx, id); err != nil {
			return storeErr(err, "product")
		}
		s.logger.Info("Product deleted", zap.Int64("product_id", id))
		return nil
	})
}
