package store

import (
	"context"
	"fmt"

	"egg-market/internal/models"
)

func (q *Queries) CreateCategory(ctx context.Context, c *models.Category) error {
	query := `
		INSERT INTO categories (name, description, icon, active, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := q.get(ctx, &c.ID, query, c.Name, c.Description, c.Icon, c.Active, c.Position); err != nil {
		return fmt.Errorf("failed to create category: %w", translate(err))
	}
	return nil
}

func (q *Queries) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	if err := q.get(ctx, &c, "SELECT * FROM categories WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *Queries) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	categories := []models.Category{}
	err := q.list(ctx, &categories,
		"SELECT * FROM categories WHERE (NOT $1 OR active) ORDER BY position, id", activeOnly)
	return categories, err
}

const productColumns = `id, producer_id, category_id, name, description, image_url, price, unit, stock, available, created_at, updated_at`

// CreateProduct creates a new product
func (q *Queries) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (producer_id, category_id, name, description, image_url, price, unit, stock, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return q.get(ctx, p, query,
		p.ProducerID, p.CategoryID, p.Name, p.Description, p.ImageURL, p.Price, p.Unit, p.Stock, p.Available)
}

// GetProduct retrieves a product by ID
func (q *Queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	if err := q.get(ctx, &p, "SELECT "+productColumns+" FROM products WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// LockProduct reads a product with a row lock so stock changes serialize (FOR UPDATE)
func (q *Queries) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	if err := q.get(ctx, &p, "SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct writes every mutable column including stock and availability
func (q *Queries) UpdateProduct(ctx context.Context, p *models.Product) error {
	return q.exec(ctx, `
		UPDATE products SET category_id = $1, name = $2, description = $3, image_url = $4, price = $5,
			unit = $6, stock = $7, available = $8, updated_at = NOW()
		WHERE id = $9`,
		p.CategoryID, p.Name, p.Description, p.ImageURL, p.Price, p.Unit, p.Stock, p.Available, p.ID)
}

func (q *Queries) DeleteProduct(ctx context.Context, id int64) error {
	return q.exec(ctx, "DELETE FROM products WHERE id = $1", id)
}

// ListProducts retrieves products matching the filter, newest first
func (q *Queries) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	products := []models.Product{}
	err := q.list(ctx, &products, `
		SELECT `+productColumns+` FROM products
		WHERE ($1 = 0 OR producer_id = $1)
		  AND ($2 = 0 OR category_id = $2)
		  AND ($3 = '' OR name ILIKE '%' || $3 || '%')
		  AND (NOT $4 OR (available AND stock > 0))
		ORDER BY created_at DESC, id DESC`,
		f.ProducerID, f.CategoryID, f.Search, f.AvailableOnly)
	return products, err
}

// ProductReferenced reports whether any order line points at the product.
func (q *Queries) ProductReferenced(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := q.get(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM order_lines WHERE product_id = $1)", id)
	return exists, err
}
