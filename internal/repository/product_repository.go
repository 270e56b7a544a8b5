package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"catalog-api/internal/domain"
)

var (
	ErrProductNotFound = errors.New("product not found")
)

// ProductRepository defines owner-scoped product data access. Every statement
// filters on owner_id, so a product owned by someone else behaves as absent.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	// Update writes title, description and price, and the image name when it is
	// non-empty. It returns the image name the row held before the update.
	Update(ctx context.Context, product *domain.Product) (previousImage string, err error)
	// Delete removes the row and returns the image name it referenced.
	Delete(ctx context.Context, ownerID, id int64) (imageName string, err error)
	FindByID(ctx context.Context, ownerID, id int64) (*domain.Product, error)
	List(ctx context.Context, ownerID int64) ([]*domain.Product, error)
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create inserts a new product and fills in the generated ID and timestamps
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (owner_id, title, description, price, image_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		product.OwnerID,
		product.Title,
		product.Description,
		product.Price,
		nullString(product.ImageName),
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

// Update applies the new field values in one statement. The row is locked and
// read in the same statement, so the returned previous image cannot race.
func (r *productRepository) Update(ctx context.Context, product *domain.Product) (string, error) {
	query := `
		UPDATE products AS p
		SET title = $3, description = $4, price = $5,
		    image_name = COALESCE($6, p.image_name)
		FROM (
			SELECT id, image_name FROM products
			WHERE id = $1 AND owner_id = $2
			FOR UPDATE
		) AS old
		WHERE p.id = old.id AND p.owner_id = $2
		RETURNING p.image_name, p.created_at, p.updated_at, old.image_name
	`

	var current, previous sql.NullString
	err := r.db.QueryRowContext(
		ctx,
		query,
		product.ID,
		product.OwnerID,
		product.Title,
		product.Description,
		product.Price,
		nullString(product.ImageName),
	).Scan(&current, &product.CreatedAt, &product.UpdatedAt, &previous)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrProductNotFound
		}
		return "", fmt.Errorf("failed to update product: %w", err)
	}

	product.ImageName = current.String
	return previous.String, nil
}

// Delete removes a product owned by ownerID
func (r *productRepository) Delete(ctx context.Context, ownerID, id int64) (string, error) {
	query := `DELETE FROM products WHERE id = $1 AND owner_id = $2 RETURNING image_name`

	var imageName sql.NullString
	err := r.db.QueryRowContext(ctx, query, id, ownerID).Scan(&imageName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrProductNotFound
		}
		return "", fmt.Errorf("failed to delete product: %w", err)
	}

	return imageName.String, nil
}

// FindByID retrieves a product by ID within the owner's products
func (r *productRepository) FindByID(ctx context.Context, ownerID, id int64) (*domain.Product, error) {
	query := `
		SELECT id, owner_id, title, description, price, image_name, created_at, updated_at
		FROM products
		WHERE id = $1 AND owner_id = $2
	`

	product := &domain.Product{}
	var imageName sql.NullString
	err := r.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&product.ID,
		&product.OwnerID,
		&product.Title,
		&product.Description,
		&product.Price,
		&imageName,
		&product.CreatedAt,
		&product.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	product.ImageName = imageName.String
	return product, nil
}

// List retrieves the owner's products, newest first, with only the listing columns populated
func (r *productRepository) List(ctx context.Context, ownerID int64) ([]*domain.Product, error) {
	query := `
		SELECT id, title, description, price, image_name
		FROM products
		WHERE owner_id = $1
		ORDER BY id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product := &domain.Product{OwnerID: ownerID}
		var imageName sql.NullString
		err := rows.Scan(
			&product.ID,
			&product.Title,
			&product.Description,
			&product.Price,
			&imageName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		product.ImageName = imageName.String
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
