package domain

import "time"

// MaxPrice is the largest price a product may carry (NUMERIC(14,2)).
const MaxPrice = 999999999999.99

// Product represents a catalog entry owned by exactly one user
type Product struct {
	ID          int64     `json:"id" db:"id"`
	OwnerID     int64     `json:"-" db:"owner_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Price       float64   `json:"price" db:"price"`
	ImageName   string    `json:"image_name" db:"image_name"`
	CreatedAt   time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// ProductSummary is the projection returned by product listings
type ProductSummary struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageName   string  `json:"image_name"`
}

// Summary projects the listing columns of a product
func (p *Product) Summary() ProductSummary {
	return ProductSummary{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		ImageName:   p.ImageName,
	}
}
