package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	"catalog-api/internal/domain"
	"catalog-api/internal/repository"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

var (
	ErrImageRequired    = errors.New("image is required")
	ErrImageStoreFailed = errors.New("image could not be stored")
)

// ImageStore is the part of the image store products depend on
type ImageStore interface {
	Store(r io.Reader, originalFilename string) (string, error)
	Remove(name string) error
}

// ProductInput holds the validated product fields of a create or update
type ProductInput struct {
	Title       string
	Description string
	Price       float64
}

// ImageUpload is an image file sent with a product
type ImageUpload struct {
	Reader   io.Reader
	Filename string
}

// ProductService defines product operations scoped to the calling owner
type ProductService interface {
	List(ctx context.Context, ownerID int64) ([]domain.ProductSummary, error)
	Get(ctx context.Context, ownerID, id int64) (*domain.Product, error)
	Create(ctx context.Context, ownerID int64, input ProductInput, image *ImageUpload) (*domain.Product, error)
	Update(ctx context.Context, ownerID, id int64, input ProductInput, image *ImageUpload) (*domain.Product, error)
	Delete(ctx context.Context, ownerID, id int64) error
}

// ProductServiceOptions tunes image handling
type ProductServiceOptions struct {
	// PruneOnReplace removes the previous image after an update stores a new one
	PruneOnReplace bool
}

type productService struct {
	productRepo repository.ProductRepository
	images      ImageStore
	opts        ProductServiceOptions
	logger      *zap.Logger
}

var textPolicy = bluemonday.StrictPolicy()

// NewProductService creates a new instance of ProductService
func NewProductService(
	productRepo repository.ProductRepository,
	images ImageStore,
	opts ProductServiceOptions,
	logger *zap.Logger,
) ProductService {
	return &productService{
		productRepo: productRepo,
		images:      images,
		opts:        opts,
		logger:      logger,
	}
}

// SanitizeText strips markup from user supplied text, leaving plain characters
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// Sanitized returns the input with markup stripped from its text fields
func (in ProductInput) Sanitized() ProductInput {
	in.Title = SanitizeText(in.Title)
	in.Description = SanitizeText(in.Description)
	return in
}

// List returns the owner's products, newest first
func (s *productService) List(ctx context.Context, ownerID int64) ([]domain.ProductSummary, error) {
	products, err := s.productRepo.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	summaries := make([]domain.ProductSummary, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, p.Summary())
	}
	return summaries, nil
}

// Get returns one of the owner's products
func (s *productService) Get(ctx context.Context, ownerID, id int64) (*domain.Product, error) {
	product, err := s.productRepo.FindByID(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// Create stores the image, then the product row. The image is removed again
// when the row cannot be written.
func (s *productService) Create(ctx context.Context, ownerID int64, input ProductInput, image *ImageUpload) (*domain.Product, error) {
	if image == nil {
		return nil, ErrImageRequired
	}

	imageName, err := s.storeImage(image)
	if err != nil {
		return nil, err
	}

	input = input.Sanitized()
	product := &domain.Product{
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		Price:       input.Price,
		ImageName:   imageName,
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		s.discardImage(imageName, "product insert failed")
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.Int64("owner_id", ownerID),
		zap.String("image_name", imageName),
	)
	return product, nil
}

// Update rewrites the product's fields. A new image is stored before the row
// write; without one the current image is kept.
func (s *productService) Update(ctx context.Context, ownerID, id int64, input ProductInput, image *ImageUpload) (*domain.Product, error) {
	var newImage string
	if image != nil {
		var err error
		if newImage, err = s.storeImage(image); err != nil {
			return nil, err
		}
	}

	input = input.Sanitized()
	product := &domain.Product{
		ID:          id,
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		Price:       input.Price,
		ImageName:   newImage,
	}

	previous, err := s.productRepo.Update(ctx, product)
	if err != nil {
		if newImage != "" {
			s.discardImage(newImage, "product update failed")
		}
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	if s.opts.PruneOnReplace && newImage != "" && previous != "" && previous != newImage {
		s.discardImage(previous, "image replaced")
	}

	return product, nil
}

// Delete removes the row first and then its image. A failed image removal is
// logged only, since the product is already gone.
func (s *productService) Delete(ctx context.Context, ownerID, id int64) error {
	imageName, err := s.productRepo.Delete(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}

	if imageName != "" {
		s.discardImage(imageName, "product deleted")
	}

	s.logger.Info("Product deleted",
		zap.Int64("product_id", id),
		zap.Int64("owner_id", ownerID),
	)
	return nil
}

func (s *productService) storeImage(image *ImageUpload) (string, error) {
	name, err := s.images.Store(image.Reader, image.Filename)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrImageStoreFailed, err)
	}
	return name, nil
}

func (s *productService) discardImage(name, reason string) {
	if err := s.images.Remove(name); err != nil {
		s.logger.Error("Failed to remove image",
			zap.String("image_name", name),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}
