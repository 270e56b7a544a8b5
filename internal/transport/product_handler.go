package transport

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"catalog-api/internal/imagestore"
	"catalog-api/internal/middleware"
	"catalog-api/internal/repository"
	"catalog-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ProductRequest represents the text fields of a product form
type ProductRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Price       string `json:"price" validate:"required,numeric,price"`
}

const imageField = "image"

// ProductHandler handles HTTP requests for the caller's products
type ProductHandler struct {
	productService service.ProductService
	maxBodyBytes   int64
	logger         *zap.Logger
}

// NewProductHandler creates a new ProductHandler. Request bodies larger than
// maxBodyBytes are rejected.
func NewProductHandler(productService service.ProductService, maxBodyBytes int64, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		maxBodyBytes:   maxBodyBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers all product routes behind the protected middlewares
func (h *ProductHandler) RegisterRoutes(r chi.Router, protected []func(http.Handler) http.Handler) {
	r.Route("/api/products", func(r chi.Router) {
		r.Use(protected...)
		r.Use(h.limitBody)

		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Show)
		r.Put("/{id}", h.Update)
		r.Patch("/{id}", h.Update)
		r.Post("/{id}", h.Override)
		r.Delete("/{id}", h.Delete)
	})
}

func (h *ProductHandler) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.maxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// List returns the caller's products, newest first
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	products, err := h.productService.List(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("Failed to list products", zap.Int64("owner_id", ownerID), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
		return
	}

	middleware.RespondSuccess(w, "", products)
}

// Show returns one of the caller's products
func (h *ProductHandler) Show(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	product, err := h.productService.Get(r.Context(), ownerID, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			respondNotFound(w, chi.URLParam(r, "id"))
			return
		}
		h.logger.Error("Failed to get product", zap.Int64("product_id", id), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
		return
	}

	middleware.RespondSuccess(w, "", product)
}

// Create handles a multipart product form with a required image
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	input, image, ok := h.bindProduct(w, r, true)
	if !ok {
		return
	}
	defer image.close()

	product, err := h.productService.Create(r.Context(), ownerID, input, image.upload())
	if err != nil {
		if errors.Is(err, service.ErrImageStoreFailed) {
			h.logger.Error("Failed to store product image", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
			return
		}
		h.logger.Error("Failed to create product", zap.Int64("owner_id", ownerID), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, product could not be added")
		return
	}

	middleware.RespondSuccess(w, "Added successfully", product)
}

// Update handles a multipart product form; the image is optional
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	input, image, ok := h.bindProduct(w, r, false)
	if !ok {
		return
	}
	defer image.close()

	product, err := h.productService.Update(r.Context(), ownerID, id, input, image.upload())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrProductNotFound):
			respondNotFound(w, chi.URLParam(r, "id"))
		case errors.Is(err, service.ErrImageStoreFailed):
			h.logger.Error("Failed to store product image", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, something went wrong")
		default:
			h.logger.Error("Failed to update product", zap.Int64("product_id", id), zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "Sorry, product could not be updated")
		}
		return
	}

	middleware.RespondSuccess(w, "Updated successfully", product)
}

// Delete removes one of the caller's products and its image
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	if err := h.productService.Delete(r.Context(), ownerID, id); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			respondNotFound(w, chi.URLParam(r, "id"))
			return
		}
		h.logger.Error("Failed to delete product", zap.Int64("product_id", id), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "Product could not be deleted")
		return
	}

	middleware.RespondSuccess(w, "Deleted successfully", nil)
}

// Override dispatches a POST on a product by its _method field or the
// X-HTTP-Method-Override header, so HTML forms can send files with an update
func (h *ProductHandler) Override(w http.ResponseWriter, r *http.Request) {
	method := r.Header.Get("X-HTTP-Method-Override")
	if method == "" {
		method = r.FormValue("_method")
	}

	switch strings.ToUpper(method) {
	case http.MethodPut, http.MethodPatch:
		h.Update(w, r)
	case http.MethodDelete:
		h.Delete(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT, PATCH, DELETE")
		middleware.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// uploadedImage is the image part of a product form, if any
type uploadedImage struct {
	file   multipart.File
	header *multipart.FileHeader
}

func (u *uploadedImage) upload() *service.ImageUpload {
	if u == nil {
		return nil
	}
	return &service.ImageUpload{Reader: u.file, Filename: u.header.Filename}
}

func (u *uploadedImage) close() {
	if u != nil {
		u.file.Close()
	}
}

// bindProduct reads and validates the product form. On failure the response
// has been written and ok is false.
func (h *ProductHandler) bindProduct(w http.ResponseWriter, r *http.Request, imageRequired bool) (service.ProductInput, *uploadedImage, bool) {
	var req ProductRequest

	if err := middleware.Bind(r, &req); err != nil {
		h.logger.Debug("Product form could not be read", zap.Error(err))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errs := middleware.ValidationErrors{}
			errs.Add(imageField, fmt.Sprintf("The %s may not be greater than %d kilobytes.", imageField, tooLarge.Limit>>10))
			middleware.RespondWithValidationErrors(w, errs)
			return service.ProductInput{}, nil, false
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return service.ProductInput{}, nil, false
	}

	// markup-only text counts as missing
	req.Title = service.SanitizeText(req.Title)
	req.Description = service.SanitizeText(req.Description)

	errs := middleware.FormatValidationErrors(middleware.ValidateRequest(&req))
	if errs == nil {
		errs = middleware.ValidationErrors{}
	}

	image, imageErr := h.readImage(r, imageRequired)
	if imageErr != "" {
		errs.Add(imageField, imageErr)
	}

	if len(errs) > 0 {
		image.close()
		h.logger.Debug("Product validation failed", zap.Any("errors", errs))
		middleware.RespondWithValidationErrors(w, errs)
		return service.ProductInput{}, nil, false
	}

	price, err := strconv.ParseFloat(req.Price, 64)
	if err != nil {
		// numeric already passed, so this only trips on overflow
		image.close()
		errs.Add("price", "The price must be a number.")
		middleware.RespondWithValidationErrors(w, errs)
		return service.ProductInput{}, nil, false
	}

	input := service.ProductInput{
		Title:       req.Title,
		Description: req.Description,
		Price:       price,
	}
	return input, image, true
}

// readImage opens the uploaded image and checks its type. The returned string
// is a validation message when the image is missing or unusable.
func (h *ProductHandler) readImage(r *http.Request, required bool) (*uploadedImage, string) {
	file, header, err := r.FormFile(imageField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			if required {
				return nil, "The image field is required."
			}
			return nil, ""
		}
		h.logger.Debug("Image upload could not be read", zap.Error(err))
		return nil, "The image failed to upload."
	}

	if _, err := imagestore.DetectType(file); err != nil {
		file.Close()
		if !errors.Is(err, imagestore.ErrUnsupportedImage) {
			h.logger.Debug("Image upload could not be read", zap.Error(err))
			return nil, "The image failed to upload."
		}
		return nil, "The image must be a file of type: jpeg, png, gif."
	}

	return &uploadedImage{file: file, header: header}, ""
}

func (h *ProductHandler) ownerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ownerID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		middleware.RespondWithError(w, http.StatusUnauthorized, "Token not provided")
		return 0, false
	}
	return ownerID, true
}

// productID parses the {id} path parameter. Anything but a positive integer
// cannot name a product and gets the not-found response.
func (h *ProductHandler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondNotFound(w, raw)
		return 0, false
	}
	return id, true
}

func respondNotFound(w http.ResponseWriter, rawID string) {
	middleware.RespondWithError(w, http.StatusBadRequest, "Sorry, product with id "+rawID+" cannot be found")
}
