package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"catalog-api/internal/domain"
	"catalog-api/internal/repository"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

type mockProductRepository struct {
	mu        sync.Mutex
	products  map[int64]*domain.Product
	nextID    int64
	createErr error
	updateErr error
	deleteErr error
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{
		products: make(map[int64]*domain.Product),
	}
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	product.ID = m.nextID
	stored := *product
	m.products[product.ID] = &stored
	return nil
}

func (m *mockProductRepository) Update(ctx context.Context, product *domain.Product) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return "", m.updateErr
	}
	stored, ok := m.products[product.ID]
	if !ok || stored.OwnerID != product.OwnerID {
		return "", repository.ErrProductNotFound
	}
	previous := stored.ImageName
	stored.Title = product.Title
	stored.Description = product.Description
	stored.Price = product.Price
	if product.ImageName != "" {
		stored.ImageName = product.ImageName
	}
	product.ImageName = stored.ImageName
	return previous, nil
}

func (m *mockProductRepository) Delete(ctx context.Context, ownerID, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return "", m.deleteErr
	}
	stored, ok := m.products[id]
	if !ok || stored.OwnerID != ownerID {
		return "", repository.ErrProductNotFound
	}
	delete(m.products, id)
	return stored.ImageName, nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, ownerID, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.products[id]
	if !ok || stored.OwnerID != ownerID {
		return nil, repository.ErrProductNotFound
	}
	product := *stored
	return &product, nil
}

func (m *mockProductRepository) List(ctx context.Context, ownerID int64) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	products := []*domain.Product{}
	for _, p := range m.products {
		if p.OwnerID == ownerID {
			product := *p
			products = append(products, &product)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID > products[j].ID })
	return products, nil
}

type mockImageStore struct {
	mu        sync.Mutex
	files     map[string]string
	counter   int
	storeErr  error
	removeErr error
}

func newMockImageStore() *mockImageStore {
	return &mockImageStore{files: make(map[string]string)}
}

func (m *mockImageStore) Store(r io.Reader, originalFilename string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return "", m.storeErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.counter++
	name := fmt.Sprintf("%s_%d.jpg", strings.TrimSuffix(originalFilename, ".jpg"), m.counter)
	m.files[name] = string(data)
	return name, nil
}

func (m *mockImageStore) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	delete(m.files, name)
	return nil
}

func (m *mockImageStore) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok
}

func newTestProductService(opts ProductServiceOptions) (ProductService, *mockProductRepository, *mockImageStore) {
	repo := newMockProductRepository()
	images := newMockImageStore()
	return NewProductService(repo, images, opts, zap.NewNop()), repo, images
}

func upload(name string) *ImageUpload {
	return &ImageUpload{Reader: strings.NewReader("pixels"), Filename: name}
}

func TestProductService_CreateStoresImageAndRow(t *testing.T) {
	svc, repo, images := newTestProductService(ProductServiceOptions{})

	product, err := svc.Create(context.Background(), 1, ProductInput{Title: "Chair", Description: "Oak", Price: 49.99}, upload("chair.jpg"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if product.ID == 0 || product.OwnerID != 1 || product.ImageName == "" {
		t.Fatalf("unexpected product: %+v", product)
	}
	if !images.has(product.ImageName) {
		t.Fatal("image was not stored")
	}
	if _, err := repo.FindByID(context.Background(), 1, product.ID); err != nil {
		t.Fatalf("row not persisted: %v", err)
	}
}

func TestProductService_CreateRequiresImage(t *testing.T) {
	svc, repo, _ := newTestProductService(ProductServiceOptions{})

	_, err := svc.Create(context.Background(), 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, nil)
	if !errors.Is(err, ErrImageRequired) {
		t.Fatalf("expected ErrImageRequired, got %v", err)
	}
	if len(repo.products) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestProductService_CreateImageFailurePersistsNothing(t *testing.T) {
	svc, repo, images := newTestProductService(ProductServiceOptions{})
	images.storeErr = errors.New("disk full")

	_, err := svc.Create(context.Background(), 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))
	if !errors.Is(err, ErrImageStoreFailed) {
		t.Fatalf("expected ErrImageStoreFailed, got %v", err)
	}
	if len(repo.products) != 0 {
		t.Fatal("row written although the image failed")
	}
}

func TestProductService_CreateRowFailureRemovesImage(t *testing.T) {
	svc, repo, images := newTestProductService(ProductServiceOptions{})
	repo.createErr = errors.New("connection reset")

	_, err := svc.Create(context.Background(), 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))
	if err == nil || errors.Is(err, ErrImageStoreFailed) {
		t.Fatalf("expected a storage error, got %v", err)
	}
	if len(images.files) != 0 {
		t.Fatalf("orphaned image left behind: %v", images.files)
	}
}

func TestProductService_SanitizesText(t *testing.T) {
	svc, _, _ := newTestProductService(ProductServiceOptions{})

	product, err := svc.Create(context.Background(), 1, ProductInput{
		Title:       `<b>Tom & Jerry</b> chair`,
		Description: `Solid oak<script>alert(1)</script>`,
		Price:       10,
	}, upload("chair.jpg"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if product.Title != "Tom & Jerry chair" {
		t.Errorf("Title = %q", product.Title)
	}
	if product.Description != "Solid oak" {
		t.Errorf("Description = %q", product.Description)
	}
}

func TestProductService_UpdateWithoutImageKeepsImage(t *testing.T) {
	svc, _, images := newTestProductService(ProductServiceOptions{})
	ctx := context.Background()

	created, _ := svc.Create(ctx, 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))

	updated, err := svc.Update(ctx, 1, created.ID, ProductInput{Title: "Stool", Description: "Pine", Price: 2}, nil)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ImageName != created.ImageName || updated.Title != "Stool" || updated.Price != 2 {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if !images.has(created.ImageName) {
		t.Fatal("image should be kept")
	}
}

func TestProductService_UpdateReplacesImage(t *testing.T) {
	tests := []struct {
		name         string
		prune        bool
		keepPrevious bool
	}{
		{"previous image kept by default", false, true},
		{"previous image pruned when enabled", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, images := newTestProductService(ProductServiceOptions{PruneOnReplace: tt.prune})
			ctx := context.Background()

			created, _ := svc.Create(ctx, 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))

			updated, err := svc.Update(ctx, 1, created.ID, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("new.jpg"))
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if updated.ImageName == created.ImageName || !images.has(updated.ImageName) {
				t.Fatalf("new image not applied: %+v", updated)
			}
			if images.has(created.ImageName) != tt.keepPrevious {
				t.Fatalf("previous image present = %v, want %v", !tt.keepPrevious, tt.keepPrevious)
			}
		})
	}
}

func TestProductService_UpdateOtherOwnerIsNotFound(t *testing.T) {
	svc, repo, images := newTestProductService(ProductServiceOptions{})
	ctx := context.Background()

	created, _ := svc.Create(ctx, 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))

	_, err := svc.Update(ctx, 2, created.ID, ProductInput{Title: "Hacked", Description: "x", Price: 0}, upload("evil.jpg"))
	if !errors.Is(err, repository.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	stored, _ := repo.FindByID(ctx, 1, created.ID)
	if stored.Title != "Chair" || stored.ImageName != created.ImageName {
		t.Fatalf("row changed by another owner: %+v", stored)
	}
	if len(images.files) != 1 {
		t.Fatalf("image from rejected update left behind: %v", images.files)
	}
}

func TestProductService_DeleteRemovesRowThenImage(t *testing.T) {
	svc, repo, images := newTestProductService(ProductServiceOptions{})
	ctx := context.Background()

	created, _ := svc.Create(ctx, 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))

	if err := svc.Delete(ctx, 1, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(repo.products) != 0 || images.has(created.ImageName) {
		t.Fatal("row or image still present")
	}

	if err := svc.Delete(ctx, 1, created.ID); !errors.Is(err, repository.ErrProductNotFound) {
		t.Fatalf("second delete: expected ErrProductNotFound, got %v", err)
	}
}

func TestProductService_DeleteImageFailureStillSucceeds(t *testing.T) {
	svc, repo, images := newTestProductService(ProductServiceOptions{})
	ctx := context.Background()

	created, _ := svc.Create(ctx, 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))
	images.removeErr = errors.New("permission denied")

	if err := svc.Delete(ctx, 1, created.ID); err != nil {
		t.Fatalf("Delete should succeed once the row is gone: %v", err)
	}
	if len(repo.products) != 0 {
		t.Fatal("row still present")
	}
}

func TestProductService_DeleteRowFailureKeepsImage(t *testing.T) {
	svc, repo, images := newTestProductService(ProductServiceOptions{})
	ctx := context.Background()

	created, _ := svc.Create(ctx, 1, ProductInput{Title: "Chair", Description: "Oak", Price: 1}, upload("chair.jpg"))
	repo.deleteErr = errors.New("connection reset")

	if err := svc.Delete(ctx, 1, created.ID); err == nil || errors.Is(err, repository.ErrProductNotFound) {
		t.Fatalf("expected a storage error, got %v", err)
	}
	if !images.has(created.ImageName) {
		t.Fatal("image removed although the row remains")
	}
}

func TestProperty_OwnershipIsolation(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("one owner never observes or mutates another owner's products", prop.ForAll(
		func(countA, countB int) bool {
			svc, repo, _ := newTestProductService(ProductServiceOptions{})
			ctx := context.Background()
			const ownerA, ownerB = int64(1), int64(2)

			var idsB []int64
			for i := 0; i < countA; i++ {
				if _, err := svc.Create(ctx, ownerA, ProductInput{Title: "A", Description: "a", Price: 1}, upload("a.jpg")); err != nil {
					return false
				}
			}
			for i := 0; i < countB; i++ {
				p, err := svc.Create(ctx, ownerB, ProductInput{Title: "B", Description: "b", Price: 2}, upload("b.jpg"))
				if err != nil {
					return false
				}
				idsB = append(idsB, p.ID)
			}

			listA, err := svc.List(ctx, ownerA)
			if err != nil || len(listA) != countA {
				return false
			}
			for i, p := range listA {
				if p.Title != "A" || (i > 0 && listA[i-1].ID < p.ID) {
					return false
				}
			}

			for _, id := range idsB {
				if _, err := svc.Get(ctx, ownerA, id); !errors.Is(err, repository.ErrProductNotFound) {
					return false
				}
				if _, err := svc.Update(ctx, ownerA, id, ProductInput{Title: "X", Description: "x", Price: 0}, nil); !errors.Is(err, repository.ErrProductNotFound) {
					return false
				}
				if err := svc.Delete(ctx, ownerA, id); !errors.Is(err, repository.ErrProductNotFound) {
					return false
				}
			}

			listB, _ := svc.List(ctx, ownerB)
			if len(listB) != countB {
				return false
			}
			for _, p := range repo.products {
				if p.OwnerID == ownerB && p.Title != "B" {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Plain title", "Plain title"},
		{"  padded  ", "padded"},
		{"<i>italic</i>", "italic"},
		{"a < b & c > d", "a < b & c > d"},
		{`<a href="javascript:x()">link</a>`, "link"},
		{"<style>p{}</style>text", "text"},
	}

	for _, tt := range tests {
		if got := SanitizeText(tt.in); got != tt.want {
			t.Errorf("SanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
