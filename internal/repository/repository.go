package repository

import (
	"context"

	"github.com/splax/dealership/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	UsernameExists(ctx context.Context, username string) (bool, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	UpdatePasswordHash(ctx context.Context, id string, hash []byte) error
}

// CatalogRepository stores car makes and models.
type CatalogRepository interface {
	CountCarMakes(ctx context.Context) (int, error)
	// SeedCatalog inserts makes with their models when the catalog is empty.
	// It reports whether anything was written.
	SeedCatalog(ctx context.Context, makes []domain.CarMake) (bool, error)
	ListCarModels(ctx context.Context) ([]domain.CarModel, error)
}
