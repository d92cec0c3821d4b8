package catalog

import (
	"context"
	"fmt"

	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/splax/dealership/internal/domain"
	"github.com/splax/dealership/internal/repository"
)

const seedKey = "catalog-seed"

// Car is one model/make pair as exposed by the API.
type Car struct {
	CarModel string `json:"CarModel"`
	CarMake  string `json:"CarMake"`
}

// Service serves the local car catalog.
type Service struct {
	repo   repository.CatalogRepository
	seed   func() []domain.CarMake
	flight *singleflight.Group
	logger *slog.Logger
}

// New constructs a catalog Service.
func New(repo repository.CatalogRepository, logger *slog.Logger) Service {
	return Service{repo: repo, seed: SeedData, flight: &singleflight.Group{}, logger: logger}
}

// ListCars returns every model with its make, seeding an empty catalog first.
func (s Service) ListCars(ctx context.Context) ([]Car, error) {
	if err := s.EnsureSeeded(ctx); err != nil {
		return nil, err
	}
	models, err := s.repo.ListCarModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list car models: %w", err)
	}
	cars := make([]Car, 0, len(models))
	for _, m := range models {
		cars = append(cars, Car{CarModel: m.Name, CarMake: m.MakeName})
	}
	return cars, nil
}

// EnsureSeeded runs the seeding routine when the catalog has no makes.
// Concurrent callers in this process share a single seed run.
func (s Service) EnsureSeeded(ctx context.Context) error {
	count, err := s.repo.CountCarMakes(ctx)
	if err != nil {
		return fmt.Errorf("count car makes: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err, _ = s.flight.Do(seedKey, func() (any, error) {
		seeded, err := s.repo.SeedCatalog(ctx, s.seed())
		if err != nil {
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
		if seeded {
			s.logger.Info("catalog seeded")
		}
		return nil, nil
	})
	return err
}
