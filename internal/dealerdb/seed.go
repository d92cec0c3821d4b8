package dealerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"log/slog"
)

// LoadSeed reads the dealership and review documents. A missing file is
// logged and treated as empty.
func LoadSeed(dealershipsPath, reviewsPath string, logger *slog.Logger) ([]Dealer, []Review, error) {
	var dealers dealershipsFile
	if err := readJSONFile(dealershipsPath, &dealers, logger); err != nil {
		return nil, nil, err
	}
	var reviews reviewsFile
	if err := readJSONFile(reviewsPath, &reviews, logger); err != nil {
		return nil, nil, err
	}
	return dealers.Dealerships, reviews.Reviews, nil
}

// Seed clears the store and loads the seed documents into it.
func Seed(ctx context.Context, store *Store, dealershipsPath, reviewsPath string, logger *slog.Logger) error {
	dealers, reviews, err := LoadSeed(dealershipsPath, reviewsPath, logger)
	if err != nil {
		return err
	}
	if err := store.Reset(ctx, dealers, reviews); err != nil {
		return err
	}
	logger.Info("database initialized with sample data", "dealers", len(dealers), "reviews", len(reviews))
	return nil
}

func readJSONFile(path string, v any, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("seed file missing", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
