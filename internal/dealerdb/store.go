package dealerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a dealer does not exist.
var ErrNotFound = errors.New("not found")

// Store persists dealers and reviews through gorm.
type Store struct {
	db *gorm.DB
}

// Dialector picks the gorm driver for a driver name.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3", "":
		return sqlite.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to the database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewStore(db)
}

// NewStore wraps an open gorm handle and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Dealer{}, &Review{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Reset replaces the contents of both tables.
func (s *Store) Reset(ctx context.Context, dealers []Dealer, reviews []Review) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Review{}).Error; err != nil {
			return fmt.Errorf("clear reviews: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Dealer{}).Error; err != nil {
			return fmt.Errorf("clear dealers: %w", err)
		}
		if len(dealers) > 0 {
			if err := tx.CreateInBatches(dealers, 100).Error; err != nil {
				return fmt.Errorf("insert dealers: %w", err)
			}
		}
		if len(reviews) > 0 {
			if err := tx.CreateInBatches(reviews, 100).Error; err != nil {
				return fmt.Errorf("insert reviews: %w", err)
			}
		}
		return nil
	})
}

// Reviews lists every review.
func (s *Store) Reviews(ctx context.Context) ([]Review, error) {
	reviews := []Review{}
	err := s.db.WithContext(ctx).Order("id").Find(&reviews).Error
	return reviews, err
}

// ReviewsByDealer lists the reviews of one dealership.
func (s *Store) ReviewsByDealer(ctx context.Context, dealerID int) ([]Review, error) {
	reviews := []Review{}
	err := s.db.WithContext(ctx).Where("dealership = ?", dealerID).Order("id").Find(&reviews).Error
	return reviews, err
}

// Dealers lists every dealer.
func (s *Store) Dealers(ctx context.Context) ([]Dealer, error) {
	dealers := []Dealer{}
	err := s.db.WithContext(ctx).Order("id").Find(&dealers).Error
	return dealers, err
}

// DealersByState lists the dealers of one state, matched exactly.
func (s *Store) DealersByState(ctx context.Context, state string) ([]Dealer, error) {
	dealers := []Dealer{}
	err := s.db.WithContext(ctx).Where("state = ?", state).Order("id").Find(&dealers).Error
	return dealers, err
}

// Dealer returns one dealer by id.
func (s *Store) Dealer(ctx context.Context, id int) (Dealer, error) {
	var dealer Dealer
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&dealer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Dealer{}, ErrNotFound
	}
	return dealer, err
}

// InsertReview stores review under the next free id.
func (s *Store) InsertReview(ctx context.Context, review Review) (Review, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxID sql.NullInt64
		if err := tx.Model(&Review{}).Select("MAX(id)").Row().Scan(&maxID); err != nil {
			return err
		}
		review.ID = int(maxID.Int64) + 1
		return tx.Create(&review).Error
	})
	if err != nil {
		return Review{}, err
	}
	return review, nil
}
