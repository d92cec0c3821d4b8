package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/dealership/internal/domain"
	"github.com/splax/dealership/internal/repository"
)

// catalogSeedLock is the advisory lock key held while seeding the catalog.
const catalogSeedLock int64 = 0x6361725f63617461

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.CatalogRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, username, password_hash, first_name, last_name, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Username, user.PasswordHash, user.FirstName, user.LastName, user.Email, user.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

// UsernameExists reports whether a user with the given username is stored.
func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, username).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// GetUserByUsername fetches a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT id, username, password_hash, first_name, last_name, email, created_at FROM users WHERE username = $1`
	return scanUser(r.pool.QueryRow(ctx, query, username))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, username, password_hash, first_name, last_name, email, created_at FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// UpdatePasswordHash replaces the stored password hash of a user.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id string, hash []byte) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CountCarMakes returns the number of stored makes.
func (r *Repository) CountCarMakes(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(1) FROM car_makes`
	var count int
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SeedCatalog writes the provided makes and models inside one transaction.
// The transaction holds an advisory lock and re-checks emptiness, so
// concurrent callers across processes seed at most once.
func (r *Repository) SeedCatalog(ctx context.Context, makes []domain.CarMake) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, catalogSeedLock); err != nil {
		return false, fmt.Errorf("lock catalog: %w", err)
	}
	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM car_makes`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	const insertMake = `INSERT INTO car_makes (name, description) VALUES ($1, $2) RETURNING id`
	const insertModel = `INSERT INTO car_models (car_make_id, name, type, year, dealer_id) VALUES ($1, $2, $3, $4, $5)`
	for _, carMake := range makes {
		var makeID int64
		if err := tx.QueryRow(ctx, insertMake, carMake.Name, carMake.Description).Scan(&makeID); err != nil {
			return false, fmt.Errorf("insert make %s: %w", carMake.Name, err)
		}
		batch := &pgx.Batch{}
		for _, model := range carMake.Models {
			batch.Queue(insertModel, makeID, model.Name, model.Type, model.Year, model.DealerID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, fmt.Errorf("insert models for %s: %w", carMake.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit seed tx: %w", err)
	}
	return true, nil
}

// ListCarModels returns every model joined with its make.
func (r *Repository) ListCarModels(ctx context.Context) ([]domain.CarModel, error) {
	const query = `SELECT m.id, m.car_make_id, mk.name, m.name, m.type, m.year, m.dealer_id
		FROM car_models m
		JOIN car_makes mk ON mk.id = m.car_make_id
		ORDER BY mk.name, m.name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var models []domain.CarModel
	for rows.Next() {
		var m domain.CarModel
		if err := rows.Scan(&m.ID, &m.MakeID, &m.MakeName, &m.Name, &m.Type, &m.Year, &m.DealerID); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
