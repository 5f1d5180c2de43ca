package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
)

// UserAdapter implements domain.UserRepository using PostgreSQL.
type UserAdapter struct {
	db *sqlx.DB
}

func NewUserAdapter(db *sqlx.DB) *UserAdapter {
	return &UserAdapter{db: db}
}

const userColumns = `id, email, name, timezone, salt, created_at, updated_at`

func (a *UserAdapter) scanOne(query string, args ...any) (*domain.User, error) {
	var u domain.User
	row := a.db.QueryRow(query, args...)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Timezone, &u.Salt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (a *UserAdapter) GetByID(id uuid.UUID) (*domain.User, error) {
	return a.scanOne(`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (a *UserAdapter) GetByEmail(email string) (*domain.User, error) {
	return a.scanOne(`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (a *UserAdapter) Create(user *domain.User) error {
	query := `
		INSERT INTO users (id, email, name, timezone, salt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := a.db.Exec(query, user.ID, user.Email, user.Name, user.Timezone, user.Salt, user.CreatedAt, user.UpdatedAt)
	return err
}

func (a *UserAdapter) Update(user *domain.User) error {
	query := `UPDATE users SET email = $1, name = $2, timezone = $3, updated_at = $4 WHERE id = $5`
	_, err := a.db.Exec(query, user.Email, user.Name, user.Timezone, time.Now(), user.ID)
	return err
}

func (a *UserAdapter) Delete(id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM users WHERE id = $1`, id)
	return err
}

var _ domain.UserRepository = (*UserAdapter)(nil)
