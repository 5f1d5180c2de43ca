package domain

import (
	"time"

	"github.com/google/uuid"
)

// User owns exactly one User Graph Coordinator instance and zero or more
// external Accounts.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	Timezone  string    `json:"timezone"`
	Salt      string    `json:"-"` // per-user hash salt for participant hashing, never serialized
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserRepository interface {
	GetByID(id uuid.UUID) (*User, error)
	GetByEmail(email string) (*User, error)
	Create(user *User) error
	Update(user *User) error
	Delete(id uuid.UUID) error
}
