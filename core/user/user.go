package user

import "time"

type User struct {
	ID        string    `json:"id" db:"user_id"`
	Subject   string    `json:"-" db:"subject"`
	Email     string    `json:"email" db:"email"`
	IsAdmin   bool      `json:"isAdmin" db:"is_admin"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Identity is what a verified identity provider token tells us about the
// caller.
type Identity struct {
	Subject string
	Email   string
}
