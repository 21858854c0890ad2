package model

import "time"

// Moderator is a stored dashboard account that may generate keys and accrues
// debt for them. The admin account is configured out-of-band and is never
// stored. Passwords are stored as bcrypt hashes.
type Moderator struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Role         string    `json:"role" db:"role"`
	Debt         Money     `json:"debt" db:"debt_cents"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
