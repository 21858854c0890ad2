package model

import "time"

// DateLayout is the ISO-8601 calendar-date layout used for activation and
// expiration dates. Dates never carry a time-of-day component.
const DateLayout = "2006-01-02"

// Key is a license key record. The key string is the record's identity.
// ActivationDate and Expires are both nil until the key is activated, and
// both set afterwards; IsActive mirrors that state.
type Key struct {
	Key            string    `json:"key" db:"license_key"`
	Prefix         string    `json:"prefix" db:"prefix"`
	ValidityDays   int       `json:"validity_days" db:"validity_days"`
	Price          Money     `json:"price" db:"price_cents"` // unit price charged at creation
	ActivationDate *string   `json:"activation_date" db:"activation_date"`
	Expires        *string   `json:"expires" db:"expires"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedBy      string    `json:"created_by" db:"created_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// KeyFilter narrows key listings and bulk operations. Empty fields match
// everything.
type KeyFilter struct {
	Prefix    string
	CreatedBy string
}
