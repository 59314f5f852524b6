package models

import (
	"database/sql"
	"time"
)

// User represents a registered account
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Password  string    `db:"password" json:"-"`
	IsAdmin   bool      `db:"is_admin" json:"is_admin"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Sanitized returns a copy of the user with the password hash stripped,
// safe to attach to a request context or serialize in a response.
func (u *User) Sanitized() *User {
	clean := *u
	clean.Password = ""
	return &clean
}

// Product is the read-only price/name source for order line snapshots
type Product struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order. is_paid and is_delivered are one-way
// flags: they flip false->true exactly once and are never cleared.
type Order struct {
	ID            int64          `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	PaymentMethod string         `db:"payment_method" json:"payment_method"`
	ItemsPrice    int64          `db:"items_price" json:"items_price"`
	ShippingPrice int64          `db:"shipping_price" json:"shipping_price"`
	TaxPrice      int64          `db:"tax_price" json:"tax_price"`
	TotalPrice    int64          `db:"total_price" json:"total_price"`
	IsPaid        bool           `db:"is_paid" json:"is_paid"`
	PaidAt        sql.NullTime   `db:"paid_at" json:"paid_at,omitempty"`
	PaymentID     sql.NullString `db:"payment_id" json:"payment_id,omitempty"`
	PaymentStatus sql.NullString `db:"payment_status" json:"payment_status,omitempty"`
	PayerEmail    sql.NullString `db:"payer_email" json:"payer_email,omitempty"`
	IsDelivered   bool           `db:"is_delivered" json:"is_delivered"`
	DeliveredAt   sql.NullTime   `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line item with the unit price snapshotted at creation time.
// The price is never re-read from the catalog after that.
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
}

// PaymentResult is the durable evidence of payment recorded on the first
// successful transition; later duplicate events never overwrite it.
type PaymentResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PayerEmail string `json:"payer_email"`
}

// WishlistItem is one row of a user's wishlist (set semantics, no duplicates)
type WishlistItem struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
