package domain

import "time"

type Product struct {
	ID          ProductID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	ImageURL    string    `json:"image_url,omitempty"`
	SellerID    string    `json:"seller_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type PinnedProduct struct {
	Product  Product   `json:"product"`
	PinnedAt time.Time `json:"pinned_at"`
	Auto     bool      `json:"auto"`
}

type Broadcast struct {
	ID        BroadcastID `json:"id"`
	SellerID  string      `json:"seller_id"`
	Title     string      `json:"title"`
	Active    bool        `json:"is_active"`
	Viewers   int         `json:"viewers,omitempty"`
	StartedAt time.Time   `json:"started_at,omitempty"`
}
