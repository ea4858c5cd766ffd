package ports

import (
	"context"

	"streamcart/internal/core/domain"
)

// CatalogClient talks to the platform's product/catalog REST API.
type CatalogClient interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)
	CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id domain.ProductID) error

	PinProduct(ctx context.Context, sellerID string, id domain.ProductID) error
	UnpinProduct(ctx context.Context, sellerID string, id domain.ProductID) error
	UnpinAll(ctx context.Context, sellerID string) error
	PinnedProducts(ctx context.Context, sellerID string) ([]domain.PinnedProduct, error)

	ListBroadcasts(ctx context.Context) ([]domain.Broadcast, error)
	StartBroadcast(ctx context.Context, sellerID, title string) (*domain.Broadcast, error)
	EndBroadcast(ctx context.Context, id domain.BroadcastID) error
}

// PredictionClient submits one video frame to the ML inference endpoint.
type PredictionClient interface {
	ProcessFrame(ctx context.Context, sellerID string, jpeg []byte) (*domain.FrameResult, error)
}
