package order

import (
	"context"
	"time"
)

// StatusChanged is emitted after every successful transition.
type StatusChanged struct {
	OrderID      string
	CustomerID   string
	RestaurantID string
	From         Status
	To           Status
	At           time.Time
	Note         string
}

// Terminal reports whether the order reached a final status.
func (e StatusChanged) Terminal() bool {
	return e.To.Terminal()
}

// Publisher delivers status-changed events to external consumers.
type Publisher interface {
	Publish(ctx context.Context, e StatusChanged) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e StatusChanged) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, e StatusChanged) error {
	return f(ctx, e)
}

var discard = PublisherFunc(func(context.Context, StatusChanged) error { return nil })
