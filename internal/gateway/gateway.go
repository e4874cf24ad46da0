// Package gateway abstracts the broker. The ledger only trusts a fill once the
// gateway confirms it.
package gateway

import (
	"context"
	"errors"

	"futures-core/internal/model"
)

var (
	// ErrTimeout is returned when a gateway call misses its deadline.
	ErrTimeout = errors.New("gateway: timeout")
	// ErrInvalidOrder is returned for orders the gateway cannot express.
	ErrInvalidOrder = errors.New("gateway: invalid order")
)

// Fill is the broker's answer to one order.
type Fill struct {
	Accepted bool    `json:"accepted"`
	Price    float64 `json:"price"`
	Message  string  `json:"message,omitempty"`
}

// Gateway submits orders and answers position queries. Price 0 means market.
type Gateway interface {
	Submit(ctx context.Context, dir model.Direction, qty float64, price float64) (Fill, error)
	QueryPosition(ctx context.Context) (float64, error)
	QueryEquity(ctx context.Context) (float64, error)
	// QueryCostBasis returns 0 when the broker has no cost for the position.
	QueryCostBasis(ctx context.Context) (float64, error)
}
