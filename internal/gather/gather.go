// Package gather defines the interface shared by market data collectors.
package gather

import "context"

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early with ctx.Err() when
	// ctx is cancelled.
	Run(ctx context.Context) error
}
