// Package telemetry holds the per-epoch view of vehicle telemetry: the
// field types, the telemetry source contract, the merged snapshot and the
// sampler that moves complete snapshots towards the publisher.
package telemetry

import "context"

// Source connects to a vehicle. Every successful Connect starts a new
// epoch and hands back a Link that owns the transport until Close.
type Source interface {
	Connect(ctx context.Context) (Link, error)
}

// Link is one live connection. Each stream runs until ctx is cancelled or
// the link fails; a closed channel means the stream has terminated.
type Link interface {
	// SetRates asks the vehicle to stream every subscribed field at hz.
	SetRates(ctx context.Context, hz float64) error

	ConnectionState(ctx context.Context) (<-chan ConnectionState, error)
	Position(ctx context.Context) (<-chan Position, error)
	Velocity(ctx context.Context) (<-chan VelocityNED, error)
	Altitude(ctx context.Context) (<-chan Altitude, error)
	Attitude(ctx context.Context) (<-chan Attitude, error)

	Close() error
}
