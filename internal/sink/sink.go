package sink

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/bilal/lattice-bridge/internal/entity"
)

// Sink is a publish target that holds resources until Close.
type Sink interface {
	Publish(ctx context.Context, u entity.Update) error
	io.Closer
}

// Log only records updates. Useful for dry runs against a vehicle.
type Log struct{}

func (Log) Publish(_ context.Context, u entity.Update) error {
	pos := u.Location.Position
	log.Info().
		Str("entity_id", u.EntityID).
		Float64("lat", pos.LatitudeDegrees).
		Float64("lon", pos.LongitudeDegrees).
		Float64("agl_m", pos.AltitudeAGLMeters).
		Time("expiry", u.ExpiryTime).
		Msg("dry-run entity update")
	return nil
}

func (Log) Close() error { return nil }

// Fanout calls every sink once per update. Failures are combined; one
// failing sink does not keep the update from the others.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, u entity.Update) error {
	var err error
	for i, s := range f {
		if perr := s.Publish(ctx, u); perr != nil {
			err = multierr.Append(err, fmt.Errorf("sink %d: %w", i, perr))
		}
	}
	return err
}

func (f Fanout) Close() error {
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.Close())
	}
	return err
}
