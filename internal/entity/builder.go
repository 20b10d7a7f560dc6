package entity

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"github.com/bilal/lattice-bridge/internal/frame"
	"github.com/bilal/lattice-bridge/internal/telemetry"
)

// DefaultExpiryHorizon is how far ahead of each publish the entity expires.
const DefaultExpiryHorizon = 10 * time.Minute

// Identity is the part of the record that never changes for a vehicle.
type Identity struct {
	ID              string
	Name            string
	Description     string
	IntegrationName string
	PlatformType    string
}

// BuildInfo reports decisions taken while building an update.
type BuildInfo struct {
	AltitudeFallback bool
}

type Builder struct {
	identity Identity
	horizon  time.Duration
	clock    clock.Clock
	created  time.Time
	tasks    []TaskDefinition
}

// NewBuilder fixes the creation time of the entity at the current time.
func NewBuilder(id Identity, horizon time.Duration, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.New()
	}
	if horizon <= 0 {
		horizon = DefaultExpiryHorizon
	}
	tasks := make([]TaskDefinition, len(DefaultTaskCatalog))
	for i, url := range DefaultTaskCatalog {
		tasks[i] = TaskDefinition{TaskSpecificationURL: url}
	}
	return &Builder{
		identity: id,
		horizon:  horizon,
		clock:    clk,
		created:  clk.Now().UTC(),
		tasks:    tasks,
	}
}

func (b *Builder) Created() time.Time     { return b.created }
func (b *Builder) Horizon() time.Duration { return b.horizon }
func (b *Builder) Identity() Identity     { return b.identity }

// Build turns a sample into an update expiring one horizon from now.
func (b *Builder) Build(s telemetry.Sample) (Update, BuildInfo, error) {
	var info BuildInfo

	if err := multierr.Combine(
		s.Position.Valid(),
		s.Velocity.Valid(),
		s.Altitude.Valid(),
		s.Attitude.Valid(),
	); err != nil {
		return Update{}, info, fmt.Errorf("invalid sample: %w", err)
	}

	agl := s.Altitude.TerrainM
	if !s.Altitude.TerrainKnown() {
		agl = s.Altitude.LocalM
		info.AltitudeFallback = true
	}

	att := frame.ToENU(quat.Number{
		Real: s.Attitude.W,
		Imag: s.Attitude.X,
		Jmag: s.Attitude.Y,
		Kmag: s.Attitude.Z,
	})
	vel := frame.VelocityENU(frame.NED{
		N: s.Velocity.NorthMS,
		E: s.Velocity.EastMS,
		D: s.Velocity.DownMS,
	})

	now := b.clock.Now().UTC()
	tasks := make([]TaskDefinition, len(b.tasks))
	copy(tasks, b.tasks)

	u := Update{
		EntityID:    b.identity.ID,
		Description: b.identity.Description,
		IsLive:      true,
		CreatedTime: b.created,
		ExpiryTime:  now.Add(b.horizon),
		Aliases:     Aliases{Name: b.identity.Name},
		Ontology: Ontology{
			Template:     TemplateAsset,
			PlatformType: b.identity.PlatformType,
		},
		MilView: MilView{
			Disposition: DispositionFriendly,
			Environment: EnvironmentAir,
		},
		Location: Location{
			Position: Position{
				LatitudeDegrees:   s.Position.LatitudeDeg,
				LongitudeDegrees:  s.Position.LongitudeDeg,
				AltitudeHAEMeters: s.Position.AbsoluteAltitudeM,
				AltitudeAGLMeters: agl,
			},
			VelocityENU: ENU{E: vel.E, N: vel.N, U: vel.U},
			AttitudeENU: Quaternion{W: att.Real, X: att.Imag, Y: att.Jmag, Z: att.Kmag},
		},
		Provenance: Provenance{
			IntegrationName:  b.identity.IntegrationName,
			DataType:         DataTypeTelemetry,
			SourceUpdateTime: s.SampledAt.UTC(),
		},
		Health: Health{
			ConnectionStatus: ConnectionOnline,
			HealthStatus:     HealthHealthy,
			UpdateTime:       now,
		},
		TaskCatalog: TaskCatalog{TaskDefinitions: tasks},
	}
	return u, info, nil
}
