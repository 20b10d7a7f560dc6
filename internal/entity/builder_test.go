package entity

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal/lattice-bridge/internal/telemetry"
)

var testIdentity = Identity{
	ID:              "drone-1",
	Name:            "ARK Drone",
	Description:     "Friendly drone asset",
	IntegrationName: "mavsdk_integration",
	PlatformType:    "UAV",
}

func testSample(at time.Time) telemetry.Sample {
	return telemetry.Sample{
		Epoch:     1,
		SampledAt: at,
		Position:  telemetry.Position{LatitudeDeg: 47.397742, LongitudeDeg: 8.545594, AbsoluteAltitudeM: 488.3},
		Velocity:  telemetry.VelocityNED{NorthMS: 3, EastMS: 4, DownMS: -1},
		Altitude:  telemetry.Altitude{TerrainM: 12.5, LocalM: 13},
		Attitude:  telemetry.Attitude{W: 1},
	}
}

func TestBuild_FullRecord(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b := NewBuilder(testIdentity, 10*time.Minute, clk)
	created := clk.Now()

	clk.Add(30 * time.Second)
	sample := testSample(clk.Now().Add(-200 * time.Millisecond))
	got, info, err := b.Build(sample)
	require.NoError(t, err)
	assert.False(t, info.AltitudeFallback)

	now := clk.Now()
	want := Update{
		EntityID:    "drone-1",
		Description: "Friendly drone asset",
		IsLive:      true,
		CreatedTime: created,
		ExpiryTime:  now.Add(10 * time.Minute),
		Aliases:     Aliases{Name: "ARK Drone"},
		Ontology:    Ontology{Template: TemplateAsset, PlatformType: "UAV"},
		MilView:     MilView{Disposition: DispositionFriendly, Environment: EnvironmentAir},
		Location: Location{
			Position: Position{
				LatitudeDegrees:   47.397742,
				LongitudeDegrees:  8.545594,
				AltitudeHAEMeters: 488.3,
				AltitudeAGLMeters: 12.5,
			},
			VelocityENU: ENU{E: 4, N: 3, U: 1},
			AttitudeENU: Quaternion{W: 0, X: math.Sqrt2 / 2, Y: math.Sqrt2 / 2, Z: 0},
		},
		Provenance: Provenance{
			IntegrationName:  "mavsdk_integration",
			DataType:         DataTypeTelemetry,
			SourceUpdateTime: sample.SampledAt,
		},
		Health: Health{
			ConnectionStatus: ConnectionOnline,
			HealthStatus:     HealthHealthy,
			UpdateTime:       now,
		},
		TaskCatalog: TaskCatalog{TaskDefinitions: []TaskDefinition{
			{TaskSpecificationURL: "type.googleapis.com/anduril.tasks.v2.VisualId"},
			{TaskSpecificationURL: "type.googleapis.com/anduril.tasks.v2.Monitor"},
			{TaskSpecificationURL: "type.googleapis.com/anduril.tasks.v2.Investigate"},
		}},
	}

	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_ExpiryIsExactlyOneHorizonAhead(t *testing.T) {
	clk := clock.NewMock()
	horizon := 5 * time.Minute
	b := NewBuilder(testIdentity, horizon, clk)

	for i := 0; i < 5; i++ {
		clk.Add(1300 * time.Millisecond)
		u, _, err := b.Build(testSample(clk.Now()))
		require.NoError(t, err)
		assert.Equal(t, horizon, u.ExpiryTime.Sub(clk.Now()))
		assert.True(t, u.ExpiryTime.After(clk.Now()))
		assert.Equal(t, b.Created(), u.CreatedTime)
	}
}

func TestBuild_TerrainFallback(t *testing.T) {
	b := NewBuilder(testIdentity, time.Minute, clock.NewMock())

	for _, terrain := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		s := testSample(time.Now())
		s.Altitude = telemetry.Altitude{TerrainM: terrain, LocalM: 42.25}

		u, info, err := b.Build(s)
		require.NoError(t, err)
		assert.True(t, info.AltitudeFallback)
		assert.Equal(t, 42.25, u.Location.Position.AltitudeAGLMeters)
	}
}

func TestBuild_RejectsInvalid(t *testing.T) {
	b := NewBuilder(testIdentity, time.Minute, clock.NewMock())

	s := testSample(time.Now())
	s.Velocity.NorthMS = math.NaN()
	_, _, err := b.Build(s)
	assert.ErrorIs(t, err, telemetry.ErrNonFinite)

	s = testSample(time.Now())
	s.Position = telemetry.Position{}
	_, _, err = b.Build(s)
	assert.ErrorIs(t, err, telemetry.ErrNoFix)
}

func TestBuild_DefaultHorizon(t *testing.T) {
	b := NewBuilder(testIdentity, 0, clock.NewMock())
	assert.Equal(t, DefaultExpiryHorizon, b.Horizon())
}

func TestUpdate_JSONFieldNames(t *testing.T) {
	b := NewBuilder(testIdentity, time.Minute, clock.NewMock())
	u, _, err := b.Build(testSample(time.Now()))
	require.NoError(t, err)

	raw, err := json.Marshal(u)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"entityId", "isLive", "createdTime", "expiryTime", "aliases", "ontology", "milView", "location", "provenance", "health", "taskCatalog"} {
		assert.Contains(t, m, key)
	}
	loc := m["location"].(map[string]any)
	assert.Contains(t, loc, "velocityEnu")
	assert.Contains(t, loc, "attitudeEnu")
	pos := loc["position"].(map[string]any)
	assert.Contains(t, pos, "altitudeAglMeters")
	assert.Contains(t, pos, "altitudeHaeMeters")
}
