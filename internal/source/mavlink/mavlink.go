// Package mavlink reads vehicle telemetry over MAVLink using gomavlib.
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/bilal/lattice-bridge/internal/telemetry"
)

// Terrain altitudes below this are the protocol's "unknown" marker.
const unknownTerrainM = -1000

// stateDepth buffers connection transitions so a short drop followed by a
// reconnect is still seen as two changes.
const stateDepth = 8

var ErrNoHeartbeat = errors.New("mavlink: no heartbeat from vehicle")

type Config struct {
	Address          string
	SystemID         byte // our id on the MAVLink network
	ConnectTimeout   time.Duration
	HeartbeatTimeout time.Duration
}

type Source struct {
	cfg Config
}

func New(cfg Config) (*Source, error) {
	if _, err := ParseAddress(cfg.Address); err != nil {
		return nil, err
	}
	if cfg.SystemID == 0 {
		cfg.SystemID = 245
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 3 * time.Second
	}
	return &Source{cfg: cfg}, nil
}

// Connect opens the endpoint and waits for the first vehicle heartbeat.
func (s *Source) Connect(ctx context.Context) (telemetry.Link, error) {
	ep, err := ParseAddress(s.cfg.Address)
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: s.cfg.SystemID,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.cfg.Address, err)
	}

	l := newLink(node, s.cfg.HeartbeatTimeout)
	l.start()

	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-l.firstHeartbeat:
		log.Info().
			Str("address", s.cfg.Address).
			Uint8("system_id", l.target()).
			Msg("vehicle heartbeat received")
		return l, nil
	case <-timer.C:
		l.Close()
		return nil, fmt.Errorf("%w within %s", ErrNoHeartbeat, s.cfg.ConnectTimeout)
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	}
}

type writer interface {
	WriteMessageAll(m message.Message) error
}

type link struct {
	node             *gomavlib.Node
	out              writer
	heartbeatTimeout time.Duration

	states     *hub[telemetry.ConnectionState]
	positions  *hub[telemetry.Position]
	velocities *hub[telemetry.VelocityNED]
	altitudes  *hub[telemetry.Altitude]
	attitudes  *hub[telemetry.Attitude]

	mu             sync.Mutex
	systemID       byte
	componentID    byte
	lastHeartbeat  time.Time
	connected      bool
	firstHeartbeat chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newLink(node *gomavlib.Node, heartbeatTimeout time.Duration) *link {
	l := &link{
		node:             node,
		heartbeatTimeout: heartbeatTimeout,
		states:           newHub[telemetry.ConnectionState](stateDepth),
		positions:        newHub[telemetry.Position](1),
		velocities:       newHub[telemetry.VelocityNED](1),
		altitudes:        newHub[telemetry.Altitude](1),
		attitudes:        newHub[telemetry.Attitude](1),
		firstHeartbeat:   make(chan struct{}),
		done:             make(chan struct{}),
	}
	if node != nil {
		l.out = node
	}
	return l
}

func (l *link) start() {
	l.wg.Add(2)
	go l.dispatch()
	go l.watchHeartbeat()
}

func (l *link) target() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.systemID
}

func (l *link) dispatch() {
	defer l.wg.Done()
	events := l.node.Events()
	for {
		select {
		case <-l.done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			l.handle(evt)
		}
	}
}

func (l *link) handle(evt gomavlib.Event) {
	switch e := evt.(type) {
	case *gomavlib.EventChannelClose:
		log.Warn().Msg("mavlink channel closed")
		l.setConnected(false)

	case *gomavlib.EventFrame:
		switch msg := e.Message().(type) {
		case *common.MessageHeartbeat:
			if msg.Type == common.MAV_TYPE_GCS {
				return
			}
			l.heartbeat(e.SystemID(), e.ComponentID())

		case *common.MessageGlobalPositionInt:
			l.positions.publish(telemetry.Position{
				LatitudeDeg:       float64(msg.Lat) / 1e7,
				LongitudeDeg:      float64(msg.Lon) / 1e7,
				AbsoluteAltitudeM: float64(msg.Alt) / 1000,
				RelativeAltitudeM: float64(msg.RelativeAlt) / 1000,
			})

		case *common.MessageLocalPositionNed:
			l.velocities.publish(telemetry.VelocityNED{
				NorthMS: float64(msg.Vx),
				EastMS:  float64(msg.Vy),
				DownMS:  float64(msg.Vz),
			})

		case *common.MessageAltitude:
			terrain := float64(msg.AltitudeTerrain)
			if terrain < unknownTerrainM {
				terrain = math.NaN()
			}
			l.altitudes.publish(telemetry.Altitude{
				TerrainM: terrain,
				LocalM:   float64(msg.AltitudeLocal),
			})

		case *common.MessageAttitudeQuaternion:
			l.attitudes.publish(telemetry.Attitude{
				W: float64(msg.Q1),
				X: float64(msg.Q2),
				Y: float64(msg.Q3),
				Z: float64(msg.Q4),
			})
		}
	}
}

func (l *link) heartbeat(systemID, componentID byte) {
	l.mu.Lock()
	first := l.systemID == 0
	if first {
		l.systemID, l.componentID = systemID, componentID
	}
	l.lastHeartbeat = time.Now()
	l.mu.Unlock()

	if first {
		close(l.firstHeartbeat)
	}
	l.setConnected(true)
}

func (l *link) setConnected(v bool) {
	l.mu.Lock()
	changed := l.connected != v
	l.connected = v
	l.mu.Unlock()

	if changed {
		l.states.publish(telemetry.ConnectionState{IsConnected: v})
	}
}

func (l *link) watchHeartbeat() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.heartbeatTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			stale := l.connected && time.Since(l.lastHeartbeat) > l.heartbeatTimeout
			l.mu.Unlock()
			if stale {
				log.Warn().Dur("timeout", l.heartbeatTimeout).Msg("vehicle heartbeat timed out")
				l.setConnected(false)
			}
		}
	}
}

// SetRates requests every telemetry message at hz with
// MAV_CMD_SET_MESSAGE_INTERVAL. Every request is attempted; the write
// errors are returned together.
func (l *link) SetRates(_ context.Context, hz float64) (err error) {
	if hz <= 0 {
		return fmt.Errorf("invalid rate %v", hz)
	}
	l.mu.Lock()
	sys, comp := l.systemID, l.componentID
	l.mu.Unlock()

	intervalUS := float32(1e6 / hz)
	for _, id := range []uint32{
		(&common.MessageGlobalPositionInt{}).GetID(),
		(&common.MessageLocalPositionNed{}).GetID(),
		(&common.MessageAltitude{}).GetID(),
		(&common.MessageAttitudeQuaternion{}).GetID(),
	} {
		werr := l.out.WriteMessageAll(&common.MessageCommandLong{
			TargetSystem:    sys,
			TargetComponent: comp,
			Command:         common.MAV_CMD_SET_MESSAGE_INTERVAL,
			Param1:          float32(id),
			Param2:          intervalUS,
		})
		if werr != nil {
			err = multierr.Append(err, fmt.Errorf("set interval for message %d: %w", id, werr))
		}
	}
	return err
}

func (l *link) ConnectionState(ctx context.Context) (<-chan telemetry.ConnectionState, error) {
	ch := l.states.subscribe(ctx, l.done, &l.wg)
	l.mu.Lock()
	connected := l.connected
	l.mu.Unlock()
	l.states.publish(telemetry.ConnectionState{IsConnected: connected})
	return ch, nil
}

func (l *link) Position(ctx context.Context) (<-chan telemetry.Position, error) {
	return l.positions.subscribe(ctx, l.done, &l.wg), nil
}

func (l *link) Velocity(ctx context.Context) (<-chan telemetry.VelocityNED, error) {
	return l.velocities.subscribe(ctx, l.done, &l.wg), nil
}

func (l *link) Altitude(ctx context.Context) (<-chan telemetry.Altitude, error) {
	return l.altitudes.subscribe(ctx, l.done, &l.wg), nil
}

func (l *link) Attitude(ctx context.Context) (<-chan telemetry.Attitude, error) {
	return l.attitudes.subscribe(ctx, l.done, &l.wg), nil
}

// Close stops every stream and releases the node.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		l.node.Close()
	})
	return nil
}
