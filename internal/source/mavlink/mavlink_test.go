package mavlink

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/bilal/lattice-bridge/internal/telemetry"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in   string
		want gomavlib.EndpointConf
	}{
		{"udp://:14540", gomavlib.EndpointUDPServer{Address: ":14540"}},
		{"udpin://0.0.0.0:14550", gomavlib.EndpointUDPServer{Address: "0.0.0.0:14550"}},
		{"udpout://10.0.0.2:14550", gomavlib.EndpointUDPClient{Address: "10.0.0.2:14550"}},
		{"tcp://10.0.0.2:5760", gomavlib.EndpointTCPClient{Address: "10.0.0.2:5760"}},
		{"tcpin://:5760", gomavlib.EndpointTCPServer{Address: ":5760"}},
		{"serial:///dev/ttyACM0:921600", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 921600}},
		{"serial:///dev/ttyUSB0", gomavlib.EndpointSerial{Device: "/dev/ttyUSB0", Baud: 57600}},
	}
	for _, tc := range cases {
		got, err := ParseAddress(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"14540", "ws://host:1", "serial:///dev/tty:fast"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestNew_RejectsBadAddress(t *testing.T) {
	_, err := New(Config{Address: "bogus"})
	assert.Error(t, err)

	s, err := New(Config{Address: "udp://:14540"})
	require.NoError(t, err)
	assert.Equal(t, byte(245), s.cfg.SystemID)
	assert.Equal(t, 3*time.Second, s.cfg.HeartbeatTimeout)
}

func frameEvent(msg message.Message) *gomavlib.EventFrame {
	return &gomavlib.EventFrame{Frame: &frame.V2Frame{SystemID: 1, ComponentID: 1, Message: msg}}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("no value received")
	}
	var zero T
	return zero
}

func TestLink_DecodesMessages(t *testing.T) {
	l := newLink(nil, time.Second)
	defer func() {
		close(l.done)
		l.wg.Wait()
	}()
	ctx := context.Background()

	pos, _ := l.Position(ctx)
	vel, _ := l.Velocity(ctx)
	alt, _ := l.Altitude(ctx)
	att, _ := l.Attitude(ctx)

	l.handle(frameEvent(&common.MessageGlobalPositionInt{
		Lat: 473977420, Lon: 85455940, Alt: 488300, RelativeAlt: 10000,
	}))
	p := receive(t, pos)
	assert.InDelta(t, 47.397742, p.LatitudeDeg, 1e-9)
	assert.InDelta(t, 8.545594, p.LongitudeDeg, 1e-9)
	assert.InDelta(t, 488.3, p.AbsoluteAltitudeM, 1e-9)
	assert.InDelta(t, 10, p.RelativeAltitudeM, 1e-9)

	l.handle(frameEvent(&common.MessageLocalPositionNed{Vx: 1.5, Vy: -2, Vz: 0.25}))
	assert.Equal(t, telemetry.VelocityNED{NorthMS: 1.5, EastMS: -2, DownMS: 0.25}, receive(t, vel))

	l.handle(frameEvent(&common.MessageAltitude{AltitudeTerrain: -9999, AltitudeLocal: 12}))
	a := receive(t, alt)
	assert.True(t, math.IsNaN(a.TerrainM))
	assert.Equal(t, 12.0, a.LocalM)

	l.handle(frameEvent(&common.MessageAttitudeQuaternion{Q1: 1}))
	assert.Equal(t, telemetry.Attitude{W: 1}, receive(t, att))
}

func TestLink_HeartbeatDrivesConnectionState(t *testing.T) {
	l := newLink(nil, 60*time.Millisecond)
	l.wg.Add(1)
	go l.watchHeartbeat()
	defer func() {
		close(l.done)
		l.wg.Wait()
	}()

	states, _ := l.ConnectionState(context.Background())
	assert.False(t, receive(t, states).IsConnected)

	l.handle(frameEvent(&common.MessageHeartbeat{Type: common.MAV_TYPE_QUADROTOR}))
	assert.True(t, receive(t, states).IsConnected)
	assert.Equal(t, byte(1), l.target())

	select {
	case <-l.firstHeartbeat:
	default:
		t.Fatal("first heartbeat not signalled")
	}

	// no further heartbeats: the watchdog reports the loss
	assert.False(t, receive(t, states).IsConnected)
}

func TestLink_IgnoresGroundStationHeartbeat(t *testing.T) {
	l := newLink(nil, time.Second)
	l.handle(frameEvent(&common.MessageHeartbeat{Type: common.MAV_TYPE_GCS}))
	assert.Equal(t, byte(0), l.target())
}

func TestHub_KeepsNewest(t *testing.T) {
	h := newHub[int](1)
	done := make(chan struct{})
	defer close(done)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	ch := h.subscribe(ctx, done, &wg)

	h.publish(1)
	h.publish(2)
	h.publish(3)
	assert.Equal(t, 3, <-ch)

	cancel()
	wg.Wait()
	_, ok := <-ch
	assert.False(t, ok)

	// publishing with no subscribers is a no-op
	h.publish(4)
}

func TestHub_DropsOldestWhenFull(t *testing.T) {
	h := newHub[int](3)
	done := make(chan struct{})
	var wg sync.WaitGroup
	ch := h.subscribe(context.Background(), done, &wg)

	for i := 1; i <= 5; i++ {
		h.publish(i)
	}
	assert.Equal(t, 3, <-ch)
	assert.Equal(t, 4, <-ch)
	assert.Equal(t, 5, <-ch)

	close(done)
	wg.Wait()
}

func TestLink_KeepsShortDropAndRecovery(t *testing.T) {
	l := newLink(nil, time.Second)
	defer func() {
		close(l.done)
		l.wg.Wait()
	}()

	states, _ := l.ConnectionState(context.Background())

	// no reader between transitions
	l.setConnected(true)
	l.setConnected(false)
	l.setConnected(true)

	var got []bool
	for i := 0; i < 4; i++ {
		got = append(got, receive(t, states).IsConnected)
	}
	assert.Equal(t, []bool{false, true, false, true}, got)
}

type fakeWriter struct {
	mu   sync.Mutex
	sent []*common.MessageCommandLong
	fail map[float32]error
}

func (w *fakeWriter) WriteMessageAll(m message.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cmd := m.(*common.MessageCommandLong)
	w.sent = append(w.sent, cmd)
	return w.fail[cmd.Param1]
}

func TestLink_SetRates(t *testing.T) {
	w := &fakeWriter{}
	l := newLink(nil, time.Second)
	l.out = w
	l.heartbeat(1, 1)

	require.NoError(t, l.SetRates(context.Background(), 10))
	require.Len(t, w.sent, 4)
	for _, cmd := range w.sent {
		assert.Equal(t, common.MAV_CMD_SET_MESSAGE_INTERVAL, cmd.Command)
		assert.Equal(t, byte(1), cmd.TargetSystem)
		assert.Equal(t, float32(100000), cmd.Param2)
	}
	assert.Equal(t, float32((&common.MessageGlobalPositionInt{}).GetID()), w.sent[0].Param1)

	assert.Error(t, l.SetRates(context.Background(), 0))
}

func TestLink_SetRatesReportsEveryWriteError(t *testing.T) {
	errClosed := errors.New("channel closed")
	w := &fakeWriter{fail: map[float32]error{
		float32((&common.MessageAltitude{}).GetID()):           errClosed,
		float32((&common.MessageAttitudeQuaternion{}).GetID()): errClosed,
	}}
	l := newLink(nil, time.Second)
	l.out = w

	err := l.SetRates(context.Background(), 5)
	require.Error(t, err)
	assert.Len(t, w.sent, 4, "every request is attempted")
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, errClosed)
}
