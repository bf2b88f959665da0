package servobus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/biped/pkg/pose"
)

// fakePort answers every written frame through respond.
type fakePort struct {
	tx      bytes.Buffer
	rx      bytes.Buffer
	respond func(req []byte) []byte
	closed  bool
	failTx  error
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.failTx != nil {
		return 0, p.failTx
	}
	p.tx.Write(b)
	if p.respond != nil {
		p.rx.Write(p.respond(b))
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.rx.Read(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

var _ io.ReadWriteCloser = (*fakePort)(nil)

func TestEncodeFrame_Move(t *testing.T) {
	port := &fakePort{}
	bus := NewLX16A(port, 10*time.Millisecond)

	err := bus.MoveTo(context.Background(), 1, 120, time.Second)
	require.NoError(t, err)

	expected := []byte{0x55, 0x55, 0x01, 0x07, 0x01, 0xF4, 0x01, 0xE8, 0x03, 0x16}
	assert.Equal(t, expected, port.tx.Bytes())
}

func TestLX16A_MoveRejected(t *testing.T) {
	bus := NewLX16A(&fakePort{}, 10*time.Millisecond)
	ctx := context.Background()

	err := bus.MoveTo(ctx, 1, 241, time.Second)
	assert.Equal(t, KindRejected, Classify(err))

	err = bus.MoveTo(ctx, 1, 100, time.Minute)
	assert.Equal(t, KindRejected, Classify(err))
}

func TestLX16A_MoveNaNRejected(t *testing.T) {
	port := &fakePort{}
	bus := NewLX16A(port, 10*time.Millisecond)

	err := bus.MoveTo(context.Background(), 1, pose.Angle(math.NaN()), time.Second)
	assert.Equal(t, KindRejected, Classify(err))
	assert.Zero(t, port.tx.Len(), "nothing may reach the wire")
}

func TestLX16A_WriteFailureIsDisconnect(t *testing.T) {
	bus := NewLX16A(&fakePort{failTx: errors.New("device gone")}, 10*time.Millisecond)

	err := bus.MoveTo(context.Background(), 1, 100, time.Second)
	assert.Equal(t, KindDisconnected, Classify(err))
}

func TestLX16A_Angle(t *testing.T) {
	port := &fakePort{
		respond: func(req []byte) []byte {
			// Echo the request like adapters that loop TX to RX, then
			// add line noise before the real answer.
			out := append([]byte(nil), req...)
			out = append(out, 0x00, 0x55)
			return append(out, 0x55, 0x55, 0x01, 0x05, 0x1C, 0xF4, 0x01, 0xE8)
		},
	}
	bus := NewLX16A(port, 50*time.Millisecond)

	a, err := bus.Angle(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, float64(a), 0.001)
	assert.Equal(t, []byte{0x55, 0x55, 0x01, 0x03, 0x1C, 0xDF}, port.tx.Bytes())
}

func TestLX16A_Telemetry(t *testing.T) {
	port := &fakePort{
		respond: func(req []byte) []byte {
			id, cmd := req[2], req[4]
			switch cmd {
			case lxCmdVinRead:
				return encodeFrame(id, cmd, 0xE8, 0x1C) // 7400 mV
			case lxCmdTempRead:
				return encodeFrame(id, cmd, 41)
			case lxCmdIDRead:
				return encodeFrame(id, cmd, id)
			}
			return nil
		},
	}
	bus := NewLX16A(port, 50*time.Millisecond)
	ctx := context.Background()

	mv, err := bus.Voltage(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 7400, mv)

	c, err := bus.Temperature(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 41, c)

	assert.NoError(t, bus.Ping(ctx, 20))
}

func TestLX16A_Timeout(t *testing.T) {
	bus := NewLX16A(&fakePort{}, 10*time.Millisecond)

	err := bus.Ping(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, Classify(err))
}

func TestLX16A_BadChecksumSkipped(t *testing.T) {
	port := &fakePort{
		respond: func(req []byte) []byte {
			bad := encodeFrame(req[2], req[4], 30)
			bad[len(bad)-1]++
			return append(bad, encodeFrame(req[2], req[4], 31)...)
		},
	}
	bus := NewLX16A(port, 50*time.Millisecond)

	c, err := bus.Temperature(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 31, c)
}

func TestLX16A_StrayHeaderBeforeReply(t *testing.T) {
	port := &fakePort{
		respond: func(req []byte) []byte {
			return append([]byte{0x55}, encodeFrame(req[2], lxCmdPosRead, 0xF4, 0x01)...)
		},
	}
	bus := NewLX16A(port, 50*time.Millisecond)

	for _, id := range []pose.ServoID{4, 10} {
		a, err := bus.Angle(context.Background(), id)
		require.NoError(t, err, "servo %d", id)
		assert.InDelta(t, 120.0, float64(a), 0.001)
	}
}

func TestLX16A_Closed(t *testing.T) {
	port := &fakePort{}
	bus := NewLX16A(port, 10*time.Millisecond)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.True(t, port.closed)

	err := bus.MoveTo(context.Background(), 1, 100, time.Second)
	assert.Equal(t, KindDisconnected, Classify(err))
}

func TestDecodeFrame_Partial(t *testing.T) {
	full := encodeFrame(4, lxCmdPosRead, 0x10, 0x00)

	_, consumed, ok, err := decodeFrame(full[:5])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, consumed)

	f, consumed, ok, err := decodeFrame(full)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(full), consumed)
	assert.Equal(t, byte(4), f.id)
	assert.Equal(t, []byte{0x10, 0x00}, f.params)
}

func TestDecodeFrame_ResyncAfterBadChecksum(t *testing.T) {
	valid := encodeFrame(4, lxCmdPosRead, 0xF4, 0x01)
	buf := append([]byte{0x55}, valid...)

	// The stray byte makes 55 55 55 04 05 1c f4 look like a frame.
	_, consumed, ok, err := decodeFrame(buf)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, consumed)

	f, consumed, ok, err := decodeFrame(buf[consumed:])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(valid), consumed)
	assert.Equal(t, byte(4), f.id)
	assert.Equal(t, []byte{0xF4, 0x01}, f.params)
}

func TestDegreesToSteps(t *testing.T) {
	tests := []struct {
		deg   pose.Angle
		steps int
	}{
		{0, 0},
		{180, 2048},
		{240, 2730},
	}
	for _, tt := range tests {
		if got := degreesToSteps(tt.deg); got != tt.steps {
			t.Errorf("degreesToSteps(%v) = %d, want %d", tt.deg, got, tt.steps)
		}
		if back := stepsToDegrees(tt.steps); back-tt.deg > 0.1 || tt.deg-back > 0.1 {
			t.Errorf("stepsToDegrees(%d) = %v, want about %v", tt.steps, back, tt.deg)
		}
	}
}
