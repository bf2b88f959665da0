package servobus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/gwillem/biped/pkg/pose"
)

// LX-16A wire protocol.
const (
	lxHeader       = 0x55
	lxBaudRate     = 115200
	lxMaxPosition  = 1000 // 0..1000 maps to 0..240 degrees
	lxMaxMoveMs    = 30000
	lxBroadcastID  = 0xFE
	lxMinFrameSize = 6
	lxMaxLength    = 7 // length byte of the longest command, MOVE_TIME_WRITE

	lxCmdMoveTimeWrite = 1
	lxCmdIDRead        = 14
	lxCmdTempRead      = 26
	lxCmdVinRead       = 27
	lxCmdPosRead       = 28
)

// LX16A drives LewanSoul/Hiwonder LX-16A servos.
type LX16A struct {
	port    io.ReadWriteCloser
	timeout time.Duration

	mu     sync.Mutex
	buf    []byte
	closed bool
}

var _ Bus = (*LX16A)(nil)

// OpenLX16A opens the serial port named in cfg.
func OpenLX16A(cfg Config) (*LX16A, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = lxBaudRate
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port: %w", err)
	}

	// Reads return early with zero bytes once the timeout expires, so a
	// missing servo never blocks the caller.
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}

	return NewLX16A(port, cfg.Timeout), nil
}

// NewLX16A wraps an already open port.
func NewLX16A(port io.ReadWriteCloser, timeout time.Duration) *LX16A {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &LX16A{port: port, timeout: timeout}
}

// Close closes the serial port.
func (b *LX16A) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.port.Close()
}

// MoveTo writes SERVO_MOVE_TIME_WRITE. The servo does not acknowledge it.
func (b *LX16A) MoveTo(ctx context.Context, id pose.ServoID, angle pose.Angle, d time.Duration) error {
	if !(angle >= pose.MinAngle && angle <= pose.MaxAngle) {
		return fmt.Errorf("move servo %d to %.1f: %w", id, angle, ErrRejected)
	}
	ms := d.Milliseconds()
	if ms < 0 || ms > lxMaxMoveMs {
		return fmt.Errorf("move servo %d over %s: %w", id, d, ErrRejected)
	}

	pos := uint16(math.Round(float64(angle) * lxMaxPosition / float64(pose.MaxAngle)))
	params := binary.LittleEndian.AppendUint16(nil, pos)
	params = binary.LittleEndian.AppendUint16(params, uint16(ms))

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(ctx, id, lxCmdMoveTimeWrite, params...)
}

// Angle reads SERVO_POS_READ.
func (b *LX16A) Angle(ctx context.Context, id pose.ServoID) (pose.Angle, error) {
	params, err := b.query(ctx, id, lxCmdPosRead, 2)
	if err != nil {
		return 0, err
	}
	pos := int16(binary.LittleEndian.Uint16(params))
	return pose.Angle(float64(pos) * float64(pose.MaxAngle) / lxMaxPosition), nil
}

// Voltage reads SERVO_VIN_READ.
func (b *LX16A) Voltage(ctx context.Context, id pose.ServoID) (int, error) {
	params, err := b.query(ctx, id, lxCmdVinRead, 2)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint16(params)), nil
}

// Temperature reads SERVO_TEMP_READ.
func (b *LX16A) Temperature(ctx context.Context, id pose.ServoID) (int, error) {
	params, err := b.query(ctx, id, lxCmdTempRead, 1)
	if err != nil {
		return 0, err
	}
	return int(params[0]), nil
}

// Ping reads the servo ID back.
func (b *LX16A) Ping(ctx context.Context, id pose.ServoID) error {
	params, err := b.query(ctx, id, lxCmdIDRead, 1)
	if err != nil {
		return err
	}
	if pose.ServoID(params[0]) != id {
		return fmt.Errorf("ping servo %d: answered as %d", id, params[0])
	}
	return nil
}

func (b *LX16A) query(ctx context.Context, id pose.ServoID, cmd byte, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.write(ctx, id, cmd); err != nil {
		return nil, err
	}
	return b.readResponse(ctx, id, cmd, n)
}

func (b *LX16A) write(ctx context.Context, id pose.ServoID, cmd byte, params ...byte) error {
	if b.closed {
		return fmt.Errorf("servo %d: %w", id, ErrDisconnected)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if id <= 0 || id >= lxBroadcastID {
		return fmt.Errorf("servo id %d: %w", id, ErrRejected)
	}

	frame := encodeFrame(byte(id), cmd, params...)
	logger.WithFields(log.Fields{"id": id, "cmd": cmd}).Debugf("tx % x", frame)
	if _, err := b.port.Write(frame); err != nil {
		return fmt.Errorf("write servo %d: %w: %v", id, ErrDisconnected, err)
	}
	return nil
}

// readResponse reads frames until one from id answering cmd with n params
// arrives. Other frames, such as the echo of our own request on adapters
// that loop TX back to RX, are skipped.
func (b *LX16A) readResponse(ctx context.Context, id pose.ServoID, cmd byte, n int) ([]byte, error) {
	deadline := time.Now().Add(b.timeout)
	for {
		f, err := b.readFrame(ctx, deadline)
		if err != nil {
			return nil, fmt.Errorf("read servo %d: %w", id, err)
		}
		if pose.ServoID(f.id) == id && f.cmd == cmd && len(f.params) == n {
			logger.WithFields(log.Fields{"id": id, "cmd": cmd}).Debugf("rx % x", f.params)
			return f.params, nil
		}
	}
}

type frame struct {
	id     byte
	cmd    byte
	params []byte
}

func encodeFrame(id, cmd byte, params ...byte) []byte {
	f := make([]byte, 0, lxMinFrameSize+len(params))
	f = append(f, lxHeader, lxHeader, id, byte(len(params)+3), cmd)
	f = append(f, params...)
	return append(f, checksum(f[2:]))
}

// checksum is the inverted low byte of the sum of id, length, command and
// parameters.
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return ^sum
}

// decodeFrame extracts the first complete frame from buf. It returns the
// number of bytes consumed; ok is false when more data is needed.
func decodeFrame(buf []byte) (f frame, consumed int, ok bool, err error) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] != lxHeader || buf[i+1] != lxHeader {
			continue
		}
		rest := buf[i:]
		if len(rest) < 4 {
			return frame{}, i, false, nil
		}
		length := int(rest[3])
		if length < 3 || length > lxMaxLength {
			// Not a frame, resync after this header byte.
			return frame{}, i + 1, false, nil
		}
		total := length + 3
		if len(rest) < total {
			return frame{}, i, false, nil
		}
		body := rest[2 : total-1]
		if checksum(body) != rest[total-1] {
			// A stray header byte shifts the frame, so the real one may
			// start inside this span.
			return frame{}, i + 1, false, errors.New("bad checksum")
		}
		return frame{
			id:     rest[2],
			cmd:    rest[4],
			params: append([]byte(nil), rest[5:total-1]...),
		}, i + total, true, nil
	}
	// Keep a trailing header byte, it may start the next frame.
	if n := len(buf); n > 0 && buf[n-1] == lxHeader {
		return frame{}, n - 1, false, nil
	}
	return frame{}, len(buf), false, nil
}

func (b *LX16A) readFrame(ctx context.Context, deadline time.Time) (frame, error) {
	chunk := make([]byte, 64)
	for {
		f, consumed, ok, err := decodeFrame(b.buf)
		b.buf = b.buf[consumed:]
		if err != nil {
			logger.WithError(err).Debug("dropping frame")
			continue
		}
		if ok {
			return f, nil
		}
		if consumed > 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return frame{}, err
		}
		if time.Now().After(deadline) {
			return frame{}, ErrTimeout
		}

		n, err := b.port.Read(chunk)
		b.buf = append(b.buf, chunk[:n]...)
		switch {
		case errors.Is(err, io.EOF):
			if n == 0 {
				return frame{}, ErrTimeout
			}
		case err != nil:
			return frame{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
		case n == 0:
			// serial read timeout expired without data
			return frame{}, ErrTimeout
		}
	}
}
