// Package usbcan implements the CAN adapter contract over a USB CAN
// bridge that speaks a bulk-transfer protocol, grounded on
// nasa-jpl-golaborate's usbtmc package (github.com/google/gousb
// enumeration, control transfers, bTag-style framing) and on the
// teacher's kvaser backend for the shape of a vendor adapter's
// open/health surface. Frames are 18 bytes on the wire: a 4-byte
// big-endian CAN ID, a 1-byte echo-id field, a 1-byte DLC, an 8-byte
// payload, and a 4-byte big-endian device timestamp in free-running
// microsecond ticks off the bridge's own clock. decodeFrame transcribes
// that field directly into HWTimestampUs; it is device-relative, not
// aligned to the host wall clock the way socketcan's is. The field has
// no meaningful value on the host->device direction, so encodeFrame
// leaves it zero.
package usbcan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"

	"github.com/armsix/armcan"
	"github.com/armsix/armcan/pkg/can"
)

func init() {
	can.RegisterInterface("usbcan", New)
}

const (
	vendorID  gousb.ID = 0x16d0
	productID gousb.ID = 0x0c4e

	wireFrameSize = 18
	rxBatchMax    = 16 // up to N frames per bulk transfer, spec §4.1

	// echoSentinel marks a frame as a non-echo (normal) frame; any other
	// value in the echo-id byte identifies the originating TX slot and
	// must be filtered from the RX path (spec §4.1, §3.6).
	echoSentinel = 0xFF

	modeNormal   byte = 0x00
	modeLoopback byte = 0x01

	reqSetMode    uint8 = 0x01
	reqSetBitrate uint8 = 0x02

	// probeFrameID is a reserved, never-routed CAN ID used only to
	// exercise the OUT endpoint during the Open-time concurrency probe;
	// real firmware drops it on the bus side, so it has no side effect
	// beyond the USB bulk transfer itself.
	probeFrameID uint32 = 0x000
)

// Bus is the USB CAN-bridge adapter.
type Bus struct {
	mu       sync.Mutex
	ctx       *gousb.Context
	dev       *gousb.Device
	intf      *gousb.Interface
	ifaceDone func()
	epIn      *gousb.InEndpoint
	epOut     *gousb.OutEndpoint
	realtime  bool
	logger   *slog.Logger
	pending  []byte
	concurrent bool

	health health
}

type health struct {
	busOffEvents   atomic.Uint64
	errorPassive   atomic.Bool
	endpointStalls atomic.Uint64
	rxCount        atomic.Uint64
	rxFPS          atomic.Uint64 // bits of a float64, see Health()
	rxFPSBaseline  atomic.Uint64
	lastFPSSample  time.Time
}

// New constructs an unopened usbcan Bus.
func New() can.Bus {
	return &Bus{logger: slog.Default().With("service", "[CAN]", "backend", "usbcan")}
}

// Open enumerates devices by serial, opens the first match, configures
// normal mode and the requested bitrate via control transfers, and
// claims the bulk IN/OUT endpoints (spec §4.1 "USB bridge backend").
func (b *Bus) Open(_ context.Context, serial string, bitrate int, realtime bool) error {
	b.ctx = gousb.NewContext()

	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productID
	})
	if err != nil {
		b.ctx.Close()
		return fmt.Errorf("armcan/usbcan: enumerate: %w", err)
	}
	var chosen *gousb.Device
	for _, d := range devs {
		devSerial, serr := d.SerialNumber()
		if serr == nil && chosen == nil && (serial == "" || devSerial == serial) {
			chosen = d
			continue
		}
		d.Close()
	}
	if chosen == nil {
		b.ctx.Close()
		return &armcan.DeviceError{
			Interface: serial,
			Reason:    "no matching USB CAN bridge found",
			Hint:      "lsusb | grep -i can",
		}
	}
	b.dev = chosen

	if err := b.configure(bitrate); err != nil {
		b.dev.Close()
		b.ctx.Close()
		return err
	}

	intf, done, err := b.dev.DefaultInterface()
	if err != nil {
		b.dev.Close()
		b.ctx.Close()
		return fmt.Errorf("armcan/usbcan: claim interface: %w", err)
	}
	b.intf = intf
	b.ifaceDone = done

	epIn, err := intf.InEndpoint(1)
	if err != nil {
		return fmt.Errorf("armcan/usbcan: in endpoint: %w", err)
	}
	epOut, err := intf.OutEndpoint(1)
	if err != nil {
		return fmt.Errorf("armcan/usbcan: out endpoint: %w", err)
	}
	b.epIn = epIn
	b.epOut = epOut
	b.realtime = realtime
	b.health.lastFPSSample = time.Now()
	b.concurrent = b.probeConcurrentEndpoints()
	b.logger.Debug("endpoint concurrency probe", "concurrent", b.concurrent)
	return nil
}

// probeConcurrentEndpoints issues one OUT write and one IN read at the
// same time and reports whether both transfers were actually accepted
// concurrently rather than one stalling on the other. Some USB CAN
// bridges multiplex both directions through firmware that services
// only one pending bulk transfer at a time; on those, Split's RX/TX
// halves must not be driven from separate goroutines (spec §4.1, §5.1,
// §9.1).
func (b *Bus) probeConcurrentEndpoints() bool {
	const probeTimeout = 25 * time.Millisecond
	var wg sync.WaitGroup
	var writeErr, readErr error
	start := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		probe := encodeFrame(armcan.Frame{ID: probeFrameID}, echoSentinel)
		_, writeErr = b.epOut.WriteContext(ctx, probe)
	}()
	go func() {
		defer wg.Done()
		<-start
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		buf := make([]byte, wireFrameSize)
		_, readErr = b.epIn.ReadContext(ctx, buf) // any bytes read here are discarded, before Receive starts buffering
	}()
	close(start)
	wg.Wait()

	return !transferBlocked(writeErr) && !transferBlocked(readErr)
}

// transferBlocked reports whether err indicates the transfer could not
// even be queued alongside the other one, as opposed to an expected
// timeout: the probe's IN read has nothing real to receive, so timing
// out is the success case for that half.
func transferBlocked(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.DeadlineExceeded)
}

// ConcurrentSplit implements can.ConcurrentCapable, reporting the
// result of the probe run at Open (spec §4.1, §5.1, §9.1).
func (b *Bus) ConcurrentSplit() bool { return b.concurrent }

func (b *Bus) configure(bitrate int) error {
	const vendorOutDevice = uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
	mode := []byte{modeNormal}
	if _, err := b.dev.Control(vendorOutDevice, reqSetMode, 0, 0, mode); err != nil {
		return fmt.Errorf("armcan/usbcan: set mode: %w", err)
	}
	rate := make([]byte, 4)
	binary.BigEndian.PutUint32(rate, uint32(bitrate))
	if _, err := b.dev.Control(vendorOutDevice, reqSetBitrate, 0, 0, rate); err != nil {
		return fmt.Errorf("armcan/usbcan: set bitrate: %w", err)
	}
	return nil
}

// Send transmits one frame as an 18-byte bulk OUT transfer.
func (b *Bus) Send(frame armcan.Frame) error {
	if b.epOut == nil {
		return armcan.ErrNotStarted
	}
	buf := encodeFrame(frame, echoSentinel)
	timeout := 50 * time.Millisecond
	if b.realtime {
		timeout = 5 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := b.epOut.WriteContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return armcan.ErrTimeout
		}
		b.health.endpointStalls.Add(1)
		return fmt.Errorf("%w: %v", armcan.ErrIo, err)
	}
	return nil
}

// Receive reads one bulk IN transfer (which may contain up to
// rxBatchMax frames), buffers it, and pops frames one at a time,
// filtering TX-echo frames per spec §3.6.
func (b *Bus) Receive(timeout time.Duration) (armcan.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.epIn == nil {
		return armcan.Frame{}, armcan.ErrNotStarted
	}
	for {
		frame, ok, err := b.popBuffered()
		if err != nil {
			return armcan.Frame{}, err
		}
		if ok {
			return frame, nil
		}
		if err := b.fillBuffer(timeout); err != nil {
			return armcan.Frame{}, err
		}
	}
}

func (b *Bus) fillBuffer(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	buf := make([]byte, wireFrameSize*rxBatchMax)
	n, err := b.epIn.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return armcan.ErrTimeout
		}
		b.health.endpointStalls.Add(1)
		return fmt.Errorf("%w: %v", armcan.ErrIo, err)
	}
	b.pending = append(b.pending, buf[:n]...)
	return nil
}

func (b *Bus) popBuffered() (armcan.Frame, bool, error) {
	for len(b.pending) >= wireFrameSize {
		raw := b.pending[:wireFrameSize]
		b.pending = b.pending[wireFrameSize:]
		frame, echoID, decErr := decodeFrame(raw)
		if decErr != nil {
			return armcan.Frame{}, false, decErr
		}
		if echoID != echoSentinel {
			continue // TX-echo frame, drop (spec §3.6)
		}
		b.health.rxCount.Add(1)
		b.updateFPS()
		return frame, true, nil
	}
	return armcan.Frame{}, false, nil
}

func (b *Bus) updateFPS() {
	now := time.Now()
	elapsed := now.Sub(b.health.lastFPSSample).Seconds()
	if elapsed < 1.0 {
		return
	}
	instant := float64(b.health.rxCount.Swap(0)) / elapsed
	b.health.lastFPSSample = now
	setFloat(&b.health.rxFPS, instant)
	const ewmaAlpha = 0.2
	prevBaseline := getFloat(&b.health.rxFPSBaseline)
	setFloat(&b.health.rxFPSBaseline, prevBaseline+ewmaAlpha*(instant-prevBaseline))
}

func setFloat(a *atomic.Uint64, v float64) { a.Store(math.Float64bits(v)) }
func getFloat(a *atomic.Uint64) float64    { return math.Float64frombits(a.Load()) }

// Health implements can.HealthScorer (spec §4.1 "health-scoring sub-interface").
// EndpointStalls, RxFPS and RxFPSBaseline are maintained by this
// backend; nothing in it updates BusOffEvents or ErrorPassive, so they
// always read 0 and false.
func (b *Bus) Health() can.HealthScore {
	return can.HealthScore{
		BusOffEvents:   b.health.busOffEvents.Load(),
		ErrorPassive:   b.health.errorPassive.Load(),
		EndpointStalls: b.health.endpointStalls.Load(),
		RxFPS:          getFloat(&b.health.rxFPS),
		RxFPSBaseline:  getFloat(&b.health.rxFPSBaseline),
	}
}

// Split hands back RX/TX halves sharing the refcounted device handle.
// gousb serializes transfers per-endpoint internally, so the handle
// can be shared directly between the two halves without duplicating
// any OS resource; whether it is actually safe to drive both halves
// from separate goroutines is reported separately by ConcurrentSplit,
// populated by the probe run at Open. Callers must consult it and fall
// back to a single-threaded pipeline when it is false (spec §4.1,
// §5.1, §9.1).
func (b *Bus) Split() (can.Rx, can.Tx, error) {
	return &rxHalf{b}, &txHalf{b}, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.intf != nil {
		b.intf.Close()
	}
	if b.ifaceDone != nil {
		b.ifaceDone()
	}
	if b.dev != nil {
		b.dev.Close()
	}
	if b.ctx != nil {
		b.ctx.Close()
	}
	return nil
}

type rxHalf struct{ b *Bus }

func (r *rxHalf) Receive(timeout time.Duration) (armcan.Frame, error) { return r.b.Receive(timeout) }
func (r *rxHalf) Close() error                                        { return nil }

type txHalf struct{ b *Bus }

func (t *txHalf) Send(frame armcan.Frame) error { return t.b.Send(frame) }
func (t *txHalf) Close() error                  { return nil }

// encodeFrame lays out a frame per the wire format documented at the
// top of this file. The trailing device-timestamp field has no
// meaningful value on the host->device direction, so it is left zero.
func encodeFrame(frame armcan.Frame, echoID byte) []byte {
	buf := make([]byte, wireFrameSize)
	binary.BigEndian.PutUint32(buf[0:4], frame.ID)
	buf[4] = echoID
	buf[5] = frame.Length
	copy(buf[6:14], frame.Data[:])
	return buf
}

func decodeFrame(raw []byte) (armcan.Frame, byte, error) {
	if len(raw) != wireFrameSize {
		return armcan.Frame{}, 0, armcan.ErrInvalidLength
	}
	id := binary.BigEndian.Uint32(raw[0:4])
	echoID := raw[4]
	length := raw[5]
	if length > 8 {
		return armcan.Frame{}, 0, armcan.ErrInvalidLength
	}
	frame := armcan.Frame{
		ID:            id,
		Length:        length,
		HWTimestampUs: int64(binary.BigEndian.Uint32(raw[14:18])),
	}
	copy(frame.Data[:], raw[6:14])
	return frame, echoID, nil
}
