// Package funnyprint drives a single print job over an already
// enabled Bluetooth adapter: locating the peripheral, running the
// handshake, and streaming packed raster lines with the printer's
// lost/pause/finished notification protocol.
package funnyprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/kilobyte-labs/funnyprint/ble"
	"github.com/kilobyte-labs/funnyprint/wire"
)

// Defaults for the session protocol's timing, overridable via Option
// for testing and for printers that need more slack than the
// reference device.
const (
	DefaultScanWindow    = 4 * time.Second
	DefaultHandshakeWait = 5 * time.Second
	DefaultHandshakePoll = 500 * time.Millisecond
	DefaultNotifyPoll    = 5 * time.Millisecond
	DefaultLineDelay     = 20 * time.Millisecond
	DefaultIdlePoll      = 500 * time.Millisecond
	DefaultMaxIdleTicks  = 50 // idle * DefaultIdlePoll ~= 25s

	notifyChannelBacklog = 32
)

var (
	// ErrRejected is returned when the printer rejects handshake-B.
	ErrRejected = errors.New("funnyprint: printer rejected handshake")
	// ErrNotFound is returned when the peripheral isn't seen within
	// the scan window.
	ErrNotFound = errors.New("funnyprint: peripheral not found")
)

type options struct {
	scanWindow    time.Duration
	handshakeWait time.Duration
	handshakePoll time.Duration
	notifyPoll    time.Duration
	lineDelay     time.Duration
	idlePoll      time.Duration
	maxIdleTicks  int
}

func defaultOptions() options {
	return options{
		scanWindow:    DefaultScanWindow,
		handshakeWait: DefaultHandshakeWait,
		handshakePoll: DefaultHandshakePoll,
		notifyPoll:    DefaultNotifyPoll,
		lineDelay:     DefaultLineDelay,
		idlePoll:      DefaultIdlePoll,
		maxIdleTicks:  DefaultMaxIdleTicks,
	}
}

// Option configures non-default session timing, mainly for tests.
type Option func(*options)

func WithScanWindow(d time.Duration) Option {
	return func(o *options) { o.scanWindow = d }
}

func WithHandshakeWait(d time.Duration) Option {
	return func(o *options) { o.handshakeWait = d }
}

func WithLineDelay(d time.Duration) Option {
	return func(o *options) { o.lineDelay = d }
}

func WithMaxIdleTicks(n int) Option {
	return func(o *options) { o.maxIdleTicks = n }
}

// session holds the per-job state threaded through the protocol
// steps. Not safe for concurrent use; a daemon worker runs exactly
// one at a time (see the job queue's single-consumer discipline).
type session struct {
	opt   options
	log   *slog.Logger
	state printerState

	dev    bluetooth.Device
	chars  ble.Chars
	notify chan wire.NotifyEvent
}

// Print runs the full session protocol against address: locate,
// connect, handshake, stream lines at density, then disconnect.
// Density must be in 0..=7 and lines must be non-empty.
func Print(ctx context.Context, adapter *bluetooth.Adapter, address string, density uint8, lines []wire.PackedLine, opt ...Option) error {
	if density > 7 {
		return fmt.Errorf("funnyprint: density must be 0..7, got %d", density)
	}
	if len(lines) == 0 {
		return errors.New("funnyprint: lines must not be empty")
	}

	o := defaultOptions()
	for _, fn := range opt {
		fn(&o)
	}

	s := &session{
		opt:    o,
		log:    slog.With("address", address),
		state:  stateIdle,
		notify: make(chan wire.NotifyEvent, notifyChannelBacklog),
	}
	return s.run(ctx, adapter, address, density, lines)
}

func (s *session) run(ctx context.Context, adapter *bluetooth.Adapter, address string, density uint8, lines []wire.PackedLine) (err error) {
	defer func() {
		if err != nil {
			s.transition(stateFailed)
		}
	}()

	// Step 1: locate peripheral within the scan window.
	sr, err := ble.FindByAddress(ctx, adapter, address, s.opt.scanWindow)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, address)
	}

	// Step 2: connect, discover, subscribe.
	s.transition(stateConnecting)
	dev, chars, err := ble.Connect(adapter, sr)
	if err != nil {
		return err
	}
	s.dev = dev
	s.chars = chars
	defer func() {
		if dErr := dev.Disconnect(); dErr != nil {
			s.log.Warn("disconnect failed", "error", dErr)
		}
	}()

	if err := ble.Subscribe(chars.Notify, s.onNotify); err != nil {
		return err
	}

	// Step 3: hardware-info, handshake-A, wait for ack.
	s.transition(stateHandshaking)
	if err := ble.Write(chars.Write, wire.HardwareInfo()); err != nil {
		return err
	}
	if err := ble.Write(chars.Write, wire.HandshakeA()); err != nil {
		return err
	}
	if _, ok := s.waitFor(ctx, wire.NotifyHandshakeA, s.opt.handshakeWait, s.opt.handshakePoll); !ok {
		return fmt.Errorf("funnyprint: timed out waiting for handshake-A ack")
	}

	// Step 4: handshake-B built from the address; must be accepted.
	hb, err := wire.HandshakeB(address)
	if err != nil {
		return fmt.Errorf("funnyprint: building handshake-B: %w", err)
	}
	if err := ble.Write(chars.Write, hb); err != nil {
		return err
	}
	evt, ok := s.waitFor(ctx, wire.NotifyHandshakeB, s.opt.handshakeWait, s.opt.handshakePoll)
	if !ok {
		return fmt.Errorf("funnyprint: timed out waiting for handshake-B ack")
	}
	if !evt.HandshakeBOK {
		return ErrRejected
	}

	// Step 5: density, then begin-of-transmission event.
	s.transition(statePrinting)
	densityFrame, err := wire.Density(density)
	if err != nil {
		return err
	}
	if err := ble.Write(chars.Write, densityFrame); err != nil {
		return err
	}
	numLines := uint16(len(lines))
	if err := ble.Write(chars.Write, wire.Event(numLines, false)); err != nil {
		return err
	}

	// Step 6: streaming loop.
	if err := s.stream(ctx, lines); err != nil {
		return err
	}

	// Step 7: end-of-transmission event.
	s.transition(stateCompleted)
	if err := ble.Write(chars.Write, wire.Event(numLines, true)); err != nil {
		return err
	}
	return nil
}

// stream implements step 6: cursor-driven line sending, honoring
// Lost (rewind), Paused (ignore), Finished (exit), Status (log), and
// a bounded idle wait after the last line in case Finished never
// arrives.
func (s *session) stream(ctx context.Context, lines []wire.PackedLine) error {
	s.transition(stateWaitingFinished)
	cur := 0
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-s.notify:
			switch evt.Kind {
			case wire.NotifyLost:
				cur = max(0, int(evt.LostLineNo)-1)
				idle = 0
				s.log.Warn("printer requested retransmit", "line", evt.LostLineNo, "cursor", cur)
			case wire.NotifyPaused:
				// ignored; a Lost event, if any, drives the rewind.
			case wire.NotifyFinished:
				return nil
			case wire.NotifyStatus:
				s.logStatus(evt.Status)
			case wire.NotifyHandshakeA, wire.NotifyHandshakeB, wire.NotifyOther:
				// not expected mid-stream; ignored.
			}
			continue
		case <-time.After(s.opt.notifyPoll):
		}

		if cur < len(lines) {
			if err := ble.Write(s.chars.Write, wire.Line(uint16(cur), lines[cur])); err != nil {
				return err
			}
			time.Sleep(s.opt.lineDelay)
			cur++
			continue
		}

		idle++
		time.Sleep(s.opt.idlePoll)
		if idle > s.opt.maxIdleTicks {
			s.log.Warn("gave up waiting for Finished notification", "idle_ticks", idle)
			return nil
		}
	}
}

func (s *session) logStatus(st wire.Status) {
	if st.NoPaper {
		s.log.Error("printer reports no paper", "battery", st.Battery)
	}
	if st.Overheat {
		s.log.Warn("printer reports overheat", "battery", st.Battery)
	}
}

// onNotify is the BLE notification callback, wired via
// ble.Subscribe. It parses the raw payload and forwards it, dropping
// the event (with a log) if the session isn't currently reading —
// the channel is sized generously so this should only happen under
// genuine notification floods.
func (s *session) onNotify(value []byte) {
	evt := wire.ParseNotify(value)
	select {
	case s.notify <- evt:
	default:
		s.log.Warn("notification dropped, channel full", "kind", evt.Kind)
	}
}

// waitFor blocks up to timeout, polling in poll-sized slices, for a
// notification of the given kind, returning it if seen.
func (s *session) waitFor(ctx context.Context, kind wire.NotifyKind, timeout, poll time.Duration) (wire.NotifyEvent, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return wire.NotifyEvent{}, false
		case evt := <-s.notify:
			if evt.Kind == kind {
				return evt, true
			}
		case <-time.After(poll):
		}
	}
	return wire.NotifyEvent{}, false
}
