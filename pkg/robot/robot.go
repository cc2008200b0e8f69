// Package robot implements the typed connection state machine on top
// of pkg/pipeline and pkg/state: Disconnected, Standby, Active[Mode]
// and ReplayMode are compile-time distinct Go types, grounded on the
// teacher's BaseNode/state byte pattern in node.go but reworked so
// illegal transitions are uncallable rather than merely guarded by a
// runtime state check (spec §4.7).
package robot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/armsix/armcan"
	"github.com/armsix/armcan/pkg/can"
	"github.com/armsix/armcan/pkg/command"
	"github.com/armsix/armcan/pkg/pipeline"
	"github.com/armsix/armcan/pkg/protocol"
	"github.com/armsix/armcan/pkg/state"
)

// DefaultFIFOCapacity is the reliable command FIFO's default depth.
const DefaultFIFOCapacity = 64

// DefaultJoinTimeout is how long Close waits for the RX/TX goroutines
// to exit before giving up and detaching (spec §4.7 "thread-join
// shutdown", scenario S5 "2 s").
const DefaultJoinTimeout = 2 * time.Second

// Mode is the constraint satisfied by the marker types that
// parameterize Active, so Active[T] cannot be instantiated with an
// arbitrary caller type (spec §4.7 "Mode is a marker type").
type Mode interface {
	mode() string
}

// MitMode marks an Active handle in MIT impedance control.
type MitMode struct{}

func (MitMode) mode() string { return "mit" }

// PositionMode marks an Active handle in joint-position control.
type PositionMode struct{}

func (PositionMode) mode() string { return "position" }

// handle is the shared connection core every state type wraps. Its
// fields are never copied; every state type holds a *handle, so moving
// between state types never clones the adapter ownership (spec
// invariant 8 "no reference leak across state transitions").
type handle struct {
	bus     can.Bus
	store   *state.Store
	queries *command.QueryTable
	mailbox *command.Mailbox
	fifo    *command.FIFO
	rxLoop  *pipeline.RxLoop
	txLoop  *pipeline.TxLoop
	logger  *slog.Logger

	joinTimeout time.Duration

	cancel  context.CancelFunc
	rxDone  chan struct{}
	txDone  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Config selects the adapter backend and bus parameters for Connect.
type Config struct {
	Interface   string // registered pkg/can backend name, e.g. "socketcan", "usbcan", "virtual"
	Device      string // interface name or serial, backend-dependent
	BitrateBps  int
	Realtime    bool // request short TX timeouts / RX priority where supported
	FIFODepth   int  // 0 uses DefaultFIFOCapacity
	JoinTimeout time.Duration
	Logger      *slog.Logger

	// ColdConfig, when non-nil, is installed into the state store
	// before the RX/TX goroutines start, so a loaded profile
	// (pkg/config.LoadProfile) is in effect from the first feedback
	// frame rather than racing a later Apply call (spec §4.3 "cold
	// configuration").
	ColdConfig *state.ColdConfig
}

// EnableConfig parameterizes the enable-debounce poll and the
// interpolation mode selected alongside the control mode (spec §4.7).
type EnableConfig struct {
	DebounceCount int              // K consecutive affirmative reads, default 3
	PollInterval  time.Duration    // default 2ms
	Timeout       time.Duration    // default 5s
	MoveMode      protocol.MoveMode // default MoveModeJoint
}

func (c EnableConfig) withDefaults() EnableConfig {
	if c.DebounceCount <= 0 {
		c.DebounceCount = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Disconnected is the initial state: no adapter open, no I/O threads
// running (spec §4.7).
type Disconnected struct {
	cfg Config
}

// New constructs a Disconnected handle for cfg. Connect must be called
// before any command or feedback operation is possible.
func New(cfg Config) Disconnected {
	return Disconnected{cfg: cfg}
}

// Connect opens the configured adapter, starts the RX/TX goroutines,
// and returns a Standby handle (spec §4.7 "Disconnected → Standby via
// connect").
func (d Disconnected) Connect(ctx context.Context) (Standby, error) {
	logger := d.cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "[ROBOT]")

	bus, err := can.New(d.cfg.Interface)
	if err != nil {
		return Standby{}, fmt.Errorf("connect: %w", err)
	}
	if err := bus.Open(ctx, d.cfg.Device, d.cfg.BitrateBps, d.cfg.Realtime); err != nil {
		return Standby{}, &armcan.DeviceError{
			Interface: d.cfg.Device,
			Reason:    err.Error(),
			Hint:      fmt.Sprintf("check that %q is present and the caller has permission to open it", d.cfg.Device),
		}
	}
	rx, tx, err := bus.Split()
	if err != nil {
		bus.Close()
		return Standby{}, fmt.Errorf("connect: split: %w", err)
	}

	depth := d.cfg.FIFODepth
	if depth <= 0 {
		depth = DefaultFIFOCapacity
	}
	joinTimeout := d.cfg.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}

	store := state.New()
	if d.cfg.ColdConfig != nil {
		store.TryUpdateColdConfig(func(c *state.ColdConfig) { *c = *d.cfg.ColdConfig })
	}
	queries := command.NewQueryTable()
	mailbox := command.NewMailbox()
	fifo := command.NewFIFO(depth)

	h := &handle{
		bus:         bus,
		store:       store,
		queries:     queries,
		mailbox:     mailbox,
		fifo:        fifo,
		rxLoop:      pipeline.NewRxLoop(rx, store, queries, logger),
		txLoop:      pipeline.NewTxLoop(tx, mailbox, fifo, logger),
		logger:      logger,
		joinTimeout: joinTimeout,
		rxDone:      make(chan struct{}),
		txDone:      make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	concurrent := true
	if cc, ok := bus.(can.ConcurrentCapable); ok {
		concurrent = cc.ConcurrentSplit()
	}

	if concurrent {
		go func() {
			defer close(h.rxDone)
			if d.cfg.Realtime {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			if err := h.rxLoop.Run(runCtx); err != nil {
				h.logger.Debug("rx loop exited", "err", err)
			}
		}()
		go func() {
			defer close(h.txDone)
			if d.cfg.Realtime {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			if err := h.txLoop.Run(runCtx); err != nil {
				h.logger.Debug("tx loop exited", "err", err)
			}
		}()
	} else {
		logger.Info("adapter reports no concurrent endpoint access, using single-threaded co-scheduled pipeline")
		coLoop := pipeline.NewCoScheduledLoop(h.rxLoop, h.txLoop)
		go func() {
			defer close(h.rxDone)
			defer close(h.txDone)
			if d.cfg.Realtime {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			if err := coLoop.Run(runCtx); err != nil {
				h.logger.Debug("co-scheduled loop exited", "err", err)
			}
		}()
	}

	return Standby{h: h}, nil
}

// Standby is connected with I/O running and motors disabled: feedback
// is readable, only enable and configuration commands are legal (spec
// §4.7).
type Standby struct {
	h *handle
}

// Observer returns a read-only handle on the state store.
func (s Standby) Observer() Observer { return newObserver(s.h.store) }

// SendReset issues a reset command over the reliable FIFO.
func (s Standby) SendReset(scope protocol.ResetScope) error {
	data := protocol.ResetFrame{Scope: scope}.Encode()
	return s.h.fifo.Send(command.Frame{ID: armcan.IDReset, Data: data})
}

// QueryConfig sends a configuration-read command over the reliable
// FIFO and awaits its matching reply on replyID, registered with the
// one-shot query table the RX thread fulfills (spec §4.6 "query/ack
// channel"). cmd.Extended is forced to true when its ID falls in the
// configuration family, since that family is always carried under
// extended CAN IDs (spec §3.2) regardless of what the caller set.
func (s Standby) QueryConfig(cmd command.Frame, replyID uint32, timeout time.Duration) ([8]byte, error) {
	if armcan.IsConfigID(cmd.ID) {
		cmd.Extended = true
	}
	if err := s.h.fifo.Send(cmd); err != nil {
		return [8]byte{}, err
	}
	return s.h.queries.Await(replyID, timeout)
}

// WriteConfig writes one configuration record (joint limits, motion
// ceilings, collision level, gripper teach threshold) over the
// reliable FIFO under an extended CAN ID (spec §3.2, §3.3 "cold
// configuration").
func (s Standby) WriteConfig(id uint32, data [8]byte) error {
	return s.h.fifo.Send(command.Frame{ID: id, Data: data, Extended: armcan.IsConfigID(id)})
}

// EnableMitMode issues the enable command, debounces on the feedback
// stream, selects MIT control mode, and returns an Active[MitMode]
// handle (spec §4.7 "enable_<M>_mode").
func (s Standby) EnableMitMode(ctx context.Context, cfg EnableConfig) (Active[MitMode], error) {
	if err := enableAndSelect(ctx, s.h, protocol.ControlModeMit, cfg); err != nil {
		return Active[MitMode]{}, err
	}
	return Active[MitMode]{h: s.h}, nil
}

// EnablePositionMode issues the enable command, debounces, selects
// position control mode, and returns an Active[PositionMode] handle.
func (s Standby) EnablePositionMode(ctx context.Context, cfg EnableConfig) (Active[PositionMode], error) {
	if err := enableAndSelect(ctx, s.h, protocol.ControlModePosition, cfg); err != nil {
		return Active[PositionMode]{}, err
	}
	return Active[PositionMode]{h: s.h}, nil
}

// EnterReplayMode suppresses periodic command emission so only
// explicitly injected frames transmit (spec §4.7 "ReplayMode
// (optional)").
func (s Standby) EnterReplayMode() ReplayMode {
	return ReplayMode{h: s.h}
}

// Close tears down the connection from Standby. No disable command is
// sent since motors are already disabled in this state.
func (s Standby) Close() error { return s.h.close(false) }

// Active is the compile-time-distinct "motors enabled" state,
// parameterized by which command family is legal. Transition methods
// back to Standby, teardown, and the joint-target and gripper sends
// legal in every Mode are methods; the MIT setpoint send is a free
// function taking a concrete Active[MitMode] parameter (SendMitCommand)
// so a caller holding Active[PositionMode] has no way to reach it — Go
// generics share one method set per type parameter, so specialization
// is expressed as distinct function signatures instead (spec §9
// "no method EnableMitMode on Active[PositionMode]").
type Active[M Mode] struct {
	h *handle
}

// Observer returns a read-only handle on the state store.
func (a Active[M]) Observer() Observer { return newObserver(a.h.store) }

// SendJointTargets writes a full 6-joint position setpoint to the
// realtime mailbox (spec §4.7 "setpoint write goes to the realtime
// mailbox, not the FIFO"). Legal from either mode per spec §4.7 ("MIT
// mode: ... joint position ... commands legal").
func (a Active[M]) SendJointTargets(joints [6]float32) {
	for _, f := range protocol.SplitJointTargets(joints) {
		a.h.mailbox.Write(command.Frame{ID: f.ID, Data: f.Data})
	}
}

// SendGripperCommand issues a gripper setpoint over the reliable FIFO.
func (a Active[M]) SendGripperCommand(targetTravelMm, maxTorqueNm float32) error {
	data := protocol.GripperCommandFrame{TargetTravelMm: targetTravelMm, MaxTorqueNm: maxTorqueNm}.Encode()
	return a.h.fifo.Send(command.Frame{ID: armcan.IDGripperCommand, Data: data})
}

// Disable issues the disable command over the reliable FIFO and
// returns the handle to Standby (spec §4.7 "Active<M> → Standby via
// disable").
func (a Active[M]) Disable() (Standby, error) {
	data := protocol.EnableDisableFrame{Enable: false}.Encode()
	if err := a.h.fifo.Send(command.Frame{ID: armcan.IDEnableDisable, Data: data}); err != nil {
		return Standby{}, err
	}
	return Standby{h: a.h}, nil
}

// Close tears down the connection from Active, best-effort issuing a
// disable command first (spec §4.7 "any state on drop ... best-effort
// issuing a disable command").
func (a Active[M]) Close() error { return a.h.close(true) }

// SendMitCommand writes one joint's MIT impedance setpoint to the
// realtime mailbox. The parameter type Active[MitMode] is concrete, so
// this function does not exist for Active[PositionMode] callers.
func SendMitCommand(a Active[MitMode], joint int, torqueNm, stiffness, damping float32) error {
	if !armcan.JointIndexValid(joint) {
		return fmt.Errorf("mit command: joint %d: %w", joint, armcan.ErrInvalidJointIndex)
	}
	id, data := protocol.MitCommandFrame{Joint: joint, TorqueNm: torqueNm, Stiffness: stiffness, Damping: damping}.Encode()
	a.h.mailbox.Write(command.Frame{ID: id, Data: data})
	return nil
}

// ReplayMode suppresses periodic command emission: only frames
// explicitly injected via InjectFrame reach the TX thread (spec §4.7
// "ReplayMode (optional)").
type ReplayMode struct {
	h *handle
}

// InjectFrame places an arbitrary frame on the reliable FIFO.
func (r ReplayMode) InjectFrame(f command.Frame) error { return r.h.fifo.Send(f) }

// Observer returns a read-only handle on the state store.
func (r ReplayMode) Observer() Observer { return newObserver(r.h.store) }

// Exit returns to Standby without sending a disable command (replay
// mode never enabled motors).
func (r ReplayMode) Exit() Standby { return Standby{h: r.h} }

// Close tears down the connection.
func (r ReplayMode) Close() error { return r.h.close(false) }

// close signals the RX/TX goroutines to stop, optionally issuing a
// best-effort disable first, then joins both within the configured
// bound. Exceeding the bound does not block indefinitely: the
// goroutines are left to be reaped by process exit (spec §4.7
// "thread-join shutdown", invariant 9).
func (h *handle) close(disableFirst bool) error {
	h.closeOnce.Do(func() {
		if disableFirst {
			data := protocol.EnableDisableFrame{Enable: false}.Encode()
			_ = h.fifo.Send(command.Frame{ID: armcan.IDEnableDisable, Data: data})
		}
		h.fifo.Close()
		h.cancel()

		deadline := time.After(h.joinTimeout)
		for i := 0; i < 2; i++ {
			select {
			case <-h.rxDone:
				h.rxDone = nil
			case <-h.txDone:
				h.txDone = nil
			case <-deadline:
				h.logger.Warn("join timeout exceeded, detaching threads")
				h.closeErr = armcan.ErrTimeout
				h.bus.Close()
				return
			}
		}
		h.closeErr = h.bus.Close()
	})
	return h.closeErr
}

// enableAndSelect issues the enable command, debounces the feedback
// stream for cfg.DebounceCount consecutive enabled reads via a
// backoff.Ticker poll cadence, then issues the mode-select command
// (spec §4.7).
func enableAndSelect(ctx context.Context, h *handle, controlMode protocol.ControlMode, cfg EnableConfig) error {
	cfg = cfg.withDefaults()

	enableData := protocol.EnableDisableFrame{Enable: true}.Encode()
	if err := h.fifo.Send(command.Frame{ID: armcan.IDEnableDisable, Data: enableData}); err != nil {
		return fmt.Errorf("enable: %w", err)
	}

	if err := debounceEnabled(ctx, h.store, cfg); err != nil {
		return fmt.Errorf("enable: %w", err)
	}

	selectData := protocol.ModeSelectFrame{ControlMode: controlMode, MoveMode: cfg.MoveMode}.Encode()
	if err := h.fifo.Send(command.Frame{ID: armcan.IDModeSelect, Data: selectData}); err != nil {
		return fmt.Errorf("mode select: %w", err)
	}
	return nil
}
