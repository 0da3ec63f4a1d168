// Package host implements the host loop: it owns the PTY, the emulator,
// the delta stream, and the synchronizer, accepting one negotiated
// transport per viewer.
package host

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/beachside/beach/internal/deltastream"
	"github.com/beachside/beach/internal/emulator"
	"github.com/beachside/beach/internal/gridcache"
	"github.com/beachside/beach/internal/logger"
	beachsync "github.com/beachside/beach/internal/sync"
	"github.com/beachside/beach/internal/transport"
	"github.com/beachside/beach/internal/wire"
)

// Config configures one hosted command and the grid/stream/synchronizer
// wrapped around it.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Cols    int
	Rows    int

	HistoryLimit  int
	DeltaCapacity int
	UseFullVT     bool // Full (VT-parser) emulator vs Simple
	SnapshotDotfiles bool

	Sync           beachsync.Config
	TickInterval   time.Duration
}

// DefaultConfig fills in the defaults a caller typically wants.
func DefaultConfig() Config {
	return Config{
		Cols:          80,
		Rows:          24,
		HistoryLimit:  10000,
		DeltaCapacity: 4096,
		Sync:          beachsync.DefaultConfig(),
		TickInterval:  50 * time.Millisecond,
	}
}

// Host drives a single hosted PTY session end to end: PTY lifecycle,
// emulator feed, delta stream, and viewer synchronization.
type Host struct {
	cfg Config

	cmd  *exec.Cmd
	ptmx *os.File

	emu    emulator.Emulator
	stream *deltastream.Stream
	syncer *beachsync.Synchronizer

	cfgSnapshot *ConfigSnapshot

	mu       sync.Mutex
	exitCode int
	done     chan struct{}
	doneOnce sync.Once
}

// New forks the PTY running cfg.Command and wires up the emulator, delta
// stream, and synchronizer. The caller must call Run to pump PTY output
// and Close to tear everything down.
func New(cfg Config) (*Host, error) {
	if cfg.Cols == 0 || cfg.Rows == 0 {
		def := DefaultConfig()
		if cfg.Cols == 0 {
			cfg.Cols = def.Cols
		}
		if cfg.Rows == 0 {
			cfg.Rows = def.Rows
		}
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.DeltaCapacity == 0 {
		cfg.DeltaCapacity = DefaultConfig().DeltaCapacity
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}

	grid := gridcache.NewTerminalGrid(cfg.Rows, cfg.Cols, cfg.HistoryLimit)
	var emu emulator.Emulator
	if cfg.UseFullVT {
		emu = emulator.NewFull(cfg.Rows, cfg.Cols, cfg.HistoryLimit)
	} else {
		emu = emulator.NewSimple(grid)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var snap *ConfigSnapshot
	if cfg.SnapshotDotfiles {
		snap = SnapshotConfig(cfg.Command)
	}

	size := &pty.Winsize{Cols: uint16(cfg.Cols), Rows: uint16(cfg.Rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		snap.Restore()
		return nil, fmt.Errorf("host: start pty: %w", err)
	}

	stream := deltastream.New(cfg.DeltaCapacity)
	syncer := beachsync.New(emu.Grid(), stream, cfg.Sync)

	h := &Host{
		cfg:         cfg,
		cmd:         cmd,
		ptmx:        ptmx,
		emu:         emu,
		stream:      stream,
		syncer:      syncer,
		cfgSnapshot: snap,
		done:        make(chan struct{}),
	}
	return h, nil
}

// Attach negotiates nothing itself; it registers an already-established
// transport as a new viewer subscription and spawns the reader goroutine
// that services Input/Resize/RequestBackfill frames arriving on it for
// the lifetime of the subscription.
func (h *Host) Attach(ctx context.Context, t transport.Transport) (*beachsync.Subscription, error) {
	sub, err := h.syncer.Subscribe(ctx, t)
	if err != nil {
		return sub, err
	}
	go h.serveViewerFrames(ctx, sub, t)
	return sub, nil
}

// serveViewerFrames decodes viewer->host frames off t until it errors or
// the subscription's context ends, dispatching Input writes, Resize
// requests, and backfill requests. A failure here is isolated to this
// subscription: it unsubscribes sub and returns without touching the PTY
// or any other viewer.
func (h *Host) serveViewerFrames(ctx context.Context, sub *beachsync.Subscription, t transport.Transport) {
	for {
		msg, err := t.Recv(ctx, 0)
		if err != nil {
			h.syncer.Unsubscribe(sub.ID)
			return
		}
		if msg.Kind != transport.Binary {
			continue
		}
		f, err := wire.Decode(msg.Data)
		if err != nil {
			logger.Log.Warn("host: discarding malformed viewer frame", "sub", sub.ID, "err", err)
			continue
		}
		switch f.Kind {
		case wire.KindInput:
			ack, err := h.HandleInput(f)
			if err != nil {
				logger.Log.Error("host: input write failed", "sub", sub.ID, "err", err)
				continue
			}
			if b, err := wire.Encode(ack); err == nil {
				t.SendBytes(ctx, b)
			}
		case wire.KindResize:
			if err := h.HandleResize(f); err != nil {
				logger.Log.Error("host: resize failed", "sub", sub.ID, "err", err)
			}
		case wire.KindRequestBackfill:
			h.RequestBackfill(f)
		}
	}
}

// Run pumps PTY output into the emulator until the PTY closes or ctx is
// done, and drives the synchronizer's per-subscription tick loop
// concurrently. It returns once the PTY read loop ends, cancelling the
// synchronizer loop's context on the way out without waiting for it.
func (h *Host) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go h.syncer.Run(runCtx, h.cfg.TickInterval)
	go h.waitExit()

	readErr := h.readPTY()

	select {
	case <-h.done:
	default:
		h.markDone(0)
	}

	if readErr != nil {
		logger.Log.Warn("host: pty read ended", "err", readErr)
	}
	return readErr
}

// readPTY feeds PTY bytes to the emulator in a loop, appending the
// resulting Updates to the delta stream and recording cursor moves with
// the synchronizer, until the PTY returns an error (normally EOF on
// process exit).
func (h *Host) readPTY() error {
	buf := make([]byte, 64*1024)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			updates, werr := h.emu.Write(buf[:n])
			if werr != nil {
				logger.Log.Error("host: emulator write failed", "err", werr)
			}
			if len(updates) > 0 {
				h.stream.Append(updates)
				for _, u := range updates {
					if u.Kind == gridcache.UpdateCursor {
						h.syncer.RecordCursor(u)
					}
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

func (h *Host) waitExit() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	h.markDone(code)
	h.ptmx.Close()
	h.cfgSnapshot.Restore()
}

func (h *Host) markDone(code int) {
	h.mu.Lock()
	h.exitCode = code
	h.mu.Unlock()
	h.doneOnce.Do(func() {
		close(h.done)
		h.syncer.BroadcastShutdown(context.Background())
	})
}

// ExitCode returns the hosted command's exit code once Done is closed.
func (h *Host) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Done is closed once the hosted process has exited.
func (h *Host) Done() <-chan struct{} { return h.done }

// HandleInput writes f's data verbatim to the PTY and returns the
// InputAck frame the caller should send back to the originating viewer.
func (h *Host) HandleInput(f wire.Frame) (wire.Frame, error) {
	if _, err := h.ptmx.Write(f.Data); err != nil {
		return wire.Frame{}, fmt.Errorf("host: write pty: %w", err)
	}
	return wire.Frame{Kind: wire.KindInputAck, Seq: f.Seq}, nil
}

// HandleResize applies a viewer-requested resize to both the PTY and the
// emulator, appending any Updates the resize itself produced (e.g. a
// cursor clamp or forced trim) to the delta stream.
func (h *Host) HandleResize(f wire.Frame) error {
	cols, rows := int(f.ResizeCols), int(f.ResizeRows)
	if err := pty.Setsize(h.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("host: resize pty: %w", err)
	}
	updates := h.emu.Resize(rows, cols)
	if len(updates) > 0 {
		h.stream.Append(updates)
	}
	return nil
}

// RequestBackfill forwards a viewer's RequestBackfill to the synchronizer.
func (h *Host) RequestBackfill(f wire.Frame) {
	h.syncer.RequestBackfill(f.Subscription, f.RequestID, f.StartRow, f.Count)
}

// Attention reports whether the hosted program has signaled for the
// operator's attention (e.g. a bell) since the last call.
func (h *Host) Attention() bool {
	return h.emu.Attention()
}

// Close terminates the hosted process if still running and releases the
// PTY.
func (h *Host) Close() error {
	if h.cmd.Process != nil {
		h.cmd.Process.Signal(syscall.SIGTERM)
	}
	return h.ptmx.Close()
}
