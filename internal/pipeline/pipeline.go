// Package pipeline wires the receiver, queue, writer, and shard manager
// together and owns the staged shutdown protocol.
//
// Exactly two long-lived workers run: the receiver (producer) and the
// writer (consumer). They share nothing but the bounded queue. The
// coordinator drives the stop sequence
//
//	Running → Stopping → Draining → Closing → Stopped
//
// with a bounded wait at every stage; an exhausted budget logs a warning
// and moves on rather than hanging. State never regresses and a second
// stop request is a no-op.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/tickstore/internal/config"
	"github.com/xtxerr/tickstore/internal/logging"
	"github.com/xtxerr/tickstore/internal/queue"
	"github.com/xtxerr/tickstore/internal/receiver"
	"github.com/xtxerr/tickstore/internal/shard"
	"github.com/xtxerr/tickstore/internal/writer"
)

// State is the coordinator state. States only advance.
type State int32

const (
	// StateRunning means both workers are live.
	StateRunning State = iota

	// StateStopping means the receiver has been signalled to stop.
	StateStopping

	// StateDraining means the writer is flushing the queue and buffer.
	StateDraining

	// StateClosing means shard handles are being closed.
	StateClosing

	// StateStopped means shutdown is complete.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDraining:
		return "draining"
	case StateClosing:
		return "closing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pipeline owns the ingestion components and their lifecycle.
type Pipeline struct {
	cfg *config.Config
	log *slog.Logger

	queue    *queue.Queue
	receiver *receiver.Receiver
	writer   *writer.Writer
	shards   *shard.Manager

	state   atomic.Int32
	group   errgroup.Group
	stopped chan struct{}
	statsCh chan struct{}
}

// New creates a pipeline from cfg. The UDP socket is bound here so an
// address conflict fails fast, before any worker starts.
func New(cfg *config.Config) (*Pipeline, error) {
	shards, err := shard.NewManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create shard manager: %w", err)
	}

	q := queue.New(cfg.Queue.Capacity)

	recv, err := receiver.New(cfg.Listen.Addr(), q, receiver.Options{
		ReadBufferSize: cfg.Receiver.ReadBufferSize,
		SocketTimeout:  cfg.Receiver.SocketTimeout,
		IdleTimeout:    cfg.Receiver.IdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create receiver: %w", err)
	}

	wr := writer.New(q, shards, writer.Options{
		BatchSize:     cfg.Batch.Size,
		FlushInterval: cfg.Batch.FlushInterval,
		PopTimeout:    cfg.Queue.PopTimeout,
	})

	return &Pipeline{
		cfg:      cfg,
		log:      logging.Component("pipeline"),
		queue:    q,
		receiver: recv,
		writer:   wr,
		shards:   shards,
		stopped:  make(chan struct{}),
		statsCh:  make(chan struct{}),
	}, nil
}

// State returns the current coordinator state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// advance moves from exactly the given state to the next one.
// Returns false if someone else already moved past it.
func (p *Pipeline) advance(from, to State) bool {
	return p.state.CompareAndSwap(int32(from), int32(to))
}

// Start launches the two workers and the status reporter.
func (p *Pipeline) Start() {
	p.log.Info("pipeline started",
		"listen", p.cfg.Listen.Addr(),
		"data_dir", p.cfg.DataDir,
		"queue_capacity", p.queue.Cap())

	p.group.Go(func() error {
		p.receiver.Run()
		return nil
	})
	p.group.Go(func() error {
		p.writer.Run()
		return nil
	})
	p.group.Go(func() error {
		p.statsWorker()
		return nil
	})

	// Idle auto-stop inside the receiver feeds the same stop path an
	// operator would take.
	go func() {
		<-p.receiver.Done()
		if p.receiver.IdleStopped() {
			p.log.Info("idle auto-stop detected")
			p.Stop()
		}
	}()
}

// Wait blocks until shutdown has completed.
func (p *Pipeline) Wait() {
	<-p.stopped
}

// Stop runs the graceful shutdown sequence. Safe to call from any
// goroutine; calls after the first are no-ops.
func (p *Pipeline) Stop() {
	if !p.advance(StateRunning, StateStopping) {
		return
	}

	p.log.Info("stopping", "state", p.State().String())

	// Stage 1: halt intake. The receiver finishes its current packet;
	// an overrun of the join budget is logged and tolerated.
	p.receiver.Stop()
	if !waitClosed(p.receiver.Done(), p.cfg.Shutdown.ReceiverJoin) {
		p.log.Warn("receiver did not stop in time, proceeding",
			"budget", p.cfg.Shutdown.ReceiverJoin)
	}

	// Stage 2: drain. The writer keeps flushing until queue and buffer
	// are both empty, with shrunken thresholds.
	p.advance(StateStopping, StateDraining)
	p.log.Info("draining", "queue", p.queue.Len(), "buffer", p.writer.BufferLen())
	p.writer.BeginDrain()
	p.pollDrain()

	if !waitClosed(p.writer.Done(), p.cfg.Shutdown.WriterJoin) {
		p.log.Warn("writer did not stop in time, buffered data may be lost",
			"budget", p.cfg.Shutdown.WriterJoin)
	}

	// Stage 3: close shards.
	p.advance(StateDraining, StateClosing)
	close(p.statsCh)
	p.shards.CloseAll()

	p.advance(StateClosing, StateStopped)
	p.group.Wait()

	rs := p.receiver.Stats()
	ws := p.writer.Stats()
	p.log.Info("pipeline stopped",
		"received", rs.Received,
		"total_written", ws.TotalWritten,
		"dropped_lines", rs.Dropped,
		"dropped_invalid", ws.DroppedInvalid,
		"commit_errors", ws.CommitErrors)

	close(p.stopped)
}

// pollDrain waits for the queue and accumulation buffer to empty, under
// the drain budget, logging progress whenever the numbers move. Budget
// exhaustion is non-fatal; the coordinator proceeds regardless.
func (p *Pipeline) pollDrain() {
	deadline := time.Now().Add(p.cfg.Shutdown.DrainBudget)
	lastQueue, lastBuffer := -1, -1

	for time.Now().Before(deadline) {
		qLen := p.queue.Len()
		bLen := p.writer.BufferLen()
		if qLen == 0 && bLen == 0 {
			return
		}

		if qLen != lastQueue || bLen != lastBuffer {
			p.log.Info("drain progress", "queue", qLen, "buffer", bLen)
			lastQueue, lastBuffer = qLen, bLen
		}

		time.Sleep(200 * time.Millisecond)
	}

	p.log.Warn("drain budget exhausted, proceeding",
		"budget", p.cfg.Shutdown.DrainBudget,
		"queue", p.queue.Len(), "buffer", p.writer.BufferLen())
}

// waitClosed waits for ch to close, up to timeout.
func waitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// statsWorker periodically logs queue depth and receive/write rates.
func (p *Pipeline) statsWorker() {
	interval := p.cfg.StatsInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastReceived, lastWritten int64
	lastTime := time.Now()

	for {
		select {
		case <-p.statsCh:
			return
		case now := <-ticker.C:
			rs := p.receiver.Stats()
			ws := p.writer.Stats()

			elapsed := now.Sub(lastTime).Seconds()
			var recvRate, writeRate float64
			if elapsed > 0 {
				recvRate = float64(rs.Received-lastReceived) / elapsed
				writeRate = float64(ws.TotalWritten-lastWritten) / elapsed
			}
			lastReceived, lastWritten = rs.Received, ws.TotalWritten
			lastTime = now

			p.log.Info("status",
				"queue", p.queue.Len(),
				"queue_cap", p.queue.Cap(),
				"received", rs.Received,
				"recv_rate", fmt.Sprintf("%.0f/s", recvRate),
				"written", ws.TotalWritten,
				"write_rate", fmt.Sprintf("%.0f/s", writeRate),
				"flush_p50_ms", fmt.Sprintf("%.1f", ws.FlushP50Ms),
				"flush_p99_ms", fmt.Sprintf("%.1f", ws.FlushP99Ms))
		}
	}
}

// Queue exposes the hand-off queue for tests and status surfaces.
func (p *Pipeline) Queue() *queue.Queue {
	return p.queue
}

// Receiver exposes the receiver.
func (p *Pipeline) Receiver() *receiver.Receiver {
	return p.receiver
}

// Writer exposes the writer.
func (p *Pipeline) Writer() *writer.Writer {
	return p.writer
}

// Shards exposes the shard manager.
func (p *Pipeline) Shards() *shard.Manager {
	return p.shards
}
