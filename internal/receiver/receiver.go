// Package receiver implements the producer side of the ingestion
// pipeline: it owns the UDP socket, decodes datagram payloads line by
// line, and pushes typed messages onto the bounded queue.
//
// The receiver is the only component that touches the socket, and the
// queue is the only thing it shares with the writer. A full queue blocks
// the push; ingestion stalls rather than dropping data.
package receiver

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tickstore/internal/codec"
	"github.com/xtxerr/tickstore/internal/logging"
	"github.com/xtxerr/tickstore/internal/queue"
)

// maxDatagram is the largest UDP payload we read.
const maxDatagram = 65535

// Options configures the receiver.
type Options struct {
	// ReadBufferSize is the requested OS receive buffer in bytes.
	ReadBufferSize int

	// SocketTimeout is the per-read deadline. Timeouts are the normal
	// idle poll, not errors; they bound how stale the idle check gets.
	SocketTimeout time.Duration

	// IdleTimeout stops the receiver when no data arrived for this
	// long after the stream was first seen. Zero disables auto-stop.
	IdleTimeout time.Duration
}

// DefaultOptions returns default receiver options.
func DefaultOptions() Options {
	return Options{
		ReadBufferSize: 32 * 1024 * 1024,
		SocketTimeout:  2 * time.Second,
		IdleTimeout:    30 * time.Second,
	}
}

// Receiver reads market-data datagrams and produces queue messages.
type Receiver struct {
	opts  Options
	conn  *net.UDPConn
	queue *queue.Queue
	log   *slog.Logger

	running     atomic.Bool
	idleStopped atomic.Bool
	initialized bool
	lastData    atomic.Int64 // unix nanos of last accepted data line
	done        chan struct{}

	// Statistics
	packets    atomic.Int64
	ticks      atomic.Int64
	depths     atomic.Int64
	heartbeats atomic.Int64
	dropped    atomic.Int64
	received   atomic.Int64
}

// New creates a receiver bound to addr (host:port).
func New(addr string, q *queue.Queue, opts Options) (*Receiver, error) {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultOptions().ReadBufferSize
	}
	if opts.SocketTimeout <= 0 {
		opts.SocketTimeout = DefaultOptions().SocketTimeout
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	log := logging.Component("receiver")
	if err := conn.SetReadBuffer(opts.ReadBufferSize); err != nil {
		// The OS may cap the buffer below the request; bursts just get
		// riskier, so warn and carry on.
		log.Warn("set read buffer failed", "requested", opts.ReadBufferSize, "error", err)
	}

	r := &Receiver{
		opts:  opts,
		conn:  conn,
		queue: q,
		log:   log,
		done:  make(chan struct{}),
	}
	r.running.Store(true)
	return r, nil
}

// Addr returns the bound local address.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Stop requests the receive loop to end. Idempotent; the loop finishes
// its current packet first.
func (r *Receiver) Stop() {
	r.running.Store(false)
}

// Running reports whether the loop is still accepting data.
func (r *Receiver) Running() bool {
	return r.running.Load()
}

// IdleStopped reports whether the loop ended via idle auto-stop rather
// than an explicit Stop.
func (r *Receiver) IdleStopped() bool {
	return r.idleStopped.Load()
}

// Done is closed when the receive loop has exited and the socket is
// closed.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Run is the producer loop. It returns when stopped, idle-stopped, or on
// a fatal socket error. Per-line decode failures and transient socket
// errors are logged and absorbed.
func (r *Receiver) Run() {
	defer close(r.done)
	defer r.conn.Close()

	r.log.Info("receiver started",
		"addr", r.conn.LocalAddr().String(),
		"idle_timeout", r.opts.IdleTimeout)

	buf := make([]byte, maxDatagram)
	r.lastData.Store(time.Now().UnixNano())

	for r.running.Load() {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.opts.SocketTimeout)); err != nil {
			r.log.Error("set read deadline failed, stopping", "error", err)
			break
		}

		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if r.idleExpired() {
					r.log.Info("no data received, auto-stopping",
						"idle_timeout", r.opts.IdleTimeout)
					r.idleStopped.Store(true)
					r.running.Store(false)
					break
				}
				continue
			}
			if !r.running.Load() {
				break
			}
			r.log.Error("socket read failed", "error", err)
			continue
		}

		r.packets.Add(1)
		r.handlePacket(string(buf[:n]))
	}

	r.log.Info("receiver stopped", "received", r.received.Load())
}

// idleExpired reports whether the idle auto-stop threshold has passed.
// The clock only runs once the first data line has been seen.
func (r *Receiver) idleExpired() bool {
	if r.opts.IdleTimeout <= 0 || !r.initialized {
		return false
	}
	last := time.Unix(0, r.lastData.Load())
	return time.Since(last) > r.opts.IdleTimeout
}

// handlePacket splits a payload into lines and decodes each one.
func (r *Receiver) handlePacket(payload string) {
	for _, line := range strings.Split(strings.TrimSpace(payload), "\n") {
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		msg, class := codec.DecodeFields(parts)

		switch class {
		case codec.ClassData:
			// The writer pre-opens the first shard off this one-shot
			// Init, carrying the raw sender timestamp.
			if !r.initialized {
				if raw, ok := codec.RawTimestampField(parts); ok {
					r.queue.Push(codec.Message{Kind: codec.KindInit, InitRaw: raw})
					r.initialized = true
				}
			}

			r.queue.Push(msg)
			r.received.Add(1)
			r.lastData.Store(time.Now().UnixNano())

			if msg.Kind == codec.KindTick {
				r.ticks.Add(1)
			} else {
				r.depths.Add(1)
			}

		case codec.ClassHeartbeat:
			r.heartbeats.Add(1)

		case codec.ClassMalformed:
			r.dropped.Add(1)
			r.log.Debug("malformed line dropped", "line", line)

		case codec.ClassUnknown:
			r.dropped.Add(1)
		}
	}
}

// Stats holds receiver statistics.
type Stats struct {
	Packets    int64
	Ticks      int64
	Depths     int64
	Heartbeats int64
	Dropped    int64
	Received   int64
}

// Stats returns a snapshot of receiver statistics.
func (r *Receiver) Stats() Stats {
	return Stats{
		Packets:    r.packets.Load(),
		Ticks:      r.ticks.Load(),
		Depths:     r.depths.Load(),
		Heartbeats: r.heartbeats.Load(),
		Dropped:    r.dropped.Load(),
		Received:   r.received.Load(),
	}
}
