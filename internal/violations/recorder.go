package violations

import (
	"context"
	"sync"
	"time"

	"github.com/ratewarden/ratewarden/internal/metrics"
	"github.com/ratewarden/ratewarden/pkg/logger"
)

// Sink persists batches of violations.
type Sink interface {
	WriteViolations(ctx context.Context, batch []Violation) error
}

// Config holds configuration for the Recorder.
type Config struct {
	FlushInterval time.Duration // How often to flush buffered violations
	BatchSize     int           // Flush as soon as this many are buffered
	ChannelBuffer int           // Size of the intake channel
	WriteTimeout  time.Duration // Deadline for one Sink call
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
		ChannelBuffer: 10000,
		WriteTimeout:  5 * time.Second,
	}
}

// Recorder buffers violations and writes them to a Sink in batches.
// Report never blocks: when the intake channel is full the violation is
// dropped and counted.
type Recorder struct {
	sink Sink
	cfg  Config
	log  *logger.Logger

	intake  chan Violation
	pending []Violation
	mu      sync.Mutex

	// stateMu orders Report's intake send before Stop closes stopChan,
	// so the final drain sees every accepted violation.
	stateMu  sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewRecorder creates a Recorder and starts its flush loop.
func NewRecorder(cfg Config, sink Sink, log *logger.Logger) *Recorder {
	def := DefaultConfig()
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = def.ChannelBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	r := &Recorder{
		sink:     sink,
		cfg:      cfg,
		log:      log,
		intake:   make(chan Violation, cfg.ChannelBuffer),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go r.run()
	return r
}

// Report queues v for the next batch.
func (r *Recorder) Report(_ context.Context, v Violation) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()

	if r.stopped {
		metrics.RecordViolationsDropped(1)
		return
	}

	select {
	case r.intake <- v:
	default:
		metrics.RecordViolationsDropped(1)
	}
}

// Stop flushes everything queued and stops the loop.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.stateMu.Lock()
		r.stopped = true
		r.stateMu.Unlock()

		close(r.stopChan)
		<-r.doneChan
	})
}

// Pending returns how many violations are buffered but not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Recorder) run() {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case v := <-r.intake:
			if r.add(v) >= r.cfg.BatchSize {
				r.flush()
			}

		case <-ticker.C:
			r.flush()

		case <-r.stopChan:
			r.drain()
			r.flush()
			return
		}
	}
}

func (r *Recorder) add(v Violation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, v)
	return len(r.pending)
}

func (r *Recorder) drain() {
	for {
		select {
		case v := <-r.intake:
			r.add(v)
		default:
			return
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.sink.WriteViolations(ctx, batch); err != nil {
		metrics.RecordViolationsDropped(len(batch))
		r.log.Error("failed to write violations", "error", err, "count", len(batch))
		return
	}

	metrics.RecordViolationsRecorded(len(batch))
	r.log.Debug("wrote violations", "count", len(batch))
}
