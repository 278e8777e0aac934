package lua

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/btserial/internal/groutine"
)

// MaxBufferSize sets an upper limit on the buffer size to guard against accidental misconfiguration.
const MaxBufferSize uint32 = 1024 * 1024

// CollectorMetrics are lock-free counters of an OutputCollector.
type CollectorMetrics struct {
	RecordsProcessed   int64
	RecordsOverwritten int64
	ErrorsOccurred     int64
}

// OutputCollector moves records from an engine output channel into an
// overlapped ring buffer, so a consumer can drain them at its own pace.
type OutputCollector struct {
	source  <-chan OutputRecord
	buffer  mpmc.RichOverlappedRingBuffer[OutputRecord]
	cancel  context.CancelFunc
	done    <-chan struct{}
	running atomic.Bool

	processed   atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// NewOutputCollector creates a collector over source with room for bufferSize records.
func NewOutputCollector(source <-chan OutputRecord, bufferSize uint32) (*OutputCollector, error) {
	if source == nil {
		return nil, fmt.Errorf("output channel cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}

	return &OutputCollector{
		source: source,
		buffer: mpmc.NewOverlappedRingBuffer[OutputRecord](bufferSize),
	}, nil
}

// Start launches the collecting goroutine.
func (c *OutputCollector) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("collector is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = groutine.Start(ctx, "lua-output-collector", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				c.drainPending()
				return
			case rec, ok := <-c.source:
				if !ok {
					return
				}
				c.store(rec)
			}
		}
	})
	return nil
}

// drainPending moves records already queued in the source without waiting for more.
func (c *OutputCollector) drainPending() {
	for {
		select {
		case rec, ok := <-c.source:
			if !ok {
				return
			}
			c.store(rec)
		default:
			return
		}
	}
}

func (c *OutputCollector) store(rec OutputRecord) {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		c.errors.Add(1)
		return
	}
	c.overwritten.Add(int64(overwrites))
	c.processed.Add(1)
}

// Stop ends collection after moving records still queued in the source.
// Buffered records stay available.
func (c *OutputCollector) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	<-c.done
}

// Drain removes and returns every buffered record, oldest first.
func (c *OutputCollector) Drain() []OutputRecord {
	var records []OutputRecord
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			c.errors.Add(1)
			break
		}
		records = append(records, rec)
	}
	return records
}

// DrainText returns the buffered records concatenated, ignoring metadata.
func (c *OutputCollector) DrainText() string {
	var sb strings.Builder
	for _, rec := range c.Drain() {
		sb.WriteString(rec.Content)
	}
	return sb.String()
}

// Metrics returns a snapshot of the collector counters.
func (c *OutputCollector) Metrics() CollectorMetrics {
	return CollectorMetrics{
		RecordsProcessed:   c.processed.Load(),
		RecordsOverwritten: c.overwritten.Load(),
		ErrorsOccurred:     c.errors.Load(),
	}
}
