package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/barakah-labs/minaret/pkg/store"
)

// emitterQueueSize bounds the async request-log buffer. Entries are dropped
// with a warning when the writer cannot keep up; the request log is
// observability, not ledger.
const emitterQueueSize = 4096

type logEvent struct {
	entry   *store.RequestLogEntry
	isError bool
}

// emitter drains request-log events to the store off the request path. IP
// stats are bumped alongside each entry; both are eventually consistent.
type emitter struct {
	st     *store.Store
	logger *slog.Logger
	events chan logEvent
	done   chan struct{}
}

func newEmitter(st *store.Store, logger *slog.Logger) *emitter {
	e := &emitter{
		st:     st,
		logger: logger,
		events: make(chan logEvent, emitterQueueSize),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// emit enqueues an event without blocking the request.
func (e *emitter) emit(entry *store.RequestLogEntry, isError bool) {
	select {
	case e.events <- logEvent{entry: entry, isError: isError}:
	default:
		e.logger.Warn("request log queue full, dropping entry",
			"endpoint", entry.Endpoint, "ip", entry.IP)
	}
}

func (e *emitter) run() {
	defer close(e.done)
	ctx := context.Background()
	batch := make([]logEvent, 0, 64)
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				e.flush(ctx, batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= 64 {
				e.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-flush.C:
			if len(batch) > 0 {
				e.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (e *emitter) flush(ctx context.Context, batch []logEvent) {
	if len(batch) == 0 {
		return
	}
	entries := make([]*store.RequestLogEntry, len(batch))
	for i, ev := range batch {
		entries[i] = ev.entry
	}
	for _, cerr := range e.st.RequestLog.InsertBatch(ctx, entries) {
		e.logger.Warn("request log batch chunk failed", "error", cerr.Err, "size", cerr.Size)
	}
	for _, ev := range batch {
		if err := e.st.IPStats.Bump(ctx, ev.entry.IP, ev.isError); err != nil {
			e.logger.Warn("ip stat bump failed", "ip", ev.entry.IP, "error", err)
		}
	}
}

// close drains outstanding events before returning.
func (e *emitter) close() {
	close(e.events)
	<-e.done
}
