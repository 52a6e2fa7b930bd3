// Package audit provides an async, buffered writer for audit events and
// verification events — the best-effort writes spec.md requires never to
// block a request's critical path.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/store"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer batches audit and verification events and flushes them to the
// durable store from a single background goroutine.
type Writer struct {
	store  *store.EventStore
	logger *slog.Logger

	auditEntries  chan store.AuditEvent
	verifyEntries chan store.VerificationEvent
	wg            sync.WaitGroup
}

// NewWriter creates a Writer. Call Start to begin processing entries.
func NewWriter(es *store.EventStore, logger *slog.Logger) *Writer {
	return &Writer{
		store:         es,
		logger:        logger,
		auditEntries:  make(chan store.AuditEvent, bufferSize),
		verifyEntries: make(chan store.VerificationEvent, bufferSize),
	}
}

// Start launches the background flush loop and returns immediately. The loop
// flushes its pending batches and exits once ctx is cancelled or Close is
// called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the flush loop to drain.
func (w *Writer) Close() {
	close(w.auditEntries)
	close(w.verifyEntries)
	w.wg.Wait()
}

// LogAudit enqueues an audit event. Never blocks; drops and logs a warning
// if the buffer is full.
func (w *Writer) LogAudit(e store.AuditEvent) {
	select {
	case w.auditEntries <- e:
	default:
		w.logger.Warn("audit buffer full, dropping entry", "event_type", e.EventType)
	}
}

// LogVerification enqueues a verification event. Never blocks.
func (w *Writer) LogVerification(e store.VerificationEvent) {
	select {
	case w.verifyEntries <- e:
	default:
		w.logger.Warn("verification event buffer full, dropping entry", "outcome", e.Outcome)
	}
}

// LogFromRequest is a convenience wrapper that fills in the client address
// from the request and enqueues an audit event.
func (w *Writer) LogFromRequest(r *http.Request, eventType string, actorKind store.ActorKind, actorID string, metadata any) {
	var raw json.RawMessage
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			raw = b
		}
	}

	w.LogAudit(store.AuditEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		ActorKind:  actorKind,
		ActorID:    actorID,
		ClientAddr: clientIP(r),
		Metadata:   raw,
	})
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var auditBatch []store.AuditEvent
	var verifyBatch []store.VerificationEvent

	flush := func() {
		w.flushAudit(auditBatch)
		w.flushVerification(verifyBatch)
		auditBatch = auditBatch[:0]
		verifyBatch = verifyBatch[:0]
	}

	auditDone, verifyDone := false, false
	for {
		select {
		case e, ok := <-w.auditEntries:
			if !ok {
				auditDone = true
				if verifyDone {
					flush()
					return
				}
				continue
			}
			auditBatch = append(auditBatch, e)
			if len(auditBatch) >= flushBatch {
				w.flushAudit(auditBatch)
				auditBatch = auditBatch[:0]
			}
		case e, ok := <-w.verifyEntries:
			if !ok {
				verifyDone = true
				if auditDone {
					flush()
					return
				}
				continue
			}
			verifyBatch = append(verifyBatch, e)
			if len(verifyBatch) >= flushBatch {
				w.flushVerification(verifyBatch)
				verifyBatch = verifyBatch[:0]
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (w *Writer) flushAudit(batch []store.AuditEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range batch {
		if err := w.store.InsertAudit(ctx, e); err != nil {
			w.logger.Error("writing audit event", "error", err, "event_type", e.EventType)
		}
	}
}

func (w *Writer) flushVerification(batch []store.VerificationEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range batch {
		if err := w.store.InsertVerification(ctx, e); err != nil {
			w.logger.Error("writing verification event", "error", err, "outcome", e.Outcome)
		}
	}
}

// clientIP extracts the client address, preferring X-Forwarded-For / X-Real-IP
// over RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
