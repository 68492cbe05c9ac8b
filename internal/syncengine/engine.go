// Package syncengine reconciles the local store with the remote authority.
// A cycle pushes pending outbox entries, then pulls authoritative changes,
// in that order, so local writes are never clobbered by a pull that has not
// seen them yet. At most one cycle runs at a time.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/syncbox/internal/clock"
	"github.com/smallbiznis/syncbox/internal/connectivity"
	"github.com/smallbiznis/syncbox/internal/localstore"
	"github.com/smallbiznis/syncbox/internal/outbox"
	"github.com/smallbiznis/syncbox/internal/record"
)

// MaxRetryAttempts is the per-entry delivery budget. An entry that fails this
// many pushes is parked as failed and excluded from future batches.
const MaxRetryAttempts = 3

var (
	ErrOffline        = errors.New("sync_offline")
	ErrSyncInProgress = errors.New("sync_in_progress")
)

type Params struct {
	fx.In

	Store     *localstore.Store
	Queue     *outbox.Queue
	Transport Transport
	Monitor   connectivity.Monitor
	Clock     clock.Clock
	GenID     *snowflake.Node `optional:"true"`
	Log       *zap.Logger
	Metrics   *SyncMetrics `optional:"true"`
	Config    Config       `optional:"true"`
}

type Engine struct {
	store     *localstore.Store
	queue     *outbox.Queue
	transport Transport
	monitor   connectivity.Monitor
	clock     clock.Clock
	genID     *snowflake.Node
	metrics   *SyncMetrics
	log       *zap.Logger
	cfg       Config

	mu           sync.Mutex
	syncing      bool
	lastSyncAt   string
	pendingCount int64
	failedCount  int64
	lastCycleEnd time.Time
	subs         []chan Status

	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) *Engine {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     p.Store,
		queue:     p.Queue,
		transport: p.Transport,
		monitor:   p.Monitor,
		clock:     clk,
		genID:     p.GenID,
		metrics:   p.Metrics,
		log:       log.Named("sync.engine"),
		cfg:       p.Config.withDefaults(),
	}
}

// Start hydrates the status projection from disk and launches the loop.
func (e *Engine) Start(ctx context.Context) error {
	last, err := e.store.LastSyncAt(ctx)
	if err != nil {
		return err
	}
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.lastSyncAt = last
	e.pendingCount = pending
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(runCtx)
	return nil
}

// Stop halts the loop. An in-flight cycle is allowed to finish; its network
// calls are bounded by the transport timeout.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := e.clock.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	online := e.monitor.Subscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			e.trigger(ctx, "timer")
		case up := <-online:
			if !up {
				continue
			}
			if e.withinDebounce() {
				continue
			}
			e.trigger(ctx, "connectivity")
		}
	}
}

// trigger swallows cycle errors: they have already been logged and reported
// through the status notification, and an escaped error here would kill the
// loop.
func (e *Engine) trigger(ctx context.Context, reason string) {
	err := e.TriggerSync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrOffline), errors.Is(err, ErrSyncInProgress):
		e.log.Debug("sync skipped", zap.String("reason", reason), zap.Error(err))
	}
}

func (e *Engine) withinDebounce() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.lastCycleEnd.IsZero() && e.clock.Now().Sub(e.lastCycleEnd) < e.cfg.Debounce
}

// TriggerSync runs one push+pull cycle. It is a no-op returning
// ErrSyncInProgress while a cycle is in flight, and ErrOffline while the
// monitor reports the remote unreachable.
func (e *Engine) TriggerSync(ctx context.Context) error {
	if !e.monitor.Online() {
		return ErrOffline
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return ErrSyncInProgress
	}
	e.syncing = true
	status := e.snapshotLocked("")
	e.mu.Unlock()
	e.notify(status)

	err := e.runCycle(ctx)

	e.mu.Lock()
	e.syncing = false
	e.lastCycleEnd = e.clock.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	status = e.snapshotLocked(msg)
	e.mu.Unlock()
	e.notify(status)
	return err
}

func (e *Engine) runCycle(ctx context.Context) error {
	log := e.log
	if e.genID != nil {
		log = log.With(zap.String("cycle_id", e.genID.Generate().String()))
	}
	started := e.clock.Now()

	err := e.push(ctx, log)
	if err == nil {
		err = e.pull(ctx, log)
	}
	e.refreshCounts(ctx)

	duration := e.clock.Now().Sub(started)
	if err != nil {
		e.metrics.ObserveCycle("error", duration)
		log.Warn("sync cycle failed", zap.Error(err))
		return err
	}
	e.metrics.ObserveCycle("success", duration)
	log.Info("sync cycle complete", zap.Duration("duration", duration))
	return nil
}

// push snapshots the pending entries and delivers them in one batch. Per-item
// rejections count against that entry's retry budget without failing the
// cycle; a transport-level failure counts against every entry in the batch.
func (e *Engine) push(ctx context.Context, log *zap.Logger) error {
	entries, err := e.queue.Pending(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	e.metrics.ObservePushBatch(len(entries))

	mutations := make([]Mutation, 0, len(entries))
	for _, entry := range entries {
		mutations = append(mutations, Mutation{
			ID:             strconv.FormatUint(uint64(entry.ID), 10),
			Type:           entry.Type,
			IdempotencyKey: entry.IdempotencyKey,
			Data:           json.RawMessage(entry.Data),
		})
	}

	results, err := e.transport.PushBatch(ctx, mutations)
	if err != nil {
		for _, entry := range entries {
			e.registerFailure(ctx, entry, err.Error())
		}
		return err
	}

	byID := make(map[string]MutationResult, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}

	// The remote may acknowledge out of order; each entry's result is applied
	// independently of batch position.
	for _, entry := range entries {
		res, ok := byID[strconv.FormatUint(uint64(entry.ID), 10)]
		if !ok {
			e.registerFailure(ctx, entry, "missing_result")
			continue
		}
		if res.Status != ResultSuccess {
			msg := res.Error
			if msg == "" {
				msg = "rejected"
			}
			e.registerFailure(ctx, entry, msg)
			continue
		}
		if err := e.queue.MarkSynced(ctx, entry.ID); err != nil {
			return err
		}
		if err := e.applyServerData(ctx, entry.Type, res.Data); err != nil {
			log.Error("applying authoritative data failed",
				zap.Uint("entry_id", entry.ID),
				zap.String("type", entry.Type),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (e *Engine) registerFailure(ctx context.Context, entry outbox.Entry, msg string) {
	if err := e.queue.IncrementRetry(ctx, entry.ID, msg); err != nil {
		e.log.Error("incrementing retry failed", zap.Uint("entry_id", entry.ID), zap.Error(err))
		return
	}
	if entry.RetryCount+1 < MaxRetryAttempts {
		return
	}
	if err := e.queue.MarkFailed(ctx, entry.ID, msg); err != nil {
		e.log.Error("parking entry failed", zap.Uint("entry_id", entry.ID), zap.Error(err))
		return
	}
	e.metrics.IncEntriesFailed()
	e.log.Warn("outbox entry parked after retry budget",
		zap.Uint("entry_id", entry.ID),
		zap.String("type", entry.Type),
		zap.String("error", msg),
	)
}

// applyServerData overwrites the local copy with the authority's echo of a
// successful mutation, including server-assigned values such as invoice
// numbers.
func (e *Engine) applyServerData(ctx context.Context, mutationType string, data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	switch mutationType {
	case outbox.MutationCreateInvoice, outbox.MutationUpdateInvoice:
		var payload outbox.InvoicePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		return e.store.SaveInvoiceWithItems(ctx, &payload.Invoice, payload.LineItems)
	case outbox.MutationDeleteInvoice:
		var payload outbox.DeletePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		return e.store.DeleteInvoiceAndItems(ctx, payload.ID)
	case outbox.MutationCreateCustomer, outbox.MutationUpdateCustomer:
		return applyRecord[record.Customer](ctx, e.store, data)
	case outbox.MutationDeleteCustomer:
		return applyDelete[record.Customer](ctx, e.store, data)
	case outbox.MutationCreateProduct, outbox.MutationUpdateProduct:
		return applyRecord[record.Product](ctx, e.store, data)
	case outbox.MutationDeleteProduct:
		return applyDelete[record.Product](ctx, e.store, data)
	case outbox.MutationUpdateBusinessSettings:
		return applyRecord[record.BusinessSettings](ctx, e.store, data)
	case outbox.MutationSaveTemplateConfig:
		return applyRecord[record.TemplateConfig](ctx, e.store, data)
	default:
		e.log.Warn("unknown mutation type in server response", zap.String("type", mutationType))
		return nil
	}
}

func applyRecord[T any](ctx context.Context, store *localstore.Store, data json.RawMessage) error {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	return localstore.Put(ctx, store, &rec)
}

func applyDelete[T any](ctx context.Context, store *localstore.Store, data json.RawMessage) error {
	var payload outbox.DeletePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	return localstore.Delete[T](ctx, store, payload.ID)
}

// pull requests a delta when a watermark exists, otherwise the full snapshot,
// and applies the result atomically. On any failure the watermark is left
// unchanged so the next cycle re-requests the same window; delta pulls are
// safe to repeat.
func (e *Engine) pull(ctx context.Context, log *zap.Logger) error {
	last, err := e.store.LastSyncAt(ctx)
	if err != nil {
		return err
	}

	payload, err := e.transport.Pull(ctx, last)
	if err != nil {
		return err
	}

	if err := e.applyPull(ctx, payload); err != nil {
		return err
	}

	e.mu.Lock()
	e.lastSyncAt = payload.SyncedAt
	e.mu.Unlock()

	log.Debug("pull applied",
		zap.Bool("full", last == ""),
		zap.Int("invoices", len(payload.Invoices)),
		zap.Int("customers", len(payload.Customers)),
		zap.Int("products", len(payload.Products)),
		zap.String("synced_at", payload.SyncedAt),
	)
	return nil
}

// applyPull replaces local copies wholesale, last writer wins at record
// granularity. A local edit that raced the delta window can be overwritten
// here; its outbox entry is still pending, so the next push re-delivers it
// and a later pull converges. Comparing updatedAt before applying would keep
// the edit visible but leaves replicas divergent under clock skew, so the
// replace stays unconditional.
func (e *Engine) applyPull(ctx context.Context, payload *PullPayload) error {
	return e.store.Transaction(ctx, func(tx *localstore.Store) error {
		if err := localstore.BulkPut(ctx, tx, payload.Invoices); err != nil {
			return err
		}
		items := make(map[string][]record.InvoiceLineItem)
		for _, item := range payload.LineItems {
			items[item.InvoiceID] = append(items[item.InvoiceID], item)
		}
		// Pulled invoices carry their full line-item set; replace per invoice.
		for _, inv := range payload.Invoices {
			if err := tx.ReplaceLineItems(ctx, inv.ID, items[inv.ID]); err != nil {
				return err
			}
		}
		if err := localstore.BulkPut(ctx, tx, payload.Customers); err != nil {
			return err
		}
		if err := localstore.BulkPut(ctx, tx, payload.Products); err != nil {
			return err
		}
		if err := localstore.BulkPut(ctx, tx, payload.BusinessSettings); err != nil {
			return err
		}
		if err := localstore.BulkPut(ctx, tx, payload.TemplateConfigs); err != nil {
			return err
		}
		return tx.SetLastSyncAt(ctx, payload.SyncedAt)
	})
}

func (e *Engine) refreshCounts(ctx context.Context) {
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		e.log.Error("counting pending entries failed", zap.Error(err))
		return
	}
	failed, err := e.queue.Entries(ctx, outbox.StateFailed)
	if err != nil {
		e.log.Error("listing failed entries failed", zap.Error(err))
		return
	}

	e.mu.Lock()
	e.pendingCount = pending
	e.failedCount = int64(len(failed))
	e.mu.Unlock()

	e.metrics.SetBacklog(string(outbox.StatePending), pending)
	e.metrics.SetBacklog(string(outbox.StateFailed), int64(len(failed)))
}
