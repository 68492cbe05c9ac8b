package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smallbiznis/syncbox/internal/clock"
	"github.com/smallbiznis/syncbox/internal/connectivity"
	"github.com/smallbiznis/syncbox/internal/localstore"
	"github.com/smallbiznis/syncbox/internal/outbox"
	"github.com/smallbiznis/syncbox/internal/record"
)

// fakeRemote is a programmable sync authority.
type fakeRemote struct {
	srv *httptest.Server

	mu          sync.Mutex
	order       []string
	pushBatches [][]Mutation
	deltaSince  []string
	results     func(m Mutation) MutationResult
	pull        PullPayload
	pullStatus  int

	blockPush   chan struct{}
	pushStarted chan struct{}
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	r := &fakeRemote{
		results: func(m Mutation) MutationResult {
			return MutationResult{ID: m.ID, Status: ResultSuccess}
		},
		pull:        PullPayload{SyncedAt: "2026-03-14T10:00:00Z"},
		pushStarted: make(chan struct{}, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync/batch", func(w http.ResponseWriter, req *http.Request) {
		r.pushStarted <- struct{}{}
		r.mu.Lock()
		block := r.blockPush
		r.mu.Unlock()
		if block != nil {
			<-block
		}

		var push PushRequest
		if err := json.NewDecoder(req.Body).Decode(&push); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.order = append(r.order, "push")
		r.pushBatches = append(r.pushBatches, push.Mutations)
		resp := PushResponse{}
		for _, m := range push.Mutations {
			resp.Data = append(resp.Data, r.results(m))
		}
		r.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	})
	pullHandler := func(kind string) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			r.mu.Lock()
			r.order = append(r.order, kind)
			if kind == "delta" {
				r.deltaSince = append(r.deltaSince, req.URL.Query().Get("lastSyncAt"))
			}
			status := r.pullStatus
			payload := r.pull
			r.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
				return
			}
			json.NewEncoder(w).Encode(PullResponse{Data: payload})
		}
	}
	mux.HandleFunc("/sync/delta", pullHandler("delta"))
	mux.HandleFunc("/sync/full", pullHandler("full"))

	r.srv = httptest.NewServer(mux)
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRemote) snapshotOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *fakeRemote) batches() [][]Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Mutation(nil), r.pushBatches...)
}

func (r *fakeRemote) setResults(fn func(m Mutation) MutationResult) {
	r.mu.Lock()
	r.results = fn
	r.mu.Unlock()
}

func (r *fakeRemote) setPull(p PullPayload) {
	r.mu.Lock()
	r.pull = p
	r.mu.Unlock()
}

func (r *fakeRemote) setPullStatus(status int) {
	r.mu.Lock()
	r.pullStatus = status
	r.mu.Unlock()
}

type testHarness struct {
	engine  *Engine
	store   *localstore.Store
	queue   *outbox.Queue
	monitor *connectivity.Manual
	clock   *clock.Fake
}

func newTestEngine(t *testing.T, baseURL string, online bool) *testHarness {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := localstore.New(db, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	fake := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	queue, err := outbox.New(db, fake, zap.NewNop())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	monitor := connectivity.NewManual(online)
	engine := New(Params{
		Store:     store,
		Queue:     queue,
		Transport: NewHTTPTransport(baseURL, 5*time.Second, zap.NewNop()),
		Monitor:   monitor,
		Clock:     fake,
		Log:       zap.NewNop(),
		Config:    Config{Interval: 30 * time.Second, Debounce: 5 * time.Second},
	})
	return &testHarness{engine: engine, store: store, queue: queue, monitor: monitor, clock: fake}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func enqueueInvoice(t *testing.T, h *testHarness, items int) (payload outbox.InvoicePayload, key string) {
	t.Helper()
	ctx := context.Background()
	inv := record.Invoice{
		ID:         "inv-1",
		BusinessID: "biz-1",
		CustomerID: "cust-1",
		Status:     "sent",
		Date:       time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Currency:   "AUD",
		Total:      240,
		CreatedAt:  time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	lineItems := make([]record.InvoiceLineItem, 0, items)
	for i := 0; i < items; i++ {
		lineItems = append(lineItems, record.InvoiceLineItem{
			ID:          fmt.Sprintf("li-%d", i),
			InvoiceID:   "inv-1",
			Description: "work",
			Quantity:    1,
			UnitPrice:   120,
			Amount:      120,
			Position:    i,
		})
	}
	// Optimistic local write, then the queue entry.
	if err := h.store.SaveInvoiceWithItems(ctx, &inv, lineItems); err != nil {
		t.Fatalf("local save: %v", err)
	}
	payload = outbox.InvoicePayload{Invoice: inv, LineItems: lineItems}
	key, err := h.queue.Enqueue(ctx, outbox.MutationCreateInvoice, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return payload, key
}

func TestOfflineCreateThenSyncScenario(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, false)
	ctx := context.Background()

	payload, key := enqueueInvoice(t, h, 2)

	count, err := h.queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending entry, got %d", count)
	}

	if err := h.engine.TriggerSync(ctx); err != ErrOffline {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if len(remote.batches()) != 0 {
		t.Fatalf("push attempted while offline")
	}

	// The server accepts the mutation and assigns the invoice number.
	remote.setResults(func(m Mutation) MutationResult {
		authoritative := payload
		authoritative.Invoice.InvoiceNumber = "INV-0042"
		data, _ := json.Marshal(authoritative)
		return MutationResult{ID: m.ID, Status: ResultSuccess, Data: data}
	})
	remote.setPull(PullPayload{SyncedAt: "2026-03-14T10:00:00Z"})

	h.monitor.SetOnline(true)
	if err := h.engine.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	batches := remote.batches()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected one push batch with one mutation, got %v", batches)
	}
	if batches[0][0].IdempotencyKey != key {
		t.Fatalf("idempotency key not transmitted")
	}

	inv, err := localstore.Get[record.Invoice](ctx, h.store, "inv-1")
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if inv.InvoiceNumber != "INV-0042" {
		t.Fatalf("server-assigned invoice number not applied: %q", inv.InvoiceNumber)
	}

	last, err := h.store.LastSyncAt(ctx)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if last != "2026-03-14T10:00:00Z" {
		t.Fatalf("watermark not updated: %q", last)
	}

	status := h.engine.Status()
	if status.PendingCount != 0 || status.Syncing {
		t.Fatalf("unexpected status after cycle: %+v", status)
	}
}

func TestSecondTriggerWhileSyncingIsNoOp(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, true)
	ctx := context.Background()

	enqueueInvoice(t, h, 1)

	release := make(chan struct{})
	remote.mu.Lock()
	remote.blockPush = release
	remote.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.engine.TriggerSync(ctx) }()
	<-remote.pushStarted

	if err := h.engine.TriggerSync(ctx); err != ErrSyncInProgress {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	order := remote.snapshotOrder()
	pushes, pulls := 0, 0
	for _, step := range order {
		if step == "push" {
			pushes++
		} else {
			pulls++
		}
	}
	if pushes != 1 || pulls != 1 {
		t.Fatalf("expected exactly one push and one pull, got %v", order)
	}
}

func TestPushPrecedesPull(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, true)

	enqueueInvoice(t, h, 1)
	if err := h.engine.TriggerSync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	order := remote.snapshotOrder()
	if len(order) != 2 || order[0] != "push" || order[1] != "full" {
		t.Fatalf("expected push before pull, got %v", order)
	}
}

func TestRetryCeilingParksEntry(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, true)
	ctx := context.Background()

	_, key := enqueueInvoice(t, h, 1)
	remote.setResults(func(m Mutation) MutationResult {
		return MutationResult{ID: m.ID, Status: ResultError, Error: "invoice rejected"}
	})

	for i := 0; i < 3; i++ {
		// Per-item rejections are not cycle failures.
		if err := h.engine.TriggerSync(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
	}

	failed, err := h.queue.Entries(ctx, outbox.StateFailed)
	if err != nil {
		t.Fatalf("failed entries: %v", err)
	}
	if len(failed) != 1 || failed[0].RetryCount != 3 || failed[0].Error != "invoice rejected" {
		t.Fatalf("expected parked entry after 3 attempts, got %+v", failed)
	}

	// Fourth cycle must not include the parked entry.
	if err := h.engine.TriggerSync(ctx); err != nil {
		t.Fatalf("fourth cycle: %v", err)
	}
	batches := remote.batches()
	if len(batches) != 3 {
		t.Fatalf("expected 3 push batches, got %d", len(batches))
	}
	for _, batch := range batches {
		if len(batch) != 1 || batch[0].IdempotencyKey != key {
			t.Fatalf("idempotency key changed across retries: %v", batch)
		}
	}
}

func TestDeltaAfterFirstSuccessfulPull(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, true)
	ctx := context.Background()

	remote.setPull(PullPayload{SyncedAt: "2026-03-14T10:00:00Z"})
	if err := h.engine.TriggerSync(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	remote.setPull(PullPayload{SyncedAt: "2026-03-14T10:05:00Z"})
	if err := h.engine.TriggerSync(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	order := remote.snapshotOrder()
	if order[0] != "full" || order[1] != "delta" {
		t.Fatalf("expected full then delta, got %v", order)
	}
	remote.mu.Lock()
	since := append([]string(nil), remote.deltaSince...)
	remote.mu.Unlock()
	if len(since) != 1 || since[0] != "2026-03-14T10:00:00Z" {
		t.Fatalf("delta not bounded by previous syncedAt: %v", since)
	}

	last, _ := h.store.LastSyncAt(ctx)
	if last != "2026-03-14T10:05:00Z" {
		t.Fatalf("watermark not advanced: %q", last)
	}
}

func TestPullFailureLeavesWatermarkAndReportsTransientError(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, true)
	ctx := context.Background()

	if err := h.engine.TriggerSync(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	statusCh := h.engine.Subscribe()
	remote.setPullStatus(http.StatusInternalServerError)
	if err := h.engine.TriggerSync(ctx); err == nil {
		t.Fatalf("expected cycle error")
	}

	last, _ := h.store.LastSyncAt(ctx)
	if last != "2026-03-14T10:00:00Z" {
		t.Fatalf("watermark changed on failed pull: %q", last)
	}

	final := <-statusCh
	if final.LastError == "" || final.Syncing {
		t.Fatalf("expected error notification, got %+v", final)
	}
	// The error is transient: the idle snapshot carries no error.
	if status := h.engine.Status(); status.LastError != "" {
		t.Fatalf("error state is sticky: %+v", status)
	}
}

func TestPullReplacesInvoiceWithItemsAtomically(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, true)
	ctx := context.Background()

	stale := record.Invoice{
		ID: "inv-9", BusinessID: "biz-1", Status: "draft", Currency: "AUD",
		Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	staleItems := []record.InvoiceLineItem{
		{ID: "old-1", InvoiceID: "inv-9", Description: "old", Quantity: 1},
		{ID: "old-2", InvoiceID: "inv-9", Description: "old", Quantity: 1},
	}
	if err := h.store.SaveInvoiceWithItems(ctx, &stale, staleItems); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh := stale
	fresh.Status = "paid"
	remote.setPull(PullPayload{
		Invoices:  []record.Invoice{fresh},
		LineItems: []record.InvoiceLineItem{{ID: "new-1", InvoiceID: "inv-9", Description: "new", Quantity: 2}},
		Customers: []record.Customer{{ID: "cust-7", BusinessID: "biz-1", Name: "Pulled"}},
		SyncedAt:  "2026-03-14T11:00:00Z",
	})
	if err := h.engine.TriggerSync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	inv, err := localstore.Get[record.Invoice](ctx, h.store, "inv-9")
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if inv.Status != "paid" {
		t.Fatalf("pulled header not applied: %+v", inv)
	}
	items, err := localstore.List[record.InvoiceLineItem](ctx, h.store, "", localstore.Filter{"invoice_id": "inv-9"})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].ID != "new-1" {
		t.Fatalf("pulled line items not replaced as a set: %+v", items)
	}
	if _, err := localstore.Get[record.Customer](ctx, h.store, "cust-7"); err != nil {
		t.Fatalf("pulled customer missing: %v", err)
	}
}

func TestTransportFailureCountsAgainstWholeBatch(t *testing.T) {
	remote := newFakeRemote(t)
	remote.srv.Close()
	h := newTestEngine(t, remote.srv.URL, true)
	ctx := context.Background()

	enqueueInvoice(t, h, 1)
	if err := h.engine.TriggerSync(ctx); err == nil {
		t.Fatalf("expected cycle error against dead remote")
	}

	pending, err := h.queue.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("expected retry recorded, got %+v", pending)
	}
}

func TestLoopTimerAndConnectivityDebounce(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, true)
	ctx := context.Background()

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.engine.Stop()

	h.clock.Advance(30 * time.Second)
	waitFor(t, func() bool { return len(remote.snapshotOrder()) >= 1 }, "timer-triggered cycle")

	// A connectivity flap right after a cycle is debounced.
	before := len(remote.snapshotOrder())
	h.monitor.SetOnline(false)
	h.monitor.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	if got := len(remote.snapshotOrder()); got != before {
		t.Fatalf("debounce window ignored: %d -> %d pulls", before, got)
	}

	// Past the debounce window the online transition triggers a cycle.
	h.clock.Advance(6 * time.Second)
	h.monitor.SetOnline(false)
	h.monitor.SetOnline(true)
	waitFor(t, func() bool { return len(remote.snapshotOrder()) > before }, "connectivity-triggered cycle")
}

func TestOfflineTimerTickSkipsCycle(t *testing.T) {
	remote := newFakeRemote(t)
	h := newTestEngine(t, remote.srv.URL, false)

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.engine.Stop()

	h.clock.Advance(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := remote.snapshotOrder(); len(got) != 0 {
		t.Fatalf("cycle ran while offline: %v", got)
	}
}
