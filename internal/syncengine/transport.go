package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/syncbox/internal/record"
)

// Mutation is one outbox entry on the wire.
type Mutation struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Data           json.RawMessage `json:"data"`
}

type PushRequest struct {
	Mutations []Mutation `json:"mutations"`
}

// MutationResult is the authority's per-mutation verdict. Data, when present,
// carries the authoritative record (server-assigned invoice numbers and the
// like) that must overwrite the local copy.
type MutationResult struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type PushResponse struct {
	Data []MutationResult `json:"data"`
}

// PullPayload is the body of both delta and full pulls. SyncedAt is the
// server's watermark and becomes the next delta's lower bound.
type PullPayload struct {
	Invoices         []record.Invoice          `json:"invoices,omitempty"`
	LineItems        []record.InvoiceLineItem  `json:"lineItems,omitempty"`
	Customers        []record.Customer         `json:"customers,omitempty"`
	Products         []record.Product          `json:"products,omitempty"`
	BusinessSettings []record.BusinessSettings `json:"businessSettings,omitempty"`
	TemplateConfigs  []record.TemplateConfig   `json:"templateConfigs,omitempty"`
	SyncedAt         string                    `json:"syncedAt"`
}

type PullResponse struct {
	Data PullPayload `json:"data"`
}

// Transport carries sync traffic to the remote authority. Pull with an empty
// lastSyncAt requests the full snapshot.
type Transport interface {
	PushBatch(ctx context.Context, mutations []Mutation) ([]MutationResult, error)
	Pull(ctx context.Context, lastSyncAt string) (*PullPayload, error)
}

var ErrMalformedResponse = errors.New("malformed_sync_response")

// HTTPTransport speaks the JSON/HTTP sync protocol. A hung request is bounded
// by the client timeout and surfaces as an ordinary transport error.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPTransport(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("sync.transport"),
	}
}

func (t *HTTPTransport) PushBatch(ctx context.Context, mutations []Mutation) ([]MutationResult, error) {
	body, err := json.Marshal(PushRequest{Mutations: mutations})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sync/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp PushResponse
	if err := t.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, lastSyncAt string) (*PullPayload, error) {
	endpoint := t.baseURL + "/sync/full"
	if lastSyncAt != "" {
		endpoint = t.baseURL + "/sync/delta?lastSyncAt=" + url.QueryEscape(lastSyncAt)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp PullResponse
	if err := t.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Data.SyncedAt == "" {
		return nil, ErrMalformedResponse
	}
	return &resp.Data, nil
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync request failed: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Treated the same as a transport failure.
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
