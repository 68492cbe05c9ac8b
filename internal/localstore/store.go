// Package localstore is the durable on-device store for domain records. It
// has no network dependency: every operation completes against the local
// sqlite database, and compound invoice writes are atomic.
package localstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/syncbox/internal/record"
)

var (
	ErrNotFound         = errors.New("record_not_found")
	ErrInvalidRecordID  = errors.New("invalid_record_id")
	ErrInvalidInvoiceID = errors.New("invalid_invoice_id")
)

const lookupCacheTTL = time.Minute

// Store wraps the local database. All writes to invoices and their line items
// go through the compound operations so readers never observe a header without
// its matching item set.
type Store struct {
	db        *gorm.DB
	log       *zap.Logger
	settings  *ttlCache[string, record.BusinessSettings]
	templates *ttlCache[string, record.TemplateConfig]
}

func New(db *gorm.DB, log *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("missing_database")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(record.All()...); err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		log:       log.Named("localstore"),
		settings:  newTTLCache[string, record.BusinessSettings](),
		templates: newTTLCache[string, record.TemplateConfig](),
	}, nil
}

// with returns a Store bound to tx, sharing the caches.
func (s *Store) with(tx *gorm.DB) *Store {
	return &Store{db: tx, log: s.log, settings: s.settings, templates: s.templates}
}

// Transaction runs fn against a transaction-bound Store. Used by the sync
// engine to apply a whole pull atomically.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(txdb *gorm.DB) error {
		return fn(s.with(txdb))
	})
}

// Filter is an equality filter on column values, applied verbatim.
type Filter map[string]any

// Get fetches one record by ID.
func Get[T any](ctx context.Context, s *Store, id string) (*T, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidRecordID
	}
	var out T
	if err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// List returns records for one business. businessID may be empty for types
// without a business column (line items); callers then scope via filter.
// Result order is unspecified.
func List[T any](ctx context.Context, s *Store, businessID string, filter Filter) ([]T, error) {
	q := s.db.WithContext(ctx).Model(new(T))
	if strings.TrimSpace(businessID) != "" {
		q = q.Where("business_id = ?", businessID)
	}
	if len(filter) > 0 {
		q = q.Where(map[string]any(filter))
	}
	var out []T
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Put upserts one record by primary key.
func Put[T any](ctx context.Context, s *Store, rec *T) error {
	if rec == nil {
		return ErrInvalidRecordID
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
	if err != nil {
		return err
	}
	s.invalidate(rec)
	return nil
}

// BulkPut upserts many records of one type. Used by pull application.
func BulkPut[T any](ctx context.Context, s *Store, recs []T) error {
	if len(recs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&recs).Error
	if err != nil {
		return err
	}
	for i := range recs {
		s.invalidate(&recs[i])
	}
	return nil
}

// Delete removes one record by ID. Missing rows are not an error; deletes
// must be safe to replay.
func Delete[T any](ctx context.Context, s *Store, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidRecordID
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(new(T)).Error; err != nil {
		return err
	}
	switch any(new(T)).(type) {
	case *record.BusinessSettings:
		s.settings.Delete(id)
	case *record.TemplateConfig:
		// business scope unknown here; cached entries age out via TTL
	}
	return nil
}

func (s *Store) invalidate(rec any) {
	switch v := rec.(type) {
	case *record.BusinessSettings:
		s.settings.Delete(v.ID)
	case *record.TemplateConfig:
		s.templates.Delete(v.BusinessID)
	}
}

// SaveInvoiceWithItems atomically replaces the invoice header and its full
// line-item set. On failure nothing is visible to subsequent reads.
func (s *Store) SaveInvoiceWithItems(ctx context.Context, inv *record.Invoice, items []record.InvoiceLineItem) error {
	if inv == nil || strings.TrimSpace(inv.ID) == "" {
		return ErrInvalidInvoiceID
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(inv).Error; err != nil {
			return err
		}
		return replaceLineItems(tx, inv.ID, items)
	})
}

// DeleteInvoiceAndItems atomically removes an invoice header and all of its
// line items.
func (s *Store) DeleteInvoiceAndItems(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInvoiceID
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id = ?", id).Delete(&record.InvoiceLineItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&record.Invoice{}).Error
	})
}

// ReplaceLineItems swaps the full line-item set of one invoice. Callers that
// need header+items atomicity must run inside Transaction; pull application
// does.
func (s *Store) ReplaceLineItems(ctx context.Context, invoiceID string, items []record.InvoiceLineItem) error {
	if strings.TrimSpace(invoiceID) == "" {
		return ErrInvalidInvoiceID
	}
	return replaceLineItems(s.db.WithContext(ctx), invoiceID, items)
}

func replaceLineItems(tx *gorm.DB, invoiceID string, items []record.InvoiceLineItem) error {
	if err := tx.Where("invoice_id = ?", invoiceID).Delete(&record.InvoiceLineItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].InvoiceID = invoiceID
	}
	return tx.Create(&items).Error
}

// Settings returns the business profile, served from a short-lived cache.
func (s *Store) Settings(ctx context.Context, businessID string) (*record.BusinessSettings, error) {
	if cached, ok := s.settings.Get(businessID); ok {
		return &cached, nil
	}
	out, err := Get[record.BusinessSettings](ctx, s, businessID)
	if err != nil {
		return nil, err
	}
	s.settings.Set(businessID, *out, lookupCacheTTL)
	return out, nil
}

// ActiveTemplate returns the business's active template config, cached.
func (s *Store) ActiveTemplate(ctx context.Context, businessID string) (*record.TemplateConfig, error) {
	if cached, ok := s.templates.Get(businessID); ok {
		return &cached, nil
	}
	var out record.TemplateConfig
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessID, true).
		First(&out).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.templates.Set(businessID, out, lookupCacheTTL)
	return &out, nil
}

// LastSyncAt returns the stored pull watermark, or "" before the first
// successful pull.
func (s *Store) LastSyncAt(ctx context.Context) (string, error) {
	var meta record.SyncMeta
	err := s.db.WithContext(ctx).First(&meta, "key = ?", record.MetaLastSyncAt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return meta.Value, nil
}

// SetLastSyncAt overwrites the pull watermark with the server-supplied value.
func (s *Store) SetLastSyncAt(ctx context.Context, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("invalid_sync_timestamp")
	}
	meta := record.SyncMeta{Key: record.MetaLastSyncAt, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&meta).Error
}

// Reset drops all local state. Used on logout.
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range record.All() {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
