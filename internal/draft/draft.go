// Package draft persists the in-progress invoice form so it survives a crash
// or reload before submission. A draft is not a committed mutation: it never
// touches the outbox and is never sent to the remote.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/syncbox/internal/clock"
	"github.com/smallbiznis/syncbox/internal/record"
)

var (
	ErrNoDraft           = errors.New("draft_not_found")
	ErrInvalidBusinessID = errors.New("invalid_business_id")
)

// Draft is the single stored row per business.
type Draft struct {
	BusinessID string         `gorm:"type:text;primaryKey" json:"businessId"`
	Body       datatypes.JSON `gorm:"not null" json:"body"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updatedAt"`
}

func (Draft) TableName() string { return "drafts" }

// Form is the complete in-progress invoice, unsaved line items included.
type Form struct {
	Invoice   record.Invoice           `json:"invoice"`
	LineItems []record.InvoiceLineItem `json:"lineItems"`
}

// Saver debounces form updates and writes the latest state once per quiet
// period. Flush order per business is preserved because each business has at
// most one armed timer and one latest form.
type Saver struct {
	db       *gorm.DB
	clock    clock.Clock
	log      *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*pendingDraft
}

type pendingDraft struct {
	form  Form
	timer clock.Timer
}

func NewSaver(db *gorm.DB, clk clock.Clock, debounce time.Duration, log *zap.Logger) (*Saver, error) {
	if db == nil {
		return nil, errors.New("missing_database")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if err := db.AutoMigrate(&Draft{}); err != nil {
		return nil, err
	}
	return &Saver{
		db:       db,
		clock:    clk,
		log:      log.Named("draft"),
		debounce: debounce,
		pending:  make(map[string]*pendingDraft),
	}, nil
}

// Update records the latest form state and re-arms the debounce timer. The
// write happens after the debounce delay; a burst of updates produces one
// write.
func (s *Saver) Update(businessID string, form Form) error {
	if strings.TrimSpace(businessID) == "" {
		return ErrInvalidBusinessID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[businessID]; ok {
		p.form = form
		p.timer.Reset(s.debounce)
		return nil
	}
	p := &pendingDraft{form: form}
	p.timer = s.clock.AfterFunc(s.debounce, func() {
		s.flushOne(businessID)
	})
	s.pending[businessID] = p
	return nil
}

func (s *Saver) flushOne(businessID string) {
	s.mu.Lock()
	p, ok := s.pending[businessID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, businessID)
	form := p.form
	s.mu.Unlock()

	if err := s.write(context.Background(), businessID, form); err != nil {
		s.log.Error("draft autosave failed", zap.String("business_id", businessID), zap.Error(err))
	}
}

// Flush writes every pending draft immediately. Called on shutdown.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	drafts := make(map[string]Form, len(s.pending))
	for businessID, p := range s.pending {
		p.timer.Stop()
		drafts[businessID] = p.form
	}
	s.pending = make(map[string]*pendingDraft)
	s.mu.Unlock()

	for businessID, form := range drafts {
		if err := s.write(ctx, businessID, form); err != nil {
			return err
		}
	}
	return nil
}

func (s *Saver) write(ctx context.Context, businessID string, form Form) error {
	body, err := json.Marshal(form)
	if err != nil {
		return err
	}
	row := Draft{
		BusinessID: businessID,
		Body:       body,
		UpdatedAt:  s.clock.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

// Load returns the stored draft for the active business. A draft keyed or
// bodied to a different business is never applied.
func (s *Saver) Load(ctx context.Context, businessID string) (*Form, error) {
	if strings.TrimSpace(businessID) == "" {
		return nil, ErrInvalidBusinessID
	}
	var row Draft
	err := s.db.WithContext(ctx).First(&row, "business_id = ?", businessID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoDraft
		}
		return nil, err
	}
	var form Form
	if err := json.Unmarshal(row.Body, &form); err != nil {
		return nil, err
	}
	if form.Invoice.BusinessID != "" && form.Invoice.BusinessID != businessID {
		return nil, ErrNoDraft
	}
	return &form, nil
}

// Clear drops the stored draft and any armed autosave. Called on successful
// submission or explicit reset.
func (s *Saver) Clear(ctx context.Context, businessID string) error {
	if strings.TrimSpace(businessID) == "" {
		return ErrInvalidBusinessID
	}
	s.mu.Lock()
	if p, ok := s.pending[businessID]; ok {
		p.timer.Stop()
		delete(s.pending, businessID)
	}
	s.mu.Unlock()

	return s.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Delete(&Draft{}).Error
}
