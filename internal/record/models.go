// Package record contains the persisted domain records the engine keeps on
// device. Records are opaque to the sync machinery: it moves them whole and
// never patches individual fields.
package record

import (
	"time"

	"gorm.io/datatypes"
)

// Invoice is the invoice header. Line items are stored separately and are
// always replaced as a full set when the invoice is saved.
type Invoice struct {
	ID            string            `gorm:"type:text;primaryKey" json:"id"`
	BusinessID    string            `gorm:"type:text;not null;index" json:"businessId"`
	InvoiceNumber string            `gorm:"type:text;index" json:"invoiceNumber"`
	CustomerID    string            `gorm:"type:text;index" json:"customerId"`
	Status        string            `gorm:"type:text;not null;index" json:"status"`
	Date          time.Time         `gorm:"not null;index" json:"date"`
	DueDate       *time.Time        `json:"dueDate,omitempty"`
	Currency      string            `gorm:"type:text;not null" json:"currency"`
	Notes         string            `gorm:"type:text" json:"notes,omitempty"`
	Subtotal      float64           `gorm:"not null" json:"subtotal"`
	TaxTotal      float64           `gorm:"not null" json:"taxTotal"`
	Total         float64           `gorm:"not null" json:"total"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"not null;index" json:"updatedAt"`
}

func (Invoice) TableName() string { return "invoices" }

// InvoiceLineItem is one line of an invoice. It carries no business scope of
// its own; it is reached through its invoice.
type InvoiceLineItem struct {
	ID          string  `gorm:"type:text;primaryKey" json:"id"`
	InvoiceID   string  `gorm:"type:text;not null;index" json:"invoiceId"`
	ProductID   string  `gorm:"type:text" json:"productId,omitempty"`
	Description string  `gorm:"type:text;not null" json:"description"`
	Quantity    float64 `gorm:"not null" json:"quantity"`
	UnitPrice   float64 `gorm:"not null" json:"unitPrice"`
	TaxRate     float64 `gorm:"not null" json:"taxRate"`
	Amount      float64 `gorm:"not null" json:"amount"`
	Position    int     `gorm:"not null" json:"position"`
}

func (InvoiceLineItem) TableName() string { return "invoice_line_items" }

type Customer struct {
	ID         string    `gorm:"type:text;primaryKey" json:"id"`
	BusinessID string    `gorm:"type:text;not null;index" json:"businessId"`
	Name       string    `gorm:"type:text;not null;index" json:"name"`
	Email      string    `gorm:"type:text" json:"email,omitempty"`
	Phone      string    `gorm:"type:text" json:"phone,omitempty"`
	Address    string    `gorm:"type:text" json:"address,omitempty"`
	TaxNumber  string    `gorm:"type:text" json:"taxNumber,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"not null;index" json:"updatedAt"`
}

func (Customer) TableName() string { return "customers" }

type Product struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	BusinessID  string    `gorm:"type:text;not null;index" json:"businessId"`
	Name        string    `gorm:"type:text;not null;index" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	UnitPrice   float64   `gorm:"not null" json:"unitPrice"`
	TaxRate     float64   `gorm:"not null" json:"taxRate"`
	Unit        string    `gorm:"type:text" json:"unit,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"not null;index" json:"updatedAt"`
}

func (Product) TableName() string { return "products" }

// BusinessSettings holds the per-business profile used on rendered documents.
// Its ID is the business ID.
type BusinessSettings struct {
	ID            string            `gorm:"type:text;primaryKey" json:"id"`
	Name          string            `gorm:"type:text;not null" json:"name"`
	Email         string            `gorm:"type:text" json:"email,omitempty"`
	Phone         string            `gorm:"type:text" json:"phone,omitempty"`
	Address       string            `gorm:"type:text" json:"address,omitempty"`
	TaxNumber     string            `gorm:"type:text" json:"taxNumber,omitempty"`
	Currency      string            `gorm:"type:text;not null" json:"currency"`
	InvoicePrefix string            `gorm:"type:text" json:"invoicePrefix,omitempty"`
	Extra         datatypes.JSONMap `json:"extra,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updatedAt"`
}

func (BusinessSettings) TableName() string { return "business_settings" }

// TemplateConfig stores a business's customization of a base invoice template.
type TemplateConfig struct {
	ID             string            `gorm:"type:text;primaryKey" json:"id"`
	BusinessID     string            `gorm:"type:text;not null;index" json:"businessId"`
	BaseTemplateID string            `gorm:"type:text;not null;index" json:"baseTemplateId"`
	Name           string            `gorm:"type:text;not null" json:"name"`
	IsActive       bool              `gorm:"not null;default:false;index" json:"isActive"`
	Config         datatypes.JSONMap `json:"config,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updatedAt"`
}

func (TemplateConfig) TableName() string { return "template_configs" }

// SyncMeta is a single-purpose key/value row. The only key written today is
// MetaLastSyncAt.
type SyncMeta struct {
	Key   string `gorm:"type:text;primaryKey"`
	Value string `gorm:"type:text;not null"`
}

func (SyncMeta) TableName() string { return "sync_meta" }

// MetaLastSyncAt holds the server-supplied timestamp of the last successful
// pull, RFC 3339.
const MetaLastSyncAt = "lastSyncAt"

// All returns one zero value of every persisted record type, in migration
// order.
func All() []any {
	return []any{
		&Invoice{},
		&InvoiceLineItem{},
		&Customer{},
		&Product{},
		&BusinessSettings{},
		&TemplateConfig{},
		&SyncMeta{},
	}
}
