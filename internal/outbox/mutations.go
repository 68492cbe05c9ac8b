package outbox

import (
	"github.com/smallbiznis/syncbox/internal/record"
)

// Mutation kinds recorded in the queue. The remote dispatches on these.
const (
	MutationCreateInvoice = "CREATE_INVOICE"
	MutationUpdateInvoice = "UPDATE_INVOICE"
	MutationDeleteInvoice = "DELETE_INVOICE"

	MutationCreateCustomer = "CREATE_CUSTOMER"
	MutationUpdateCustomer = "UPDATE_CUSTOMER"
	MutationDeleteCustomer = "DELETE_CUSTOMER"

	MutationCreateProduct = "CREATE_PRODUCT"
	MutationUpdateProduct = "UPDATE_PRODUCT"
	MutationDeleteProduct = "DELETE_PRODUCT"

	MutationUpdateBusinessSettings = "UPDATE_BUSINESS_SETTINGS"
	MutationSaveTemplateConfig     = "SAVE_TEMPLATE_CONFIG"
)

// InvoicePayload is the body of invoice mutations. Line items always travel
// with their header so the pair stays internally consistent.
type InvoicePayload struct {
	Invoice   record.Invoice           `json:"invoice"`
	LineItems []record.InvoiceLineItem `json:"lineItems"`
}

// DeletePayload is the body of delete mutations.
type DeletePayload struct {
	ID         string `json:"id"`
	BusinessID string `json:"businessId,omitempty"`
}
