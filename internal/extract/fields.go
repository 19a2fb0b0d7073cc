// Package extract pulls structured invoice fields out of recognized page
// text through an external extraction backend. It is a read-through
// operation over a completed task's stored text and never touches task
// status.
package extract

// Fields are the six invoice fields the backend is asked for. Missing
// values stay empty strings.
type Fields struct {
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	VendorName    string `json:"vendor_name"`
	CustomerName  string `json:"customer_name"`
	TotalAmount   string `json:"total_amount"`
	TaxAmount     string `json:"tax_amount"`
}

// PageFields ties extracted fields to their 1-based page. Error marks a
// page whose extraction failed; its fields stay empty and the rest of the
// batch is unaffected.
type PageFields struct {
	Fields
	Page  int    `json:"page_number"`
	Error string `json:"error,omitempty"`
}
