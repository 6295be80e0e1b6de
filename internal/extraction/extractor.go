package extraction

import "context"

// Transaction is the structured record extracted from one receipt.
type Transaction struct {
	Merchant string  `json:"merchant"`
	Date     string  `json:"date"` // ISO 8601 format
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Category string  `json:"category"`
}

// Options carry caller hints through to the extraction backend. The
// batch engine forwards them unchanged and never inspects them.
type Options struct {
	// Currency is the expected currency code (e.g. "CLP", "USD");
	// empty lets the model infer it.
	Currency string
	// ReceiptType hints at the document kind (e.g. "boleta",
	// "factura", "invoice").
	ReceiptType string
}

// Extractor defines the interface for turning one receipt image into a
// structured transaction. Payload bytes are opaque to callers above
// this package.
type Extractor interface {
	// Extract analyzes a receipt image/PDF and returns the
	// transaction it describes.
	Extract(ctx context.Context, payload []byte, contentType string, opts Options) (*Transaction, error)
	// Close releases backend resources.
	Close() error
}
