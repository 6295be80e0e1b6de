package transaction

import "time"

// Transaction is one persisted purchase record extracted from a receipt.
type Transaction struct {
	ID          string    `json:"id"`
	Merchant    string    `json:"merchant"`
	Date        time.Time `json:"date"`
	Amount      int       `json:"amount"` // Amount in cents
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	BatchID     string    `json:"batch_id,omitempty"` // ID of the batch this transaction came from
	Index       int       `json:"index"`              // Position within the originating batch
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BatchRecord is the single atomic record persisted for one completed
// batch, regardless of how many items succeeded or failed.
type BatchRecord struct {
	ID             string    `json:"id"`
	TransactionIDs []string  `json:"transaction_ids"` // IDs of transactions created by this batch
	TotalAmount    int       `json:"total_amount"`    // Sum of successful items, in cents
	ItemCount      int       `json:"item_count"`      // Number of images submitted
	FailedCount    int       `json:"failed_count"`    // Items that finished in error
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
