package transaction

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Brownbull/gmni-boletapp-sub015/internal/batch"
)

// IDGenerator generates unique IDs for transactions and batch records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service persists completed batches and serves stored transactions.
// SaveBatch is the engine's completion collaborator: it receives one
// atomic, index-ordered result set instead of reacting to partial
// updates.
type Service struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// extensionFor maps a content type to a storage file extension.
func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/heic", "image/heif":
		return ".heic"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

// SaveBatch persists one completed batch: the original image for every
// successful item, one transaction per successful item, and a single
// batch record tying them together. Results arrive index-ordered from
// the engine; failed items are counted on the record but produce no
// transaction.
func (s *Service) SaveBatch(results []batch.Result, images []batch.Image) (*BatchRecord, []*Transaction, error) {
	if len(results) != len(images) {
		return nil, nil, fmt.Errorf("result count %d does not match image count %d", len(results), len(images))
	}

	now := s.timeSource.Now()
	batchID := s.idGenerator.Generate()

	transactions := make([]*Transaction, 0, len(results))
	savedFiles := make([]string, 0, len(results))

	cleanup := func() {
		for _, path := range savedFiles {
			if err := s.storage.Delete(path); err != nil {
				slog.Warn("Failed to clean up file", "filename", path, "error", err)
			}
		}
	}

	totalAmount := 0
	failed := 0
	for i, result := range results {
		if !result.Success {
			failed++
			continue
		}

		img := images[i]
		txID := s.idGenerator.Generate()

		filename := fmt.Sprintf("%s_%s%s", txID, img.ID, extensionFor(img.ContentType))
		savedPath, err := s.storage.Save(filename, img.Payload)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("saving image for item %d: %w", result.Index, err)
		}
		savedFiles = append(savedFiles, savedPath)

		date, err := time.Parse("2006-01-02", result.Transaction.Date)
		if err != nil {
			date = now
		}

		amountCents := int(math.Round(result.Transaction.Amount * 100))
		totalAmount += amountCents

		transactions = append(transactions, &Transaction{
			ID:          txID,
			Merchant:    result.Transaction.Merchant,
			Date:        date,
			Amount:      amountCents,
			Currency:    result.Transaction.Currency,
			Category:    result.Transaction.Category,
			Filename:    savedPath,
			ContentType: img.ContentType,
			BatchID:     batchID,
			Index:       result.Index,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	for _, tx := range transactions {
		if err := s.db.SaveTransaction(tx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("saving transaction %s: %w", tx.ID, err)
		}
	}

	record := &BatchRecord{
		ID:             batchID,
		TransactionIDs: transactionIDs(transactions),
		TotalAmount:    totalAmount,
		ItemCount:      len(results),
		FailedCount:    failed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.SaveBatchRecord(record); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("saving batch record: %w", err)
	}

	slog.Info("Batch persisted",
		"batch_id", batchID,
		"transactions", len(transactions),
		"failed", failed,
	)
	return record, transactions, nil
}

func transactionIDs(transactions []*Transaction) []string {
	ids := make([]string, 0, len(transactions))
	for _, tx := range transactions {
		ids = append(ids, tx.ID)
	}
	return ids
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(id string) (*Transaction, error) {
	tx, err := s.db.GetTransaction(id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions returns all transactions
func (s *Service) ListTransactions() ([]*Transaction, error) {
	transactions, err := s.db.ListTransactions()
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return transactions, nil
}

// DeleteTransaction removes a transaction and its stored image
func (s *Service) DeleteTransaction(id string) error {
	tx, err := s.db.GetTransaction(id)
	if err != nil {
		return fmt.Errorf("getting transaction for deletion: %w", err)
	}

	if err := s.storage.Delete(tx.Filename); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete file", "filename", tx.Filename, "error", err)
	}

	if err := s.db.DeleteTransaction(id); err != nil {
		return fmt.Errorf("deleting transaction from database: %w", err)
	}
	return nil
}

// GetTransactionFile retrieves the stored image for a transaction
func (s *Service) GetTransactionFile(id string) ([]byte, string, error) {
	tx, err := s.db.GetTransaction(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting transaction: %w", err)
	}

	data, err := s.storage.Get(tx.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting transaction file: %w", err)
	}

	return data, tx.ContentType, nil
}

// GetBatchRecord retrieves a batch record by ID
func (s *Service) GetBatchRecord(id string) (*BatchRecord, error) {
	record, err := s.db.GetBatchRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch record: %w", err)
	}
	return record, nil
}

// GetBatchRecordWithTransactions retrieves a batch record with its transactions
func (s *Service) GetBatchRecordWithTransactions(id string) (*BatchRecord, []*Transaction, error) {
	record, err := s.db.GetBatchRecord(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting batch record: %w", err)
	}

	transactions := make([]*Transaction, 0, len(record.TransactionIDs))
	for _, txID := range record.TransactionIDs {
		tx, err := s.db.GetTransaction(txID)
		if err != nil {
			return nil, nil, fmt.Errorf("getting transaction %s: %w", txID, err)
		}
		transactions = append(transactions, tx)
	}

	return record, transactions, nil
}

// ListBatchRecords returns all batch records
func (s *Service) ListBatchRecords() ([]*BatchRecord, error) {
	records, err := s.db.ListBatchRecords()
	if err != nil {
		return nil, fmt.Errorf("listing batch records: %w", err)
	}
	return records, nil
}
