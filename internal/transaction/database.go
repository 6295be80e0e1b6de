package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	transactionBucketName = "transactions"
	batchBucketName       = "batches"
)

// DB defines the interface for database operations
type DB interface {
	// SaveTransaction saves a transaction to the database
	SaveTransaction(tx *Transaction) error

	// GetTransaction retrieves a transaction by ID
	GetTransaction(id string) (*Transaction, error)

	// ListTransactions returns all transactions
	ListTransactions() ([]*Transaction, error)

	// DeleteTransaction removes a transaction from the database
	DeleteTransaction(id string) error

	// SaveBatchRecord saves a batch record to the database
	SaveBatchRecord(record *BatchRecord) error

	// GetBatchRecord retrieves a batch record by ID
	GetBatchRecord(id string) (*BatchRecord, error)

	// ListBatchRecords returns all batch records
	ListBatchRecords() ([]*BatchRecord, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(transactionBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(batchBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveTransaction saves a transaction to the database
func (b *BoltDB) SaveTransaction(record *Transaction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(transactionBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling transaction: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetTransaction retrieves a transaction by ID
func (b *BoltDB) GetTransaction(id string) (*Transaction, error) {
	var record *Transaction
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(transactionBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("transaction not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListTransactions returns all transactions
func (b *BoltDB) ListTransactions() ([]*Transaction, error) {
	records := make([]*Transaction, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(transactionBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Transaction
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteTransaction removes a transaction from the database
func (b *BoltDB) DeleteTransaction(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(transactionBucketName))
		return bucket.Delete([]byte(id))
	})
}

// SaveBatchRecord saves a batch record to the database
func (b *BoltDB) SaveBatchRecord(record *BatchRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling batch record: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetBatchRecord retrieves a batch record by ID
func (b *BoltDB) GetBatchRecord(id string) (*BatchRecord, error) {
	var record *BatchRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("batch record not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListBatchRecords returns all batch records
func (b *BoltDB) ListBatchRecords() ([]*BatchRecord, error) {
	records := make([]*BatchRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(batchBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record BatchRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling batch record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
