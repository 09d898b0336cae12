package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	transactionBucketName = "transactions"
	importBucketName      = "imports"
)

// DB defines the interface for database operations
type DB interface {
	// SaveTransaction inserts or replaces a transaction
	SaveTransaction(tx *Transaction) error

	// GetTransaction retrieves a transaction by ID
	GetTransaction(id string) (*Transaction, error)

	// ListTransactions returns all transactions owned by a user
	ListTransactions(userID string) ([]*Transaction, error)

	// DeleteTransaction removes a transaction
	DeleteTransaction(id string) error

	// CreateImportJob stores a new job
	CreateImportJob(job *ImportJob) error

	// GetImportJob retrieves a job by ID
	GetImportJob(id string) (*ImportJob, error)

	// ListImportJobs returns all jobs owned by a user
	ListImportJobs(userID string) ([]*ImportJob, error)

	// TransitionImportJob applies a status change to a stored job
	TransitionImportJob(id string, to JobStatus, message string, at time.Time) (*ImportJob, error)

	// CompleteImportJob stores the transactions and marks the job DONE in a
	// single write transaction; either both happen or neither does
	CompleteImportJob(id string, txs []*Transaction, at time.Time) (*ImportJob, error)

	// DeleteImportJob removes a job record; its transactions are kept
	DeleteImportJob(id string) error

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
		for _, name := range []string{transactionBucketName, importBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func putJSON(bucket *bbolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", id, err)
	}
	return bucket.Put([]byte(id), data)
}

// SaveTransaction saves a transaction to the database
func (b *BoltDB) SaveTransaction(t *Transaction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte(transactionBucketName)), t.ID, t)
	})
}

// GetTransaction retrieves a transaction by ID
func (b *BoltDB) GetTransaction(id string) (*Transaction, error) {
	var t *Transaction
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(transactionBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns all transactions for a user
func (b *BoltDB) ListTransactions(userID string) ([]*Transaction, error) {
	txs := make([]*Transaction, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(transactionBucketName)).ForEach(func(k, v []byte) error {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			if t.UserID == userID {
				txs = append(txs, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// DeleteTransaction removes a transaction from the database
func (b *BoltDB) DeleteTransaction(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(transactionBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// CreateImportJob saves a new import job
func (b *BoltDB) CreateImportJob(job *ImportJob) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(importBucketName))
		if bucket.Get([]byte(job.ID)) != nil {
			return fmt.Errorf("import job %s already exists", job.ID)
		}
		return putJSON(bucket, job.ID, job)
	})
}

func getJob(bucket *bbolt.Bucket, id string) (*ImportJob, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	var job ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling import job: %w", err)
	}
	return &job, nil
}

// GetImportJob retrieves an import job by ID
func (b *BoltDB) GetImportJob(id string) (*ImportJob, error) {
	var job *ImportJob
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		job, err = getJob(tx.Bucket([]byte(importBucketName)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListImportJobs returns all import jobs for a user
func (b *BoltDB) ListImportJobs(userID string) ([]*ImportJob, error) {
	jobs := make([]*ImportJob, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(importBucketName)).ForEach(func(k, v []byte) error {
			var job ImportJob
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("unmarshaling import job: %w", err)
			}
			if job.UserID == userID {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// TransitionImportJob loads, transitions and stores a job in one write
// transaction
func (b *BoltDB) TransitionImportJob(id string, to JobStatus, message string, at time.Time) (*ImportJob, error) {
	var job *ImportJob
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(importBucketName))
		var err error
		job, err = getJob(bucket, id)
		if err != nil {
			return err
		}
		if err := job.Transition(to, message, at); err != nil {
			return err
		}
		return putJSON(bucket, job.ID, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteImportJob inserts the batch and marks the job DONE atomically
func (b *BoltDB) CompleteImportJob(id string, txs []*Transaction, at time.Time) (*ImportJob, error) {
	var job *ImportJob
	err := b.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(importBucketName))
		var err error
		job, err = getJob(jobs, id)
		if err != nil {
			return err
		}
		if err := job.Transition(JobDone, "", at); err != nil {
			return err
		}

		bucket := tx.Bucket([]byte(transactionBucketName))
		for _, t := range txs {
			if err := putJSON(bucket, t.ID, t); err != nil {
				return err
			}
		}
		return putJSON(jobs, job.ID, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// DeleteImportJob removes an import job from the database
func (b *BoltDB) DeleteImportJob(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(importBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("import job %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
