package journal

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("processed_loans")

// Journal is a local ledger of loans completed by this host. It
// complements the remote idempotency index: when storage listing is
// unavailable (the index fails open), the ledger still keeps a rerun
// from re-downloading what this machine already finished.
type Journal struct {
	db *bolt.DB
}

func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// MarkProcessed records a loan the moment its first document upload
// succeeds.
func (j *Journal) MarkProcessed(loanID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(loanID), []byte("1"))
	})
}

// IsProcessed reports ledger membership for one loan.
func (j *Journal) IsProcessed(loanID string) (bool, error) {
	var processed bool
	err := j.db.View(func(tx *bolt.Tx) error {
		processed = tx.Bucket(bucketName).Get([]byte(loanID)) != nil
		return nil
	})
	return processed, err
}

// ProcessedIDs returns every loan recorded in the ledger.
func (j *Journal) ProcessedIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			ids[string(k)] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
