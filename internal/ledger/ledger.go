package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/meubolso/internal/extraction"
)

var (
	// ErrNotFound is returned when a transaction or import job does not exist
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps storage faults raised after valid data was produced
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidTransaction rejects manual entries that break the model invariants
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// Source records how a transaction entered the ledger.
type Source string

const (
	SourceManual Source = "manual"
	SourceImport Source = "import"
)

// Transaction is a persisted income or expense
type Transaction struct {
	ID          string               `json:"id"`
	UserID      string               `json:"userId"`
	Description string               `json:"description"`
	Amount      decimal.Decimal      `json:"amount"` // magnitude; direction lives in Type
	Type        extraction.Direction `json:"type"`
	Category    string               `json:"category"`
	Tag         *string              `json:"tag"`
	Date        time.Time            `json:"date"`
	IsRecurring bool                 `json:"isRecurring"`
	Source      Source               `json:"source"`
	ImportID    string               `json:"importId,omitempty"` // job that produced it, kept after the job is deleted
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// ImportJob tracks one upload attempt
type ImportJob struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"contentType"`
	FilePath     string    `json:"filePath"` // relative to storage
	FileSize     int64     `json:"fileSize"`
	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
