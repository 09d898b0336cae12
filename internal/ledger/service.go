package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/meubolso/internal/extraction"
)

// Extractor turns a stored document into candidate transactions
type Extractor interface {
	Extract(ctx context.Context, doc extraction.Document) ([]extraction.Candidate, error)
}

// IDGenerator generates unique IDs for transactions and jobs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs imports and manages the ledger
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	heicToPNG   func([]byte) ([]byte, error)
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor Extractor, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		heicToPNG:   extraction.HEICToPNG,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaceRuns.ReplaceAllString(base, " "))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "upload"
	}
	return base + ext
}

// ImportRequest describes an upload already written to storage
type ImportRequest struct {
	UserID      string
	FilePath    string // storage-relative name
	Filename    string
	ContentType string // detected from Filename when empty
	FileSize    int64
}

// ImportResult reports the job and how many transactions it created
type ImportResult struct {
	JobID   string `json:"jobId"`
	Created int    `json:"created"`
}

// RunImport imports a stored file and returns the number of created
// transactions.
func (s *Service) RunImport(ctx context.Context, userID, filePath, filename string) (int, error) {
	req := ImportRequest{UserID: userID, FilePath: filePath, Filename: filename}
	if info, err := os.Stat(s.storage.Path(filePath)); err == nil {
		req.FileSize = info.Size()
	} else {
		slog.Warn("Failed to stat stored upload", "file_path", filePath, "error", err)
	}
	res, err := s.Import(ctx, req)
	if err != nil {
		return 0, err
	}
	return res.Created, nil
}

// Import runs the pipeline for one stored upload. The job ends DONE with all
// transactions persisted, or FAILED with none of them.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.ContentType == "" {
		req.ContentType = extraction.DetectContentType(req.Filename)
	}
	now := s.timeSource.Now()
	job := &ImportJob{
		ID:          s.idGenerator.Generate(),
		UserID:      req.UserID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		FilePath:    req.FilePath,
		FileSize:    req.FileSize,
		Status:      JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateImportJob(job); err != nil {
		return nil, fmt.Errorf("%w: creating import job: %w", ErrPersistence, err)
	}
	result := &ImportResult{JobID: job.ID}

	if _, err := s.db.TransitionImportJob(job.ID, JobProcessing, "", s.timeSource.Now()); err != nil {
		return result, s.fail(job.ID, fmt.Errorf("%w: starting import job: %w", ErrPersistence, err))
	}

	candidates, err := s.extractor.Extract(ctx, extraction.Document{
		Path:        s.storage.Path(req.FilePath),
		Filename:    req.Filename,
		ContentType: req.ContentType,
	})
	if err != nil {
		slog.Error("Failed to extract transactions",
			"job_id", job.ID,
			"filename", req.Filename,
			"content_type", req.ContentType,
			"error", err,
		)
		return result, s.fail(job.ID, err)
	}

	now = s.timeSource.Now()
	txs := make([]*Transaction, 0, len(candidates))
	for _, c := range candidates {
		txs = append(txs, &Transaction{
			ID:          s.idGenerator.Generate(),
			UserID:      req.UserID,
			Description: c.Description,
			Amount:      c.Amount,
			Type:        c.Direction,
			Category:    c.Category,
			Tag:         c.Tag,
			Date:        c.OccurredOn,
			IsRecurring: c.IsRecurring,
			Source:      SourceImport,
			ImportID:    job.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if _, err := s.db.CompleteImportJob(job.ID, txs, now); err != nil {
		return result, s.fail(job.ID, fmt.Errorf("%w: saving transactions: %w", ErrPersistence, err))
	}

	result.Created = len(txs)
	slog.Info("Import finished", "job_id", job.ID, "filename", req.Filename, "created", result.Created)
	return result, nil
}

// fail marks the job FAILED with the error text and returns err unchanged
func (s *Service) fail(jobID string, err error) error {
	if _, terr := s.db.TransitionImportJob(jobID, JobFailed, err.Error(), s.timeSource.Now()); terr != nil {
		slog.Error("Failed to mark import job as failed", "job_id", jobID, "error", terr)
	}
	return err
}

// UploadImport stores the uploaded bytes and imports them. HEIC/HEIF photos
// are stored as PNG.
func (s *Service) UploadImport(ctx context.Context, userID, filename, contentType string, data []byte) (*ImportResult, error) {
	stored := sanitizeFilename(filename)
	if extraction.IsHEIC(data, contentType) {
		converted, err := s.heicToPNG(data)
		if err != nil {
			slog.Warn("Failed to transcode HEIC upload", "filename", filename, "error", err)
		} else {
			data = converted
			contentType = "image/png"
			stored = strings.TrimSuffix(stored, filepath.Ext(stored)) + ".png"
		}
	}

	name := fmt.Sprintf("%s_%s", s.idGenerator.Generate(), stored)
	saved, err := s.storage.Save(name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: saving upload: %w", ErrPersistence, err)
	}
	return s.Import(ctx, ImportRequest{
		UserID:      userID,
		FilePath:    saved,
		Filename:    filename,
		ContentType: contentType,
		FileSize:    int64(len(data)),
	})
}

// TransactionInput carries a manually entered transaction
type TransactionInput struct {
	Description string               `json:"description"`
	Amount      decimal.Decimal      `json:"amount"`
	Type        extraction.Direction `json:"type"`
	Category    string               `json:"category"`
	Tag         *string              `json:"tag"`
	Date        string               `json:"date"` // YYYY-MM-DD, today when empty
	IsRecurring bool                 `json:"isRecurring"`
}

// CreateTransaction records a manual transaction
func (s *Service) CreateTransaction(userID string, in TransactionInput) (*Transaction, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidTransaction)
	}
	if err := checkAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = extraction.Expense
	}
	if err := checkType(in.Type); err != nil {
		return nil, err
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = extraction.DefaultCategory
	}

	now := s.timeSource.Now()
	date := extraction.CalendarDate(now)
	if in.Date != "" {
		parsed, err := parseDate(in.Date)
		if err != nil {
			return nil, err
		}
		date = parsed
	}

	t := &Transaction{
		ID:          s.idGenerator.Generate(),
		UserID:      userID,
		Description: description,
		Amount:      in.Amount,
		Type:        in.Type,
		Category:    category,
		Tag:         in.Tag,
		Date:        date,
		IsRecurring: in.IsRecurring,
		Source:      SourceManual,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveTransaction(t); err != nil {
		return nil, fmt.Errorf("%w: saving transaction: %w", ErrPersistence, err)
	}
	return t, nil
}

func checkAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTransaction)
	}
	if !extraction.AmountInRange(d) {
		return fmt.Errorf("%w: amount is out of range", ErrInvalidTransaction)
	}
	return nil
}

func checkType(t extraction.Direction) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, t)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidTransaction)
	}
	return t, nil
}

// TransactionUpdate carries a partial edit; nil fields are left unchanged
type TransactionUpdate struct {
	Description *string               `json:"description"`
	Amount      *decimal.Decimal      `json:"amount"`
	Type        *extraction.Direction `json:"type"`
	Category    *string               `json:"category"`
	Tag         *string               `json:"tag"`
	Date        *string               `json:"date"`
	IsRecurring *bool                 `json:"isRecurring"`
}

// UpdateTransaction edits one of the user's transactions
func (s *Service) UpdateTransaction(userID, id string, in TransactionUpdate) (*Transaction, error) {
	current, err := s.ownedTransaction(userID, id)
	if err != nil {
		return nil, err
	}
	t := *current

	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if description == "" {
			return nil, fmt.Errorf("%w: description is required", ErrInvalidTransaction)
		}
		t.Description = description
	}
	if in.Amount != nil {
		if err := checkAmount(*in.Amount); err != nil {
			return nil, err
		}
		t.Amount = *in.Amount
	}
	if in.Type != nil {
		if err := checkType(*in.Type); err != nil {
			return nil, err
		}
		t.Type = *in.Type
	}
	if in.Category != nil {
		category := strings.TrimSpace(*in.Category)
		if category == "" {
			category = extraction.DefaultCategory
		}
		t.Category = category
	}
	if in.Tag != nil {
		t.Tag = in.Tag
	}
	if in.Date != nil {
		date, err := parseDate(*in.Date)
		if err != nil {
			return nil, err
		}
		t.Date = date
	}
	if in.IsRecurring != nil {
		t.IsRecurring = *in.IsRecurring
	}

	t.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveTransaction(&t); err != nil {
		return nil, fmt.Errorf("%w: saving transaction: %w", ErrPersistence, err)
	}
	return &t, nil
}

// ownedTransaction loads a transaction, hiding other users' rows as not found
func (s *Service) ownedTransaction(userID, id string) (*Transaction, error) {
	t, err := s.db.GetTransaction(id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	if t.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// ListTransactions returns a user's transactions, newest first. When month
// and year are both set only that month is returned.
func (s *Service) ListTransactions(userID string, month, year int) ([]*Transaction, error) {
	txs, err := s.db.ListTransactions(userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	if month > 0 && year > 0 {
		filtered := txs[:0]
		for _, t := range txs {
			if t.Date.Year() == year && int(t.Date.Month()) == month {
				filtered = append(filtered, t)
			}
		}
		txs = filtered
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
	return txs, nil
}

// DeleteTransaction removes one of the user's transactions
func (s *Service) DeleteTransaction(userID, id string) error {
	if _, err := s.ownedTransaction(userID, id); err != nil {
		return err
	}
	if err := s.db.DeleteTransaction(id); err != nil {
		return fmt.Errorf("deleting transaction: %w", err)
	}
	return nil
}

// GetImportJob retrieves one of the user's import jobs
func (s *Service) GetImportJob(userID, id string) (*ImportJob, error) {
	job, err := s.db.GetImportJob(id)
	if err != nil {
		return nil, fmt.Errorf("getting import job: %w", err)
	}
	if job.UserID != userID {
		return nil, fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// ListImportJobs returns a user's import jobs, newest first
func (s *Service) ListImportJobs(userID string) ([]*ImportJob, error) {
	jobs, err := s.db.ListImportJobs(userID)
	if err != nil {
		return nil, fmt.Errorf("listing import jobs: %w", err)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// DeleteImportJob removes a job and its stored upload. Transactions it
// created stay in the ledger.
func (s *Service) DeleteImportJob(userID, id string) error {
	job, err := s.GetImportJob(userID, id)
	if err != nil {
		return err
	}

	if job.FilePath != "" {
		if err := s.storage.Delete(job.FilePath); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "filename", job.FilePath, "error", err)
		}
	}

	if err := s.db.DeleteImportJob(id); err != nil {
		return fmt.Errorf("deleting import job: %w", err)
	}
	return nil
}
