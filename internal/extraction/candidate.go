package extraction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction carries the sign of a transaction.
type Direction string

const (
	Income  Direction = "INCOME"
	Expense Direction = "EXPENSE"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == Income || d == Expense
}

const (
	// DefaultCategory is used when the model omits a category
	DefaultCategory = "Outros"
	// DefaultDescription marks a description-less line as an import artifact
	DefaultDescription = "(import)"
)

const (
	maxAmountDigits = 15 // before the decimal point
	maxAmountScale  = 18 // after it
)

// AmountInRange reports whether d has at most 15 integer and 18 fractional
// digits.
func AmountInRange(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	return exp >= -maxAmountScale && d.NumDigits()+exp <= maxAmountDigits
}

// Candidate is a parsed transaction that has not been persisted yet.
type Candidate struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"` // magnitude, never negative
	Direction   Direction       `json:"type"`
	Category    string          `json:"category"`
	Tag         *string         `json:"tag"`
	OccurredOn  time.Time       `json:"date"`
	IsRecurring bool            `json:"isRecurring"`
}

// CalendarDate truncates t to its calendar date at UTC midnight.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
