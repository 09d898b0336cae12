package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

// argumentsSchema only checks the envelope; per-field defects are coerced.
var argumentsSchema = jsonschema.MustCompileString("create_transactions.arguments.json", `{
	"type": "object",
	"properties": {
		"transactions": {
			"type": ["array", "null"],
			"items": {"type": "object"}
		}
	}
}`)

// Normalize turns a completion response into validated candidates. today is
// the fallback date for items without one.
func Normalize(resp *Response, today time.Time) ([]Candidate, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrModelNoResponse
	}
	msg := resp.Choices[0].Message

	var calls []ToolCall
	for _, call := range msg.ToolCalls {
		if call.Name == ToolName {
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return nil, &NoToolCallError{Content: msg.Content}
	}

	today = CalendarDate(today)
	candidates := make([]Candidate, 0)
	for i, call := range calls {
		args, err := decodeArguments(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool call %d: %w", i, err)
		}
		items, _ := args["transactions"].([]any)
		for _, it := range items {
			c, err := candidateFrom(it.(map[string]any), len(candidates), today)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// decodeArguments accepts either a JSON object or a JSON string holding one.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty arguments", ErrMalformedToolArguments)
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedToolArguments, err)
		}
		raw = bytes.TrimSpace([]byte(text))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToolArguments, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after arguments", ErrMalformedToolArguments)
	}
	if err := argumentsSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToolArguments, err)
	}
	return v.(map[string]any), nil
}

func candidateFrom(item map[string]any, index int, today time.Time) (Candidate, error) {
	date, err := coerceDate(item["date"], index, today)
	if err != nil {
		return Candidate{}, err
	}
	amount, ok := coerceAmount(item["amount"])
	if !ok {
		return Candidate{}, fmt.Errorf("%w: amount %v at item %d is out of range", ErrMalformedToolArguments, item["amount"], index)
	}
	return Candidate{
		Description: coerceText(item["description"], DefaultDescription),
		Amount:      amount,
		Direction:   coerceDirection(item["type"]),
		Category:    coerceText(item["category"], DefaultCategory),
		Tag:         coerceTag(item["tag"]),
		OccurredOn:  date,
		IsRecurring: coerceBool(item["isRecurring"]),
	}, nil
}

func coerceDate(v any, index int, today time.Time) (time.Time, error) {
	if v == nil {
		return today, nil
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, &DateError{Index: index, Value: fmt.Sprint(v)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return today, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return CalendarDate(t), nil
	}
	return time.Time{}, &DateError{Index: index, Value: s}
}

// coerceAmount returns the magnitude of v, zero for anything non-numeric.
// ok is false only for numbers too large or too precise to store.
func coerceAmount(v any) (amount decimal.Decimal, ok bool) {
	var d decimal.Decimal
	switch t := v.(type) {
	case json.Number:
		parsed, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, true
		}
		d = parsed
	case float64:
		d = decimal.NewFromFloat(t)
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, true
		}
		d = parsed
	default:
		return decimal.Zero, true
	}
	if !AmountInRange(d) {
		return decimal.Zero, false
	}
	return d.Abs(), true
}

func coerceDirection(v any) Direction {
	s, _ := v.(string)
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INCOME", "CREDIT", "ENTRADA", "RECEITA":
		return Income
	default:
		return Expense
	}
}

func coerceText(v any, fallback string) string {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}

func coerceTag(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	default:
		s := fmt.Sprint(t)
		return &s
	}
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	default:
		return false
	}
}
