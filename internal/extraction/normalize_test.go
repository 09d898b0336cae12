package extraction

import (
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func toolResponse(calls ...ToolCall) *Response {
	return &Response{Choices: []Choice{{Message: ResponseMessage{ToolCalls: calls}}}}
}

func stringArgs(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

var _ = Describe("Normalize", func() {
	var (
		resp       *Response
		today      time.Time
		candidates []Candidate
		err        error
	)

	BeforeEach(func() {
		today = time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC)
	})

	JustBeforeEach(func() {
		candidates, err = Normalize(resp, today)
	})

	When("there are no choices", func() {
		BeforeEach(func() {
			resp = &Response{}
		})

		It("returns ErrModelNoResponse", func() {
			Expect(err).To(MatchError(ErrModelNoResponse))
			Expect(candidates).To(BeNil())
		})
	})

	When("the model answers with text only", func() {
		BeforeEach(func() {
			resp = &Response{Choices: []Choice{{Message: ResponseMessage{Content: "I cannot read this file"}}}}
		})

		It("returns ErrModelDidNotCallTool with the free text", func() {
			Expect(err).To(MatchError(ErrModelDidNotCallTool))
			var ntc *NoToolCallError
			Expect(errors.As(err, &ntc)).To(BeTrue())
			Expect(ntc.Content).To(Equal("I cannot read this file"))
			Expect(err.Error()).To(ContainSubstring("I cannot read this file"))
		})
	})

	When("only other tools are called", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{Name: "lookup_weather", Arguments: json.RawMessage(`{}`)})
		})

		It("treats it as no tool call", func() {
			Expect(err).To(MatchError(ErrModelDidNotCallTool))
		})
	})

	When("arguments arrive as a JSON string", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{
				Name:      ToolName,
				Arguments: stringArgs(`{"transactions":[{"description":"Coffee","amount":12.5,"type":"EXPENSE","category":"Food","date":"2025-03-01","isRecurring":false}]}`),
			})
		})

		It("decodes the candidate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			c := candidates[0]
			Expect(c.Description).To(Equal("Coffee"))
			Expect(c.Amount.Equal(decimal.RequireFromString("12.5"))).To(BeTrue())
			Expect(c.Direction).To(Equal(Expense))
			Expect(c.Category).To(Equal("Food"))
			Expect(c.Tag).To(BeNil())
			Expect(c.OccurredOn).To(Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
			Expect(c.IsRecurring).To(BeFalse())
		})
	})

	When("arguments arrive as a JSON object", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{
				Name:      ToolName,
				Arguments: json.RawMessage(`{"transactions":[{"description":"Salary","amount":3000,"type":"INCOME","category":"Work","tag":"monthly","date":"2025-03-05","isRecurring":true}]}`),
			})
		})

		It("decodes the candidate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			Expect(candidates[0].Direction).To(Equal(Income))
			Expect(candidates[0].Tag).NotTo(BeNil())
			Expect(*candidates[0].Tag).To(Equal("monthly"))
			Expect(candidates[0].IsRecurring).To(BeTrue())
		})
	})

	When("fields are missing", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{
				Name:      ToolName,
				Arguments: json.RawMessage(`{"transactions":[{"amount":10}]}`),
			})
		})

		It("applies the defaults", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			c := candidates[0]
			Expect(c.Description).To(Equal(DefaultDescription))
			Expect(c.Category).To(Equal(DefaultCategory))
			Expect(c.Direction).To(Equal(Expense))
			Expect(c.OccurredOn).To(Equal(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)))
			Expect(c.Tag).To(BeNil())
			Expect(c.IsRecurring).To(BeFalse())
		})
	})

	When("the date is an empty string and tag is null", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{
				Name:      ToolName,
				Arguments: json.RawMessage(`{"transactions":[{"description":"Rent","amount":900,"type":"EXPENSE","category":"Home","tag":null,"date":"","isRecurring":true}]}`),
			})
		})

		It("uses today's date and no tag", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates[0].OccurredOn).To(Equal(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)))
			Expect(candidates[0].Tag).To(BeNil())
		})
	})

	When("the amount is negative or not a number", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{
				Name:      ToolName,
				Arguments: json.RawMessage(`{"transactions":[{"amount":-45.10},{"amount":"abc"},{"amount":"7.25"}]}`),
			})
		})

		It("stores magnitudes and zero for garbage", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(3))
			Expect(candidates[0].Amount.String()).To(Equal("45.1"))
			Expect(candidates[1].Amount.IsZero()).To(BeTrue())
			Expect(candidates[2].Amount.String()).To(Equal("7.25"))
			for _, c := range candidates {
				Expect(c.Amount.IsNegative()).To(BeFalse())
			}
		})
	})

	When("the date is an RFC 3339 timestamp", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{
				Name:      ToolName,
				Arguments: json.RawMessage(`{"transactions":[{"amount":1,"date":"2025-02-28T23:10:00Z"}]}`),
			})
		})

		It("keeps the calendar date", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates[0].OccurredOn).To(Equal(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)))
		})
	})

	When("one date is unparseable", func() {
		BeforeEach(func() {
			resp = toolResponse(ToolCall{
				Name:      ToolName,
				Arguments: json.RawMessage(`{"transactions":[{"amount":1,"date":"2025-03-01"},{"amount":2,"date":"03/01/2025"}]}`),
			})
		})

		It("aborts the whole batch", func() {
			Expect(err).To(MatchError(ErrInvalidTransactionDate))
			Expect(candidates).To(BeNil())
			var de *DateError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Index).To(Equal(1))
			Expect(de.Value).To(Equal("03/01/2025"))
		})
	})

	When("two create_transactions calls are made", func() {
		BeforeEach(func() {
			resp = toolResponse(
				ToolCall{Name: ToolName, Arguments: json.RawMessage(`{"transactions":[{"description":"A","amount":1}]}`)},
				ToolCall{Name: "other_tool", Arguments: json.RawMessage(`{"transactions":[{"description":"X","amount":9}]}`)},
				ToolCall{Name: ToolName, Arguments: stringArgs(`{"transactions":[{"description":"B","amount":2}]}`)},
			)
		})

		It("concatenates them in order and ignores other tools", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(2))
			Expect(candidates[0].Description).To(Equal("A"))
			Expect(candidates[1].Description).To(Equal("B"))
		})
	})

	When("transactions is empty or null", func() {
		BeforeEach(func() {
			resp = toolResponse(
				ToolCall{Name: ToolName, Arguments: json.RawMessage(`{"transactions":[]}`)},
				ToolCall{Name: ToolName, Arguments: json.RawMessage(`{"transactions":null}`)},
				ToolCall{Name: ToolName, Arguments: json.RawMessage(`{}`)},
			)
		})

		It("returns zero candidates without error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidates).NotTo(BeNil())
			Expect(candidates).To(BeEmpty())
		})
	})

	DescribeTable("malformed arguments",
		func(raw string) {
			_, err := Normalize(toolResponse(ToolCall{Name: ToolName, Arguments: json.RawMessage(raw)}), today)
			Expect(err).To(MatchError(ErrMalformedToolArguments))
		},
		Entry("truncated object", `{"transactions":[{"amount":1}`),
		Entry("string holding invalid JSON", `"{not json"`),
		Entry("array instead of object", `[1,2,3]`),
		Entry("transactions is a string", `{"transactions":"none"}`),
		Entry("item is not an object", `{"transactions":[1]}`),
		Entry("empty arguments", ``),
		Entry("trailing garbage", `{"transactions":[]} xyz`),
		Entry("huge exponent", `{"transactions":[{"description":"x","amount":1e300000000,"date":"2024-01-01"}]}`),
		Entry("huge exponent in a string", `{"transactions":[{"amount":"-1e300000000"}]}`),
		Entry("tiny exponent", `{"transactions":[{"amount":"1e-300000000"}]}`),
		Entry("sixteen integer digits", `{"transactions":[{"amount":1234567890123456}]}`),
	)

	DescribeTable("amount bounds",
		func(value string, inRange bool) {
			Expect(AmountInRange(decimal.RequireFromString(value))).To(Equal(inRange))
		},
		Entry("cents", "12.50", true),
		Entry("fifteen integer digits", "999999999999999.99", true),
		Entry("sixteen integer digits", "1000000000000000", false),
		Entry("positive exponent within range", "4e3", true),
		Entry("positive exponent out of range", "1e16", false),
		Entry("eighteen decimals", "0.000000000000000001", true),
		Entry("nineteen decimals", "0.0000000000000000001", false),
	)

	DescribeTable("direction synonyms",
		func(value string, expected Direction) {
			Expect(coerceDirection(value)).To(Equal(expected))
		},
		Entry("INCOME", "INCOME", Income),
		Entry("lower-case income", "income", Income),
		Entry("credit", "credit", Income),
		Entry("receita", "Receita", Income),
		Entry("EXPENSE", "EXPENSE", Expense),
		Entry("unknown", "transfer", Expense),
	)

	DescribeTable("recurrence flags",
		func(value any, expected bool) {
			Expect(coerceBool(value)).To(Equal(expected))
		},
		Entry("true", true, true),
		Entry("false", false, false),
		Entry("string true", "true", true),
		Entry("string false", "false", false),
		Entry("number one", json.Number("1"), true),
		Entry("number zero", json.Number("0"), false),
		Entry("missing", nil, false),
	)
})
