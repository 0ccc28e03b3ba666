// Package reconcile compares invoice data read from a photo against the invoice on record.
package reconcile

import (
	"strings"

	"snapclaim/internal/model"

	"github.com/shopspring/decimal"
)

// AmountTolerance is the largest absolute difference between two totals still treated as equal, exclusive.
var AmountTolerance = decimal.NewFromFloat(0.01)

// Assigned holds the values of the invoice on record, rendered as strings.
type Assigned struct {
	InvoiceNumber string
	Date          string
	TotalAmount   string
	SupplierName  string
}

// FromInvoice renders an invoice for comparison.
func FromInvoice(inv model.Invoice) Assigned {
	return Assigned{
		InvoiceNumber: inv.InvoiceNumber,
		Date:          model.DayKey(inv.Date),
		TotalAmount:   inv.TotalAmount.StringFixed(2),
		SupplierName:  inv.SupplierName,
	}
}

// Extracted is a best-effort reading of an invoice. Any field may be missing.
type Extracted struct {
	InvoiceNumber *string          `json:"invoice_number"`
	Date          *string          `json:"date"`
	TotalAmount   *decimal.Decimal `json:"total_amount"`
	SupplierName  *string          `json:"supplier_name"`
}

// FieldResult is the outcome of one comparison. ExtractedValue is nil when nothing was read.
type FieldResult struct {
	Key            string  `json:"key"`
	Label          string  `json:"label"`
	AssignedValue  string  `json:"assigned_value"`
	ExtractedValue *string `json:"extracted_value,omitempty"`
	Match          bool    `json:"match"`
}

// Report is the per-field outcome plus the overall verdict.
type Report struct {
	OverallMatch bool          `json:"overall_match"`
	Fields       []FieldResult `json:"fields"`
}

// Field pairs a key with the way its two values are read and compared.
type Field struct {
	Key       string
	Label     string
	Assigned  func(Assigned) string
	Extracted func(Extracted) *string
	Compare   func(assigned, extracted string) bool
}

// Fields is the comparison table, in report order.
var Fields = []Field{
	{
		Key:       "invoice_number",
		Label:     "Invoice number",
		Assigned:  func(a Assigned) string { return a.InvoiceNumber },
		Extracted: func(e Extracted) *string { return e.InvoiceNumber },
		Compare:   EqualFold,
	},
	{
		Key:       "date",
		Label:     "Date",
		Assigned:  func(a Assigned) string { return a.Date },
		Extracted: func(e Extracted) *string { return e.Date },
		Compare:   EqualTrimmed,
	},
	{
		Key:      "total_amount",
		Label:    "Total amount",
		Assigned: func(a Assigned) string { return a.TotalAmount },
		Extracted: func(e Extracted) *string {
			if e.TotalAmount == nil {
				return nil
			}
			s := e.TotalAmount.String()
			return &s
		},
		Compare: WithinTolerance,
	},
	{
		Key:       "supplier_name",
		Label:     "Supplier",
		Assigned:  func(a Assigned) string { return a.SupplierName },
		Extracted: func(e Extracted) *string { return e.SupplierName },
		Compare:   ContainsFold,
	},
}

// Reconcile compares extracted against assigned field by field using Fields.
func Reconcile(assigned Assigned, extracted Extracted) Report {
	return ReconcileWith(Fields, assigned, extracted)
}

// ReconcileWith runs an explicit comparison table.
func ReconcileWith(fields []Field, assigned Assigned, extracted Extracted) Report {
	report := Report{OverallMatch: true, Fields: make([]FieldResult, 0, len(fields))}
	for _, f := range fields {
		res := FieldResult{Key: f.Key, Label: f.Label, AssignedValue: f.Assigned(assigned)}
		if v := f.Extracted(extracted); v != nil {
			val := *v
			res.ExtractedValue = &val
			res.Match = f.Compare(res.AssignedValue, val)
		}
		report.OverallMatch = report.OverallMatch && res.Match
		report.Fields = append(report.Fields, res)
	}
	return report
}

// EqualFold compares trimmed values case-insensitively.
func EqualFold(a, e string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(e))
}

// EqualTrimmed compares trimmed values exactly.
func EqualTrimmed(a, e string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(e)
}

// WithinTolerance parses both values as decimals and compares them within AmountTolerance.
func WithinTolerance(a, e string) bool {
	ad, err := decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return false
	}
	ed, err := decimal.NewFromString(strings.TrimSpace(e))
	if err != nil {
		return false
	}
	return ad.Sub(ed).Abs().LessThan(AmountTolerance)
}

// ContainsFold reports whether either trimmed value contains the other, ignoring case.
// A blank value never matches.
func ContainsFold(a, e string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	e = strings.ToLower(strings.TrimSpace(e))
	if a == "" || e == "" {
		return false
	}
	return strings.Contains(a, e) || strings.Contains(e, a)
}
