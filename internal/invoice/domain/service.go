package domain

import (
	"context"
	"time"
)

// RunReport summarizes one aggregation run. A skipped run (period already
// invoiced) reports AlreadyGenerated with zero counts.
type RunReport struct {
	Period           string `json:"period"`
	AlreadyGenerated bool   `json:"already_generated"`
	Invoiced         int    `json:"invoiced"`
	Skipped          int    `json:"skipped"`
	Failed           int    `json:"failed"`
}

type ListInvoiceRequest struct {
	MemberID string
	Period   string
}

type Service interface {
	// GenerateMonthly aggregates the calendar month prior to now into one
	// invoice per member with sessions in the period. Individual member
	// failures are isolated and counted; the run itself only fails on
	// infrastructure errors.
	GenerateMonthly(ctx context.Context, now time.Time) (RunReport, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)
	Lines(ctx context.Context, invoiceID string) ([]InvoiceLine, error)
}
