package clio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearbrief/datahub/internal/dates"
)

// Report is the provider's server-side aggregation for a dataset and
// range, including per-user breakdowns used for spot checks.
type Report struct {
	Rows   int64                `json:"rows"`
	Total  float64              `json:"total"`
	ByUser map[string]Aggregate `json:"by_user"`
}

// reportRequest is the deep report request body.
type reportRequest struct {
	Dataset   string `json:"dataset"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	GroupBy   string `json:"group_by,omitempty"`
}

const reportsPath = "/reports"

// DeepReport requests a provider-side aggregation report. The provider
// generates these synchronously and slowly (30-60s is normal), so the
// call is bounded by timeout rather than the client default. Callers are
// expected to rate-limit deep reports; the engine does so.
func (c *Client) DeepReport(ctx context.Context, principal, dataset string, start, end dates.Date, timeout time.Duration) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	began := time.Now()

	req := reportRequest{
		Dataset:   dataset,
		StartDate: start.String(),
		EndDate:   end.String(),
		GroupBy:   "user",
	}

	var report Report
	if err := c.postJSON(ctx, principal, reportsPath, req, &report); err != nil {
		return nil, fmt.Errorf("clio: deep report for %s: %w", dataset, err)
	}

	c.logger.Info("deep report generated",
		slog.String("dataset", dataset),
		slog.String("start", start.String()),
		slog.String("end", end.String()),
		slog.Duration("took", time.Since(began)),
	)

	return &report, nil
}
