package clio

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/clearbrief/datahub/internal/dates"
)

// Record is one provider activity row (a time entry or WIP entry).
type Record struct {
	ID           string  `json:"id"`
	Date         string  `json:"date"` // YYYY-MM-DD
	Matter       string  `json:"matter"`
	UserInitials string  `json:"user_initials"`
	Amount       float64 `json:"amount"`
	Description  string  `json:"description"`
}

// RecordQuery selects provider records by dataset and inclusive date
// range, optionally filtered to one user.
type RecordQuery struct {
	Dataset string
	Start   dates.Date
	End     dates.Date
	UserID  string // optional
}

// Aggregate is a cheap count/sum pair.
type Aggregate struct {
	Rows  int64   `json:"rows"`
	Total float64 `json:"total"`
}

// listResponse mirrors the provider's paginated list envelope.
type listResponse struct {
	Data []Record `json:"data"`
	Meta struct {
		Paging struct {
			NextPageToken string `json:"next_page_token"`
		} `json:"paging"`
		Records     *int64   `json:"records"`
		TotalAmount *float64 `json:"total_amount"`
	} `json:"meta"`
}

const activitiesPath = "/activities"

// ListRecords fetches all provider records matching the query, following
// pagination until exhausted so callers see a single logical record set.
func (c *Client) ListRecords(ctx context.Context, principal string, q RecordQuery, pageSize int) ([]Record, error) {
	var (
		records   []Record
		pageToken string
	)

	for page := 1; ; page++ {
		query := q.values()
		query.Set("limit", strconv.Itoa(pageSize))

		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		var resp listResponse
		if err := c.getJSON(ctx, principal, activitiesPath, query, &resp); err != nil {
			return nil, fmt.Errorf("clio: listing %s records page %d: %w", q.Dataset, page, err)
		}

		records = append(records, resp.Data...)

		pageToken = resp.Meta.Paging.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Debug("provider records fetched",
		slog.String("dataset", q.Dataset),
		slog.String("start", q.Start.String()),
		slog.String("end", q.End.String()),
		slog.Int("count", len(records)),
	)

	return records, nil
}

// ShallowAggregate probes the list endpoint with limit=1 and reads the
// count/sum from the response metadata. Returns ErrAggregateUnavailable
// when the provider omits those fields; callers degrade to a local-only
// drift report rather than failing.
func (c *Client) ShallowAggregate(ctx context.Context, principal string, q RecordQuery) (Aggregate, error) {
	query := q.values()
	query.Set("limit", "1")

	var resp listResponse
	if err := c.getJSON(ctx, principal, activitiesPath, query, &resp); err != nil {
		return Aggregate{}, fmt.Errorf("clio: shallow aggregate for %s: %w", q.Dataset, err)
	}

	if resp.Meta.Records == nil || resp.Meta.TotalAmount == nil {
		return Aggregate{}, ErrAggregateUnavailable
	}

	return Aggregate{Rows: *resp.Meta.Records, Total: *resp.Meta.TotalAmount}, nil
}

// values builds the common query parameters for a RecordQuery.
func (q RecordQuery) values() url.Values {
	query := url.Values{}
	query.Set("dataset", q.Dataset)
	query.Set("start_date", q.Start.String())
	query.Set("end_date", q.End.String())

	if q.UserID != "" {
		query.Set("user_id", q.UserID)
	}

	return query
}
