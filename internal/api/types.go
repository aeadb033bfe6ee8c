package api

import (
	"time"

	"github.com/clearbrief/datahub/internal/engine"
	"github.com/clearbrief/datahub/internal/store"
)

// syncPayload is the POST /sync request body. Dates are YYYY-MM-DD.
type syncPayload struct {
	Dataset   string `json:"dataset"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Mode      string `json:"mode"`
	Principal string `json:"principal"`
	InvokedBy string `json:"invoked_by"`
	DryRun    bool   `json:"dry_run"`
}

type syncResponse struct {
	OpKey        string `json:"op_key"`
	DeletedRows  int64  `json:"deleted_rows"`
	InsertedRows int64  `json:"inserted_rows"`
	DurationMs   int64  `json:"duration_ms"`
	DryRun       bool   `json:"dry_run"`
}

func newSyncResponse(r *engine.SyncResult) syncResponse {
	return syncResponse{
		OpKey:        r.OpKey,
		DeletedRows:  r.DeletedRows,
		InsertedRows: r.InsertedRows,
		DurationMs:   r.Duration.Milliseconds(),
		DryRun:       r.DryRun,
	}
}

type statusResponse struct {
	Dataset    string       `json:"dataset"`
	RowCount   int64        `json:"row_count"`
	LatestDate string       `json:"latest_date,omitempty"`
	LastSync   *logEntryDTO `json:"last_sync,omitempty"`
}

func newStatusResponse(r *engine.StatusReport) statusResponse {
	resp := statusResponse{
		Dataset:  r.Dataset,
		RowCount: r.RowCount,
	}

	if !r.LatestDate.IsZero() {
		resp.LatestDate = r.LatestDate.String()
	}

	if r.LastSync != nil {
		dto := newLogEntryDTO(*r.LastSync)
		resp.LastSync = &dto
	}

	return resp
}

type logEntryDTO struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Dataset      string    `json:"dataset"`
	OpKey        string    `json:"op_key"`
	Status       string    `json:"status"`
	DeletedRows  int64     `json:"deleted_rows"`
	InsertedRows int64     `json:"inserted_rows"`
	DurationMs   int64     `json:"duration_ms"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date"`
	InvokedBy    string    `json:"invoked_by,omitempty"`
	Message      string    `json:"message,omitempty"`
}

func newLogEntryDTO(e store.LogEntry) logEntryDTO {
	return logEntryDTO{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		Dataset:      e.Dataset,
		OpKey:        e.OpKey,
		Status:       string(e.Status),
		DeletedRows:  e.DeletedRows,
		InsertedRows: e.InsertedRows,
		DurationMs:   e.DurationMs,
		StartDate:    e.StartDate.String(),
		EndDate:      e.EndDate.String(),
		InvokedBy:    e.InvokedBy,
		Message:      e.Message,
	}
}

type logResponse struct {
	Entries []logEntryDTO `json:"entries"`
	Total   int           `json:"total"`
}

type coverageDTO struct {
	Month         string       `json:"month"`
	State         string       `json:"state"`
	Covered       bool         `json:"covered"`
	SyncCount     int          `json:"sync_count"`
	ValidateCount int          `json:"validate_count"`
	LastSync      *logEntryDTO `json:"last_sync,omitempty"`
	LastValidate  *logEntryDTO `json:"last_validate,omitempty"`
}

func newCoverageDTO(r engine.CoverageRecord) coverageDTO {
	dto := coverageDTO{
		Month:         r.Month.Key(),
		State:         r.Label(),
		Covered:       r.Covered(),
		SyncCount:     r.SyncCount,
		ValidateCount: r.ValidateCount,
	}

	if r.LastSync != nil {
		e := newLogEntryDTO(*r.LastSync)
		dto.LastSync = &e
	}

	if r.LastValidate != nil {
		e := newLogEntryDTO(*r.LastValidate)
		dto.LastValidate = &e
	}

	return dto
}

type auditResponse struct {
	Dataset string        `json:"dataset"`
	Months  []coverageDTO `json:"months"`
}

// backfillPayload is the POST /datasets/:dataset/backfill request body.
// With Month set only that month is synced; otherwise every uncovered
// trailing month is.
type backfillPayload struct {
	Month     string `json:"month,omitempty"`
	Principal string `json:"principal"`
	InvokedBy string `json:"invoked_by"`
}

type backfillResponse struct {
	Done    []string        `json:"done"`
	Errors  []monthErrorDTO `json:"errors,omitempty"`
	Aborted bool            `json:"aborted"`
}

type monthErrorDTO struct {
	Month string `json:"month"`
	Error string `json:"error"`
}

func newBackfillResponse(r *engine.BackfillResult) backfillResponse {
	resp := backfillResponse{
		Done:    make([]string, 0, len(r.Done)),
		Aborted: r.Aborted,
	}

	for _, m := range r.Done {
		resp.Done = append(resp.Done, m.Key())
	}

	for _, e := range r.Errors {
		resp.Errors = append(resp.Errors, monthErrorDTO{Month: e.Month.Key(), Error: e.Err.Error()})
	}

	return resp
}

// driftPayload is the POST /drift request body.
type driftPayload struct {
	Dataset   string `json:"dataset"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Deep      bool   `json:"deep"`
	Principal string `json:"principal"`
}

type spotCheckDTO struct {
	Initials    string   `json:"initials"`
	UserID      string   `json:"user_id"`
	LocalRows   int64    `json:"local_rows"`
	LocalSum    float64  `json:"local_sum"`
	RemoteRows  *int64   `json:"remote_rows,omitempty"`
	RemoteSum   *float64 `json:"remote_sum,omitempty"`
	RowsMatch   bool     `json:"rows_match"`
	SumMatch    bool     `json:"sum_match"`
	RemoteKnown bool     `json:"remote_known"`
}

type driftResponse struct {
	Dataset     string         `json:"dataset"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	Deep        bool           `json:"deep"`
	Verified    bool           `json:"verified"`
	CountsMatch bool           `json:"counts_match"`
	SumsMatch   bool           `json:"sums_match"`
	LocalRows   int64          `json:"local_rows"`
	LocalSum    float64        `json:"local_sum"`
	RemoteRows  *int64         `json:"remote_rows,omitempty"`
	RemoteSum   *float64       `json:"remote_sum,omitempty"`
	SpotChecks  []spotCheckDTO `json:"spot_checks,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

func newDriftResponse(r *engine.DriftReport) driftResponse {
	resp := driftResponse{
		Dataset:     r.Dataset,
		Start:       r.Start.String(),
		End:         r.End.String(),
		Deep:        r.Deep,
		Verified:    r.Verified(),
		CountsMatch: r.CountsMatch(),
		SumsMatch:   r.SumsMatch(),
		LocalRows:   r.LocalRows,
		LocalSum:    r.LocalSum,
		RemoteRows:  r.RemoteRows,
		RemoteSum:   r.RemoteSum,
		GeneratedAt: r.GeneratedAt,
	}

	for _, check := range r.SpotChecks {
		dto := spotCheckDTO{
			Initials:    check.Initials,
			UserID:      check.UserID,
			LocalRows:   check.LocalRows,
			LocalSum:    check.LocalSum,
			RowsMatch:   check.RowsMatch,
			SumMatch:    check.SumMatch,
			RemoteKnown: check.RemoteKnown,
		}

		if check.RemoteKnown {
			rows, sum := check.RemoteRows, check.RemoteSum
			dto.RemoteRows = &rows
			dto.RemoteSum = &sum
		}

		resp.SpotChecks = append(resp.SpotChecks, dto)
	}

	return resp
}

// abortPayload is the POST /abort request body. An empty op_key aborts
// everything.
type abortPayload struct {
	OpKey string `json:"op_key,omitempty"`
}
