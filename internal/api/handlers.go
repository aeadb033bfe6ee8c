package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clearbrief/datahub/internal/dates"
	"github.com/clearbrief/datahub/internal/engine"
	"github.com/clearbrief/datahub/internal/store"
)

type handler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) sync(c echo.Context) error {
	var params syncPayload
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	start, end, err := parseRange(params.Start, params.End)
	if err != nil {
		return err
	}

	result, err := h.engine.Sync(c.Request().Context(), engine.SyncRequest{
		Dataset:   params.Dataset,
		Start:     start,
		End:       end,
		Mode:      engine.Mode(params.Mode),
		Principal: params.Principal,
		InvokedBy: invokedBy(params.InvokedBy),
		DryRun:    params.DryRun,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newSyncResponse(result))
}

func (h *handler) status(c echo.Context) error {
	report, err := h.engine.Status(c.Request().Context(), c.Param("dataset"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newStatusResponse(report))
}

func (h *handler) log(c echo.Context) error {
	q := store.LogQuery{
		Dataset: c.QueryParam("dataset"),
		OpKey:   c.QueryParam("op_key"),
	}

	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("bad since value %q, want RFC 3339", since))
		}

		q.Since = t
	}

	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("bad limit value %q", limit))
		}

		q.Limit = n
	}

	entries, err := h.engine.Log(c.Request().Context(), q)
	if err != nil {
		return err
	}

	resp := logResponse{Entries: make([]logEntryDTO, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, newLogEntryDTO(e))
	}
	resp.Total = len(resp.Entries)

	return c.JSON(http.StatusOK, resp)
}

func (h *handler) audit(c echo.Context) error {
	dataset := c.Param("dataset")

	records, err := h.engine.MonthAudit(c.Request().Context(), dataset)
	if err != nil {
		return err
	}

	resp := auditResponse{Dataset: dataset, Months: make([]coverageDTO, 0, len(records))}
	for _, r := range records {
		resp.Months = append(resp.Months, newCoverageDTO(r))
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *handler) backfill(c echo.Context) error {
	dataset := c.Param("dataset")

	var params backfillPayload
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	ctx := c.Request().Context()

	if params.Month != "" {
		m, err := dates.ParseMonth(params.Month)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("bad month %q, want YYYY-MM", params.Month))
		}

		if err := h.engine.BackfillOne(ctx, dataset, m, params.Principal, invokedBy(params.InvokedBy)); err != nil {
			return err
		}

		return c.JSON(http.StatusOK, backfillResponse{Done: []string{m.Key()}})
	}

	result, err := h.engine.BackfillUncovered(ctx, dataset, params.Principal, invokedBy(params.InvokedBy))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newBackfillResponse(result))
}

func (h *handler) drift(c echo.Context) error {
	var params driftPayload
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	start, end, err := parseRange(params.Start, params.End)
	if err != nil {
		return err
	}

	report, err := h.engine.Drift(c.Request().Context(), params.Principal, params.Dataset, start, end, params.Deep)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newDriftResponse(report))
}

func (h *handler) abort(c echo.Context) error {
	var params abortPayload
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	h.engine.Abort(params.OpKey)

	scope := "all operations"
	if params.OpKey != "" {
		scope = params.OpKey
	}

	h.logger.Warn("abort requested over http", slog.String("scope", scope))

	return c.JSON(http.StatusOK, map[string]string{"aborted": scope})
}

func (h *handler) resume(c echo.Context) error {
	h.engine.Resume()

	return c.JSON(http.StatusOK, map[string]string{"status": "resumed"})
}

// parseRange parses the start/end date strings shared by sync and drift
// payloads.
func parseRange(startStr, endStr string) (start, end dates.Date, err error) {
	start, err = dates.ParseDate(startStr)
	if err != nil {
		return dates.Date{}, dates.Date{}, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("bad start date %q, want YYYY-MM-DD", startStr))
	}

	end, err = dates.ParseDate(endStr)
	if err != nil {
		return dates.Date{}, dates.Date{}, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("bad end date %q, want YYYY-MM-DD", endStr))
	}

	return start, end, nil
}

// invokedBy defaults the audit attribution for API calls.
func invokedBy(s string) string {
	if s == "" {
		return "api"
	}

	return s
}
