package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func (a *App) adminIssuesHandler(c *gin.Context) {
	query, page, err := parseIssueListRequest(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	summaries, total, err := a.listIssues(c.Request.Context(), query)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": summaries, "total": total, "page": page, "limit": query.Limit})
}

// getAdminStats returns the statistics document produced by the database.
func (a *App) getAdminStats(ctx context.Context) (json.RawMessage, error) {
	var raw []byte
	if err := a.db.QueryRowContext(ctx, `SELECT get_admin_stats()`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("admin stats: invalid JSON document")
	}
	return json.RawMessage(raw), nil
}

func (a *App) adminStatsHandler(c *gin.Context) {
	stats, err := a.getAdminStats(c.Request.Context())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", stats)
}

func (a *App) adminExportHandler(c *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "csv")))
	if !containsString(exportFormats, format) {
		writeAPIError(c, badRequest("invalid_format", "format must be one of csv, geojson, pdf"))
		return
	}
	query, _, err := parseIssueListRequest(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	req := exportRequest{Filters: query.Filters, Format: format, GeneratedAt: time.Now()}
	issues, err := a.loadExportIssues(c.Request.Context(), req.Filters)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	artifact, err := renderExport(req, issues)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	auth, _ := getAuthContext(c)
	a.log.Info("issues exported", "format", format, "rows", len(issues), "actor", auth.ProfileID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", req.fileName(artifact.Extension)))
	c.Data(http.StatusOK, artifact.ContentType, artifact.Body)
}
