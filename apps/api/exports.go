package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

var exportFormats = []string{"csv", "geojson", "pdf"}

type exportArtifact struct {
	ContentType string
	Extension   string
	Body        []byte
}

type exportRequest struct {
	Filters     IssueFilters
	Format      string
	GeneratedAt time.Time
}

func (r exportRequest) title() string {
	parts := []string{"Civic issues export"}
	if r.Filters.Status != "" {
		parts = append(parts, "Status: "+statusLabel(r.Filters.Status))
	}
	if r.Filters.Tag != "" {
		parts = append(parts, "Tag: "+r.Filters.Tag)
	}
	if r.Filters.DepartmentID > 0 {
		parts = append(parts, fmt.Sprintf("Department #%d", r.Filters.DepartmentID))
	}
	if r.Filters.Flagged != nil && *r.Filters.Flagged {
		parts = append(parts, "Flagged only")
	}
	return strings.Join(parts, " - ")
}

func (r exportRequest) fileName(extension string) string {
	return fmt.Sprintf("civic-issues-%s.%s", r.GeneratedAt.UTC().Format("20060102-150405"), extension)
}

// loadExportIssues fetches at most maxExportRows issues, oldest first.
func (a *App) loadExportIssues(ctx context.Context, filters IssueFilters) ([]IssueSummary, error) {
	issues, _, err := a.listIssues(ctx, issueListQuery{Filters: filters, Limit: maxExportRows, NewestFirst: true})
	if err != nil {
		return nil, err
	}
	sortIssuesByCreation(issues)
	return issues, nil
}

func sortIssuesByCreation(issues []IssueSummary) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].CreatedAt != issues[j].CreatedAt {
			return issues[i].CreatedAt < issues[j].CreatedAt
		}
		return issues[i].ID < issues[j].ID
	})
}

func renderExport(req exportRequest, issues []IssueSummary) (*exportArtifact, error) {
	switch req.Format {
	case "csv":
		body, err := buildCSV(issues)
		if err != nil {
			return nil, err
		}
		return &exportArtifact{ContentType: "text/csv; charset=utf-8", Extension: "csv", Body: body}, nil
	case "geojson":
		body, err := buildGeoJSON(issues)
		if err != nil {
			return nil, err
		}
		return &exportArtifact{ContentType: "application/geo+json; charset=utf-8", Extension: "geojson", Body: body}, nil
	case "pdf":
		body, err := buildPDF(issues, req.title(), req.GeneratedAt)
		if err != nil {
			return nil, err
		}
		return &exportArtifact{ContentType: "application/pdf", Extension: "pdf", Body: body}, nil
	}
	return nil, badRequest("invalid_format", "format must be one of csv, geojson, pdf")
}

// writeExportFiles renders each format into dir and returns the written paths.
func writeExportFiles(dir string, req exportRequest, formats []string, issues []IssueSummary) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		req.Format = format
		artifact, err := renderExport(req, issues)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, req.fileName(artifact.Extension))
		if err := os.WriteFile(path, artifact.Body, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func buildCSV(issues []IssueSummary) ([]byte, error) {
	buffer := bytes.NewBuffer(nil)
	writer := csv.NewWriter(buffer)
	headers := []string{"issue_id", "created_at", "status", "flagged", "latitude", "longitude", "tags", "vote_count", "department", "description"}
	if err := writer.Write(headers); err != nil {
		return nil, err
	}
	for _, issue := range issues {
		department := ""
		if issue.DepartmentName != nil {
			department = *issue.DepartmentName
		}
		row := []string{
			strconv.Itoa(issue.ID),
			issue.CreatedAt,
			issue.Status,
			strconv.FormatBool(issue.Flagged),
			strconv.FormatFloat(issue.Latitude, 'f', 6, 64),
			strconv.FormatFloat(issue.Longitude, 'f', 6, 64),
			strings.Join(issue.Tags, "|"),
			strconv.Itoa(issue.VoteCount),
			department,
			issue.Description,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func buildGeoJSON(issues []IssueSummary) ([]byte, error) {
	features := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		features = append(features, map[string]any{
			"type": "Feature",
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []float64{issue.Longitude, issue.Latitude},
			},
			"properties": map[string]any{
				"issue_id":        issue.ID,
				"created_at":      issue.CreatedAt,
				"status":          issue.Status,
				"flagged":         issue.Flagged,
				"tags":            issue.Tags,
				"vote_count":      issue.VoteCount,
				"department_id":   issue.DepartmentID,
				"department_name": issue.DepartmentName,
				"description":     issue.Description,
			},
		})
	}
	payload := map[string]any{"type": "FeatureCollection", "features": features}
	return json.MarshalIndent(payload, "", "  ")
}

type tagCount struct {
	Tag   string
	Count int
}

// topTags ranks tags by frequency, breaking ties alphabetically.
func topTags(issues []IssueSummary, limit int) []tagCount {
	counts := map[string]int{}
	for _, issue := range issues {
		for _, tag := range issue.Tags {
			counts[tag]++
		}
	}
	tags := make([]tagCount, 0, len(counts))
	for tag, count := range counts {
		tags = append(tags, tagCount{Tag: tag, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Tag < tags[j].Tag
	})
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

func buildPDF(issues []IssueSummary, title string, generatedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 16)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, "Generated: "+generatedAt.UTC().Format(time.RFC3339))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Total issues: %d", len(issues)))
	pdf.Ln(10)

	statusCounts := map[string]int{}
	flagged := 0
	for _, issue := range issues {
		statusCounts[issue.Status]++
		if issue.Flagged {
			flagged++
		}
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, "Status distribution")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	for _, status := range issueStatuses {
		pdf.Cell(0, 6, fmt.Sprintf("- %s: %d", statusLabel(status), statusCounts[status]))
		pdf.Ln(6)
	}
	pdf.Cell(0, 6, fmt.Sprintf("- Flagged: %d", flagged))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, "Top tags")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	for _, tag := range topTags(issues, 10) {
		pdf.Cell(0, 6, fmt.Sprintf("- %s: %d", tag.Tag, tag.Count))
		pdf.Ln(6)
	}

	buffer := bytes.NewBuffer(nil)
	if err := pdf.Output(buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
