package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() []IssueSummary {
	department := 3
	departmentName := "Public Works"
	return []IssueSummary{
		{
			Issue: Issue{
				ID:          2,
				Description: "Pothole, deep",
				Latitude:    52.1,
				Longitude:   5.1,
				Status:      "under_progress",
				Tags:        []string{"pothole", "road"},
				CreatedAt:   "2026-03-15T08:00:00Z",
			},
			VoteCount:      5,
			DepartmentID:   &department,
			DepartmentName: &departmentName,
		},
		{
			Issue: Issue{
				ID:          1,
				Description: "Broken lamp",
				Latitude:    52.2,
				Longitude:   5.2,
				Status:      "active",
				Tags:        []string{"streetlight", "road"},
				Flagged:     true,
				CreatedAt:   "2026-03-14T08:00:00Z",
			},
		},
	}
}

func TestSortIssuesByCreation(t *testing.T) {
	issues := exportFixture()
	sortIssuesByCreation(issues)
	assert.Equal(t, 1, issues[0].ID)
	assert.Equal(t, 2, issues[1].ID)
}

func TestBuildCSV(t *testing.T) {
	body, err := buildCSV(exportFixture())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"issue_id", "created_at", "status", "flagged", "latitude", "longitude", "tags", "vote_count", "department", "description"}, records[0])
	assert.Equal(t, []string{"2", "2026-03-15T08:00:00Z", "under_progress", "false", "52.100000", "5.100000", "pothole|road", "5", "Public Works", "Pothole, deep"}, records[1])
	assert.Equal(t, "", records[2][8])
}

func TestBuildGeoJSONUsesLngLatOrder(t *testing.T) {
	body, err := buildGeoJSON(exportFixture())
	require.NoError(t, err)

	var collection struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(body, &collection))
	assert.Equal(t, "FeatureCollection", collection.Type)
	require.Len(t, collection.Features, 2)
	assert.Equal(t, "Point", collection.Features[0].Geometry.Type)
	assert.Equal(t, []float64{5.1, 52.1}, collection.Features[0].Geometry.Coordinates)
	assert.Equal(t, "Public Works", collection.Features[0].Properties["department_name"])
	assert.Nil(t, collection.Features[1].Properties["department_id"])
}

func TestBuildGeoJSONEmpty(t *testing.T) {
	body, err := buildGeoJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(body))
}

func TestTopTags(t *testing.T) {
	tags := topTags(exportFixture(), 2)
	assert.Equal(t, []tagCount{{Tag: "road", Count: 2}, {Tag: "pothole", Count: 1}}, tags)
}

func TestRenderExport(t *testing.T) {
	flagged := true
	req := exportRequest{
		Filters:     IssueFilters{Status: "active", Flagged: &flagged},
		Format:      "pdf",
		GeneratedAt: time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "Civic issues export - Status: Active - Flagged only", req.title())
	assert.Equal(t, "civic-issues-20260316-120000.pdf", req.fileName("pdf"))

	artifact, err := renderExport(req, exportFixture())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", artifact.ContentType)
	assert.True(t, bytes.HasPrefix(artifact.Body, []byte("%PDF")))

	req.Format = "xlsx"
	_, err = renderExport(req, nil)
	assert.Error(t, err)
}

func TestWriteExportFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	req := exportRequest{GeneratedAt: time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)}

	paths, err := writeExportFiles(dir, req, exportFormats, exportFixture())
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, path := range paths {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.True(t, strings.HasSuffix(paths[1], "civic-issues-20260316-120000.geojson"))
}

func TestAdminExportHandler(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodGet, "/api/v1/admin/issues/export?format=xml", nil), "official")
	rec := serve(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = asRole(t, app, mock, newJSONRequest(http.MethodGet, "/api/v1/admin/issues/export?format=csv&status=active", nil), "official")
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) OVER() AS total_count")).
		WithArgs("active", maxExportRows, 0).
		WillReturnRows(listIssueRows())
	mock.ExpectQuery(regexp.QuoteMeta("FROM issue_images")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"issue_id", "url"}))

	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename="civic-issues-\d{8}-\d{6}\.csv"$`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "Broken streetlight")
}
