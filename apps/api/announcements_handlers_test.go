package main

import (
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnouncementRequest(t *testing.T) {
	input, err := parseAnnouncementRequest(announcementRequest{Title: " Road works ", Content: "Main St closed"})
	require.NoError(t, err)
	assert.Equal(t, "Road works", input.Title)
	assert.Equal(t, "general", input.Type)
	assert.Equal(t, "normal", input.Priority)
	assert.Nil(t, input.ExpiresAt)

	input, err = parseAnnouncementRequest(announcementRequest{
		Title:     "Outage",
		Content:   "Portal offline tonight",
		Type:      "Offline",
		Priority:  "URGENT",
		ExpiresAt: stringPtr("2026-04-01T06:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, "offline", input.Type)
	assert.Equal(t, "urgent", input.Priority)
	require.NotNil(t, input.ExpiresAt)
	assert.True(t, input.ExpiresAt.Equal(time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)))

	zero := 0
	tests := map[string]struct {
		req  announcementRequest
		code string
	}{
		"missing content": {announcementRequest{Title: "x"}, "invalid_payload"},
		"bad type":        {announcementRequest{Title: "x", Content: "y", Type: "party"}, "invalid_type"},
		"bad priority":    {announcementRequest{Title: "x", Content: "y", Priority: "critical"}, "invalid_priority"},
		"bad department":  {announcementRequest{Title: "x", Content: "y", DepartmentID: &zero}, "invalid_department"},
		"bad expiry":      {announcementRequest{Title: "x", Content: "y", ExpiresAt: stringPtr("tomorrow")}, "invalid_expires_at"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseAnnouncementRequest(tc.req)
			var apiErr *apiError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.code, apiErr.Code)
		})
	}
}

var announcementColumns = []string{
	"id", "title", "content", "type", "priority", "department_id", "department_name",
	"is_active", "expires_at", "created_by", "creator_name", "created_at", "updated_at",
}

func TestCreateAnnouncement(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPost, "/api/v1/admin/announcements", map[string]any{
		"title":         "Leaf collection",
		"content":       "Starts Monday",
		"department_id": 2,
	}), "official")
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO announcements")).
		WithArgs("Leaf collection", "Starts Monday", "general", "normal", 2, nil, testOfficialID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE announcements.id = $1")).
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows(announcementColumns).AddRow(
			11, "Leaf collection", "Starts Monday", "general", "normal", 2, "Sanitation",
			true, nil, testOfficialID, "Olive", testCreatedAt, testCreatedAt,
		))

	rec := serve(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	assert.EqualValues(t, 11, body["id"])
	assert.Equal(t, "Sanitation", body["department_name"])
	assert.Equal(t, "Olive", body["created_by_name"])
}

func TestToggleAnnouncement(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPatch, "/api/v1/admin/announcements/4", map[string]any{}), "official")
	rec := serve(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = asRole(t, app, mock, newJSONRequest(http.MethodPatch, "/api/v1/admin/announcements/4", map[string]any{"is_active": false}), "official")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE announcements SET is_active = $1")).
		WithArgs(false, 4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rec = serve(router, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "announcement_not_found", decodeJSON(t, rec)["error"])
}

func TestDeleteAnnouncementRequiresAdmin(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodDelete, "/api/v1/admin/announcements/4", nil), "official")
	rec := serve(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = asRole(t, app, mock, newJSONRequest(http.MethodDelete, "/api/v1/admin/announcements/4", nil), "admin")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM announcements WHERE id = $1")).
		WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rec = serve(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicAnnouncementsHideCreator(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE announcements.is_active")).
		WithArgs(publicAnnouncementLimit).
		WillReturnRows(sqlmock.NewRows(announcementColumns).AddRow(
			3, "Water main", "Boil water", "alert", "urgent", nil, nil,
			true, testUpdatedAt, testAdminID, "Ada", testCreatedAt, testCreatedAt,
		))

	rec := serve(router, newJSONRequest(http.MethodGet, "/api/v1/announcements", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "created_by")
	assert.Contains(t, rec.Body.String(), `"priority":"urgent"`)
}
