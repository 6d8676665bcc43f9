package main

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

const (
	testSigningSecret = "0123456789abcdef"
	testAdminID       = "6f1c1f0e-4a52-4d8c-9c55-7b1f0f1f1a01"
	testOfficialID    = "0b7c5a44-2d0e-4c41-9a0b-3e2f7d8c9a02"
	testCitizenID     = "9d2e4f60-8b1a-4f3c-a5d6-7e8f9a0b1c03"
)

var (
	testCreatedAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	testUpdatedAt = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
)

// newTestApp returns an App backed by sqlmock. Background tasks run inline.
func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		_ = db.Close()
	})

	app := &App{
		cfg: &Config{
			Env:              "test",
			AppSigningSecret: testSigningSecret,
			PublicBaseURL:    "https://civic.example",
		},
		db:             db,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:        newAppMetrics(),
		adminTemplates: newAdminTemplateRenderer("test"),
		runBackground: func(task func(ctx context.Context)) {
			task(context.Background())
		},
	}
	return app, mock
}

func newTestRouter(t *testing.T, app *App) *gin.Engine {
	t.Helper()
	router, err := app.buildRouter()
	require.NoError(t, err)
	return router
}

func testRoleID(role string) string {
	switch role {
	case "admin":
		return testAdminID
	case "official":
		return testOfficialID
	}
	return testCitizenID
}

// expectAuthLookup registers the profile lookup performed for a session.
func expectAuthLookup(mock sqlmock.Sqlmock, profileID, role string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id::text, email, role, display_name, department_id")).
		WithArgs(profileID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role", "display_name", "department_id"}).
			AddRow(profileID, role+"@example.com", role, nil, nil))
}

func sessionToken(t *testing.T, app *App, profileID string) string {
	t.Helper()
	token, err := app.createSessionToken(profileID, "user@example.com")
	require.NoError(t, err)
	return token
}

func newJSONRequest(method, target string, body any) *http.Request {
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		encoded, _ := json.Marshal(v)
		reader = strings.NewReader(string(encoded))
	}
	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// asRole attaches a bearer session for role and registers its lookup.
func asRole(t *testing.T, app *App, mock sqlmock.Sqlmock, req *http.Request, role string) *http.Request {
	t.Helper()
	profileID := testRoleID(role)
	expectAuthLookup(mock, profileID, role)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t, app, profileID))
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func pgError(code, constraint string) error {
	return &pgconn.PgError{Code: code, ConstraintName: constraint}
}

var issueColumnNames = []string{
	"id", "description", "latitude", "longitude", "status", "tags", "flagged",
	"reporter_id", "reporter_email", "address", "city", "created_at", "updated_at",
}

func issueRowValues(id int, status string, tags string, reporterEmail driver.Value) []driver.Value {
	return []driver.Value{
		id, "Broken streetlight", 52.37, 4.89, status, []byte(tags), false,
		testCitizenID, reporterEmail, nil, nil, testCreatedAt, testUpdatedAt,
	}
}
