package main

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"testing"

	"civicreport/libs/mailer"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailProvider struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (p *recordingMailProvider) Name() string { return "recording" }

func (p *recordingMailProvider) Send(ctx context.Context, msg mailer.Message) (mailer.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return mailer.SendResult{}, p.err
	}
	p.sent = append(p.sent, msg)
	return mailer.SendResult{ProviderMessageID: "msg-1"}, nil
}

func expectStatusLock(mock sqlmock.Sqlmock, issueID int, current string, reporterEmail any) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, reporter_email FROM issues WHERE id = $1 FOR UPDATE")).
		WithArgs(issueID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "reporter_email"}).AddRow(current, reporterEmail))
}

func TestUpdateIssueStatusValidatesBeforeReading(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	tests := []struct {
		name string
		body any
	}{
		{"unknown status", map[string]any{"status": "resolved"}},
		{"empty status", map[string]any{}},
		{"assignee without department", map[string]any{"status": "closed", "assignee_id": testOfficialID}},
		{"bad assignee", map[string]any{"status": "closed", "department_id": 2, "assignee_id": "nobody"}},
		{"bad department", map[string]any{"status": "closed", "department_id": 0}},
		{"malformed", "{"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := asRole(t, app, mock, newJSONRequest(http.MethodPatch, "/api/v1/issues/7/status", tc.body), "official")
			rec := serve(router, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestUpdateIssueStatusForbiddenForCitizens(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPatch, "/api/v1/issues/7/status", map[string]any{"status": "closed"}), "citizen")
	rec := serve(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateIssueStatusNotFound(t *testing.T) {
	app, mock := newTestApp(t)
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPut, "/api/v1/admin/issues/77/status", map[string]any{"status": "closed"}), "admin")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, reporter_email FROM issues WHERE id = $1 FOR UPDATE")).
		WithArgs(77).
		WillReturnRows(sqlmock.NewRows([]string{"status", "reporter_email"}))
	mock.ExpectRollback()

	rec := serve(router, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "issue_not_found", decodeJSON(t, rec)["error"])
}

func TestUpdateIssueStatusCommitsAndNotifiesReporter(t *testing.T) {
	app, mock := newTestApp(t)
	provider := &recordingMailProvider{}
	app.mailer = mailer.New(provider, "noreply@civic.example")
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPatch, "/api/v1/issues/7/status", map[string]any{
		"to_status":     "under_progress",
		"notes":         "  Crew scheduled  ",
		"department_id": 2,
		"assignee_id":   testOfficialID,
	}), "official")

	mock.ExpectBegin()
	expectStatusLock(mock, 7, "active", "reporter@example.com")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET status = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs("under_progress", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO status_history")).
		WithArgs(7, "active", "under_progress", "Crew scheduled", testOfficialID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO assignments (issue_id, department_id, assignee_id, assigned_by, notes, assigned_at)")).
		WithArgs(7, 2, testOfficialID, testOfficialID, "Crew scheduled").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "active", body["previous_status"])
	assert.Equal(t, "under_progress", body["new_status"])

	require.Len(t, provider.sent, 1)
	assert.Equal(t, []string{"reporter@example.com"}, provider.sent[0].To)
	assert.Contains(t, provider.sent[0].Subject, "#7")
	assert.Contains(t, provider.sent[0].Text, "Crew scheduled")
}

func TestUpdateIssueStatusSameStatusSkipsNotification(t *testing.T) {
	app, mock := newTestApp(t)
	provider := &recordingMailProvider{}
	app.mailer = mailer.New(provider, "noreply@civic.example")
	router := newTestRouter(t, app)

	req := asRole(t, app, mock, newJSONRequest(http.MethodPatch, "/api/v1/issues/7/status", map[string]any{"status": "closed"}), "admin")
	mock.ExpectBegin()
	expectStatusLock(mock, 7, "closed", "reporter@example.com")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET status")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO status_history")).
		WithArgs(7, "closed", "closed", nil, testAdminID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, provider.sent)
}

func TestTransitionIssueStatusRollsBackWhenHistoryFails(t *testing.T) {
	app, mock := newTestApp(t)

	mock.ExpectBegin()
	expectStatusLock(mock, 7, "active", nil)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET status")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO status_history")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := app.transitionIssueStatus(context.Background(), statusTransition{IssueID: 7, Status: "closed", ChangedBy: testAdminID})
	require.Error(t, err)
	var apiErr *apiError
	assert.False(t, errors.As(err, &apiErr))
}

func TestTransitionIssueStatusUnknownDepartment(t *testing.T) {
	app, mock := newTestApp(t)
	departmentID := 99

	mock.ExpectBegin()
	expectStatusLock(mock, 7, "active", nil)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE issues SET status")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO status_history")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO assignments")).
		WillReturnError(pgError(pgForeignKeyViolation, "assignments_department_id_fkey"))
	mock.ExpectRollback()

	_, err := app.transitionIssueStatus(context.Background(), statusTransition{
		IssueID:      7,
		Status:       "under_review",
		DepartmentID: &departmentID,
		ChangedBy:    testAdminID,
	})
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "department_not_found", apiErr.Code)
}

func TestNormalizeNotes(t *testing.T) {
	notes, err := normalizeNotes(stringPtr("   "))
	require.NoError(t, err)
	assert.Nil(t, notes)

	notes, err = normalizeNotes(stringPtr(" fixed "))
	require.NoError(t, err)
	assert.Equal(t, "fixed", *notes)

	long := make([]rune, maxNotesLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = normalizeNotes(stringPtr(string(long)))
	assert.Error(t, err)
}
