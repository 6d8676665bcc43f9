package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type statusTransition struct {
	IssueID      int
	Status       string
	Notes        *string
	DepartmentID *int
	AssigneeID   *string
	ChangedBy    string
}

type statusTransitionResult struct {
	IssueID        int
	PreviousStatus string
	NewStatus      string
	ReporterEmail  *string
	Notes          *string
}

func (r statusTransitionResult) changed() bool {
	return r.PreviousStatus != r.NewStatus
}

type statusUpdateRequest struct {
	Status       string  `json:"status"`
	ToStatus     string  `json:"to_status"`
	Notes        *string `json:"notes"`
	DepartmentID *int    `json:"department_id"`
	AssigneeID   *string `json:"assignee_id"`
}

// transitionIssueStatus moves an issue to a new status. The row lock, the
// status update, the history entry and the optional assignment commit together.
// Any of the four statuses may follow any other, including reopening closed issues.
func (a *App) transitionIssueStatus(ctx context.Context, t statusTransition) (*statusTransitionResult, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin status transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous string
	var reporterEmail sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status, reporter_email FROM issues WHERE id = $1 FOR UPDATE`, t.IssueID).Scan(&previous, &reporterEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("issue_not_found", "Issue not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock issue %d: %w", t.IssueID, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE issues SET status = $1, updated_at = NOW() WHERE id = $2`, t.Status, t.IssueID); err != nil {
		return nil, fmt.Errorf("update issue status: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (issue_id, from_status, to_status, notes, changed_by)
		VALUES ($1, $2, $3, $4, $5)
	`, t.IssueID, previous, t.Status, t.Notes, t.ChangedBy); err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}

	if t.DepartmentID != nil {
		if err := upsertAssignment(ctx, tx, t.IssueID, *t.DepartmentID, t.AssigneeID, t.ChangedBy, t.Notes); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status transition: %w", err)
	}

	return &statusTransitionResult{
		IssueID:        t.IssueID,
		PreviousStatus: previous,
		NewStatus:      t.Status,
		ReporterEmail:  nullStringPtr(reporterEmail),
		Notes:          t.Notes,
	}, nil
}

// upsertAssignment replaces the issue's current assignment.
func upsertAssignment(ctx context.Context, exec sqlExecer, issueID, departmentID int, assigneeID *string, assignedBy string, notes *string) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO assignments (issue_id, department_id, assignee_id, assigned_by, notes, assigned_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (issue_id) DO UPDATE SET
			department_id = EXCLUDED.department_id,
			assignee_id = EXCLUDED.assignee_id,
			assigned_by = EXCLUDED.assigned_by,
			notes = EXCLUDED.notes,
			assigned_at = NOW()
	`, issueID, departmentID, assigneeID, assignedBy, notes)
	if err == nil {
		return nil
	}
	if isForeignKeyViolation(err) {
		switch pgConstraintName(err) {
		case "assignments_issue_id_fkey":
			return notFound("issue_not_found", "Issue not found")
		case "assignments_assignee_id_fkey":
			return notFound("user_not_found", "Assignee not found")
		default:
			return notFound("department_not_found", "Department not found")
		}
	}
	return fmt.Errorf("upsert assignment for issue %d: %w", issueID, err)
}

func (a *App) updateIssueStatusHandler(c *gin.Context) {
	issueID, err := parseIssueID(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid status payload"))
		return
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = strings.TrimSpace(req.ToStatus)
	}
	if !containsString(issueStatuses, status) {
		writeAPIError(c, badRequest("invalid_status", "Status must be one of active, under_progress, under_review, closed"))
		return
	}

	notes, err := normalizeNotes(req.Notes)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if req.DepartmentID != nil && *req.DepartmentID < 1 {
		writeAPIError(c, badRequest("invalid_department", "Department must be a positive integer"))
		return
	}
	assigneeID, err := normalizeAssigneeID(req.AssigneeID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if assigneeID != nil && req.DepartmentID == nil {
		writeAPIError(c, badRequest("invalid_department", "An assignee requires a department"))
		return
	}

	auth, _ := getAuthContext(c)
	result, err := a.transitionIssueStatus(c.Request.Context(), statusTransition{
		IssueID:      issueID,
		Status:       status,
		Notes:        notes,
		DepartmentID: req.DepartmentID,
		AssigneeID:   assigneeID,
		ChangedBy:    auth.ProfileID,
	})
	if err != nil {
		writeAPIError(c, err)
		return
	}

	a.metrics.statusChanged(result.PreviousStatus, result.NewStatus)
	a.log.Info("issue status changed", "issue_id", issueID, "from", result.PreviousStatus, "to", result.NewStatus, "changed_by", auth.ProfileID)
	a.notifyStatusChange(*result)

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         fmt.Sprintf("Issue status updated to %s", status),
		"previous_status": result.PreviousStatus,
		"new_status":      result.NewStatus,
	})
}

func normalizeNotes(notes *string) (*string, error) {
	trimmed := trimmedOrNil(notes)
	if trimmed != nil && len([]rune(*trimmed)) > maxNotesLength {
		return nil, badRequest("invalid_notes", fmt.Sprintf("Notes must be at most %d characters", maxNotesLength))
	}
	return trimmed, nil
}

func normalizeAssigneeID(raw *string) (*string, error) {
	assigneeID := trimmedOrNil(raw)
	if assigneeID == nil {
		return nil, nil
	}
	if _, err := uuid.Parse(*assigneeID); err != nil {
		return nil, badRequest("invalid_assignee", "Assignee must be a user id")
	}
	return assigneeID, nil
}
