package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// bulkOperation is one of the admin mutations that can be applied to many
// issues at once. Each variant is decoded and validated before any write.
type bulkOperation interface {
	operationName() string
}

type bulkUpdateStatus struct {
	Status string
	Notes  *string
}

type bulkAssignDepartment struct {
	DepartmentID int
	AssigneeID   *string
	Notes        *string
}

type bulkFlagPriority struct {
	Flagged bool
}

type bulkAddTags struct {
	Tags []string
}

type bulkRemoveTags struct {
	Tags []string
}

func (bulkUpdateStatus) operationName() string     { return "update_status" }
func (bulkAssignDepartment) operationName() string { return "assign_department" }
func (bulkFlagPriority) operationName() string     { return "flag_priority" }
func (bulkAddTags) operationName() string          { return "add_tags" }
func (bulkRemoveTags) operationName() string       { return "remove_tags" }

type bulkRequest struct {
	Operation string          `json:"operation"`
	IssueIDs  []int           `json:"issue_ids"`
	Data      json.RawMessage `json:"data"`
}

type bulkResults struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

func (r *bulkResults) succeed() {
	r.Success++
}

func (r *bulkResults) fail(issueID int, message string) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("Issue %d: %s", issueID, message))
}

func decodeBulkOperation(name string, data json.RawMessage) (bulkOperation, error) {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}

	switch strings.TrimSpace(name) {
	case "update_status":
		var body struct {
			Status string  `json:"status"`
			Notes  *string `json:"notes"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, badRequest("invalid_payload", "Invalid data for update_status")
		}
		status := strings.TrimSpace(body.Status)
		if !containsString(issueStatuses, status) {
			return nil, badRequest("invalid_status", "Status must be one of active, under_progress, under_review, closed")
		}
		notes, err := normalizeNotes(body.Notes)
		if err != nil {
			return nil, err
		}
		return bulkUpdateStatus{Status: status, Notes: notes}, nil

	case "assign_department":
		var body struct {
			DepartmentID int     `json:"department_id"`
			AssigneeID   *string `json:"assignee_id"`
			Notes        *string `json:"notes"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, badRequest("invalid_payload", "Invalid data for assign_department")
		}
		if body.DepartmentID < 1 {
			return nil, badRequest("invalid_department", "department_id is required")
		}
		assigneeID, err := normalizeAssigneeID(body.AssigneeID)
		if err != nil {
			return nil, err
		}
		notes, err := normalizeNotes(body.Notes)
		if err != nil {
			return nil, err
		}
		return bulkAssignDepartment{DepartmentID: body.DepartmentID, AssigneeID: assigneeID, Notes: notes}, nil

	case "flag_priority":
		var body struct {
			Flagged *bool `json:"flagged"`
		}
		if err := json.Unmarshal(data, &body); err != nil || body.Flagged == nil {
			return nil, badRequest("invalid_payload", "flag_priority requires a boolean flagged value")
		}
		return bulkFlagPriority{Flagged: *body.Flagged}, nil

	case "add_tags", "remove_tags":
		var body struct {
			Tags []string `json:"tags"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, badRequest("invalid_payload", "Invalid data for "+name)
		}
		if len(body.Tags) == 0 || len(body.Tags) > maxTagCount {
			return nil, badRequest("invalid_tags", fmt.Sprintf("Between 1 and %d tags are required", maxTagCount))
		}
		tags, err := normalizeTags(body.Tags)
		if err != nil {
			return nil, err
		}
		if name == "add_tags" {
			return bulkAddTags{Tags: tags}, nil
		}
		return bulkRemoveTags{Tags: tags}, nil
	}

	return nil, badRequest("invalid_operation", "Unknown bulk operation")
}

// dedupeIssueIDs collapses repeated ids, keeping first occurrence order.
func dedupeIssueIDs(ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, badRequest("invalid_issue_ids", "issue_ids must not be empty")
	}
	unique := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id < 1 {
			return nil, badRequest("invalid_issue_ids", "issue_ids must be positive integers")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) > maxBulkIssueCount {
		return nil, badRequest("invalid_issue_ids", fmt.Sprintf("At most %d issues can be updated at once", maxBulkIssueCount))
	}
	return unique, nil
}

// runBulkOperation applies op to every id in order. Item failures are
// recorded and never stop the remaining items.
func (a *App) runBulkOperation(ctx context.Context, op bulkOperation, issueIDs []int, actorID string) bulkResults {
	results := bulkResults{Errors: []string{}}

	switch op := op.(type) {
	case bulkFlagPriority:
		matched, err := a.setIssuesFlagged(ctx, issueIDs, op.Flagged)
		if err != nil {
			for _, id := range issueIDs {
				results.fail(id, a.bulkItemMessage(id, err))
			}
			return results
		}
		for _, id := range issueIDs {
			if _, ok := matched[id]; ok {
				results.succeed()
			} else {
				results.fail(id, "not found")
			}
		}
		return results
	}

	for _, id := range issueIDs {
		if err := ctx.Err(); err != nil {
			results.fail(id, err.Error())
			continue
		}
		if err := a.applyBulkItem(ctx, op, id, actorID); err != nil {
			results.fail(id, a.bulkItemMessage(id, err))
			continue
		}
		results.succeed()
	}
	return results
}

func (a *App) applyBulkItem(ctx context.Context, op bulkOperation, issueID int, actorID string) error {
	switch op := op.(type) {
	case bulkUpdateStatus:
		result, err := a.transitionIssueStatus(ctx, statusTransition{
			IssueID:   issueID,
			Status:    op.Status,
			Notes:     op.Notes,
			ChangedBy: actorID,
		})
		if err != nil {
			return err
		}
		a.metrics.statusChanged(result.PreviousStatus, result.NewStatus)
		a.notifyStatusChange(*result)
		return nil
	case bulkAssignDepartment:
		return upsertAssignment(ctx, a.db, issueID, op.DepartmentID, op.AssigneeID, actorID, op.Notes)
	case bulkAddTags:
		return a.editIssueTags(ctx, issueID, func(current []string) []string {
			return mergeTags(current, op.Tags)
		})
	case bulkRemoveTags:
		return a.editIssueTags(ctx, issueID, func(current []string) []string {
			return subtractTags(current, op.Tags)
		})
	}
	return fmt.Errorf("unsupported bulk operation %T", op)
}

// bulkItemMessage renders an item failure. Storage errors are logged and
// reported generically so the response never carries driver detail.
func (a *App) bulkItemMessage(issueID int, err error) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err.Error()
	}
	a.log.Error("bulk item failed", "issue_id", issueID, "err", err)
	return "internal error"
}

func (a *App) bulkIssuesHandler(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid bulk payload"))
		return
	}

	op, err := decodeBulkOperation(req.Operation, req.Data)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	issueIDs, err := dedupeIssueIDs(req.IssueIDs)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	auth, _ := getAuthContext(c)
	results := a.runBulkOperation(c.Request.Context(), op, issueIDs, auth.ProfileID)
	a.metrics.bulkCompleted(op.operationName(), results.Success, results.Failed)
	a.log.Info("bulk operation completed",
		"operation", op.operationName(),
		"issues", len(issueIDs),
		"succeeded", results.Success,
		"failed", results.Failed,
		"actor", auth.ProfileID,
	)

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   fmt.Sprintf("Bulk operation completed: %d succeeded, %d failed", results.Success, results.Failed),
		"results":   results,
		"issues":    len(issueIDs),
		"submitted": len(req.IssueIDs),
	})
}
