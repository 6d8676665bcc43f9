package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type issueListQuery struct {
	Filters        IssueFilters
	Limit          int
	Offset         int
	IncludeHistory bool
	NewestFirst    bool
}

func (a *App) createIssue(ctx context.Context, payload IssueCreatePayload) (int, error) {
	var issueID int
	err := a.db.QueryRowContext(ctx, `
		INSERT INTO issues (description, latitude, longitude, status, tags, flagged, reporter_id, reporter_email)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7)
		RETURNING id
	`,
		payload.Description,
		payload.Latitude,
		payload.Longitude,
		tagsToJSON(payload.Tags),
		payload.Flagged,
		payload.ReporterID,
		payload.ReporterEmail,
	).Scan(&issueID)
	if err != nil {
		return 0, fmt.Errorf("insert issue: %w", err)
	}
	return issueID, nil
}

// insertIssueImages writes every image row in one statement.
func (a *App) insertIssueImages(ctx context.Context, issueID int, images []IssueImageInput) error {
	if len(images) == 0 {
		return nil
	}
	values := make([]string, 0, len(images))
	args := make([]any, 0, len(images)*4)
	for i, image := range images {
		base := i*4 + 1
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base, base+1, base+2, base+3))
		args = append(args, issueID, image.URL, image.Width, image.Height)
	}
	query := `INSERT INTO issue_images (issue_id, url, width, height) VALUES ` + strings.Join(values, ", ")
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert issue images: %w", err)
	}
	return nil
}

// routeIssue asks the routing procedure for the department owning the point
// and records it as the issue's assignment unless one already exists.
func (a *App) routeIssue(ctx context.Context, issueID int, lat, lng float64) (*int, error) {
	var departmentID sql.NullInt64
	err := a.db.QueryRowContext(ctx, `SELECT department_id FROM route_issue_by_point($1, $2)`, lng, lat).Scan(&departmentID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !departmentID.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("route issue: %w", err)
	}

	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO assignments (issue_id, department_id, notes)
		VALUES ($1, $2, 'Auto-assigned by location')
		ON CONFLICT (issue_id) DO NOTHING
	`, issueID, departmentID.Int64); err != nil {
		return nil, fmt.Errorf("insert routed assignment: %w", err)
	}
	return nullIntPtr(departmentID), nil
}

func (a *App) getIssueByID(ctx context.Context, issueID int) (*Issue, error) {
	issue, err := scanIssue(a.db.QueryRowContext(ctx, issueSelect+` WHERE issues.id = $1`, issueID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", issueID, err)
	}
	return issue, nil
}

func (a *App) listIssues(ctx context.Context, q issueListQuery) ([]IssueSummary, int, error) {
	where, args := buildIssueFilters(q.Filters, 1)
	order := "issues.flagged DESC, issues.created_at DESC, issues.id DESC"
	if q.NewestFirst {
		order = "issues.created_at DESC, issues.id DESC"
	}
	limitIndex := len(args) + 1
	args = append(args, q.Limit, q.Offset)

	query := `SELECT` + issueColumns + `,
			(SELECT COUNT(*) FROM votes WHERE votes.issue_id = issues.id) AS vote_count,
			assignments.department_id,
			departments.name,
			COUNT(*) OVER() AS total_count
		FROM issues
		LEFT JOIN assignments ON assignments.issue_id = issues.id
		LEFT JOIN departments ON departments.id = assignments.department_id
		WHERE 1=1` + where + `
		ORDER BY ` + order + fmt.Sprintf(`
		LIMIT $%d OFFSET $%d`, limitIndex, limitIndex+1)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	summaries := make([]IssueSummary, 0)
	total := 0
	for rows.Next() {
		var (
			voteCount      int
			departmentID   sql.NullInt64
			departmentName sql.NullString
		)
		issue, err := scanIssue(rows, &voteCount, &departmentID, &departmentName, &total)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, IssueSummary{
			Issue:          *issue,
			VoteCount:      voteCount,
			Images:         []string{},
			DepartmentID:   nullIntPtr(departmentID),
			DepartmentName: nullStringPtr(departmentName),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(summaries) == 0 {
		if q.Offset > 0 {
			// Past the last page the window count has no rows to ride on.
			countQuery := `SELECT COUNT(*)
				FROM issues
				LEFT JOIN assignments ON assignments.issue_id = issues.id
				LEFT JOIN departments ON departments.id = assignments.department_id
				WHERE 1=1` + where
			if err := a.db.QueryRowContext(ctx, countQuery, args[:limitIndex-1]...).Scan(&total); err != nil {
				return nil, 0, fmt.Errorf("count issues: %w", err)
			}
		}
		return summaries, total, nil
	}

	if err := a.attachIssueImages(ctx, summaries); err != nil {
		return nil, 0, err
	}
	if q.IncludeHistory {
		if err := a.attachIssueHistory(ctx, summaries); err != nil {
			return nil, 0, err
		}
	}
	return summaries, total, nil
}

func summaryIDs(summaries []IssueSummary) []int {
	ids := make([]int, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID
	}
	return ids
}

func (a *App) attachIssueImages(ctx context.Context, summaries []IssueSummary) error {
	ids := summaryIDs(summaries)
	rows, err := a.db.QueryContext(ctx,
		`SELECT issue_id, url FROM issue_images WHERE issue_id IN (`+placeholders(1, len(ids))+`) ORDER BY issue_id, id`,
		intsToArgs(ids)...,
	)
	if err != nil {
		return fmt.Errorf("list issue images: %w", err)
	}
	defer rows.Close()

	byIssue := make(map[int][]string, len(ids))
	for rows.Next() {
		var issueID int
		var url string
		if err := rows.Scan(&issueID, &url); err != nil {
			return err
		}
		byIssue[issueID] = append(byIssue[issueID], url)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range summaries {
		if urls, ok := byIssue[summaries[i].ID]; ok {
			summaries[i].Images = urls
		}
	}
	return nil
}

func (a *App) attachIssueHistory(ctx context.Context, summaries []IssueSummary) error {
	entries, err := a.listStatusHistory(ctx, summaryIDs(summaries)...)
	if err != nil {
		return err
	}
	byIssue := make(map[int][]StatusHistoryEntry, len(summaries))
	for _, entry := range entries {
		byIssue[entry.IssueID] = append(byIssue[entry.IssueID], entry)
	}
	for i := range summaries {
		history := byIssue[summaries[i].ID]
		if history == nil {
			history = []StatusHistoryEntry{}
		}
		summaries[i].History = &history
	}
	return nil
}

// listStatusHistory returns entries newest first, with the changer's display name.
func (a *App) listStatusHistory(ctx context.Context, issueIDs ...int) ([]StatusHistoryEntry, error) {
	if len(issueIDs) == 0 {
		return []StatusHistoryEntry{}, nil
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT
			status_history.id,
			status_history.issue_id,
			status_history.from_status,
			status_history.to_status,
			status_history.notes,
			status_history.changed_by::text,
			COALESCE(profiles.display_name, profiles.email),
			status_history.changed_at
		FROM status_history
		LEFT JOIN profiles ON profiles.id = status_history.changed_by
		WHERE status_history.issue_id IN (`+placeholders(1, len(issueIDs))+`)
		ORDER BY status_history.changed_at DESC, status_history.id DESC
	`, intsToArgs(issueIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	entries := make([]StatusHistoryEntry, 0)
	for rows.Next() {
		var (
			entry       StatusHistoryEntry
			fromStatus  sql.NullString
			notes       sql.NullString
			changedBy   sql.NullString
			changerName sql.NullString
			changedAt   time.Time
		)
		if err := rows.Scan(&entry.ID, &entry.IssueID, &fromStatus, &entry.ToStatus, &notes, &changedBy, &changerName, &changedAt); err != nil {
			return nil, err
		}
		entry.FromStatus = nullStringPtr(fromStatus)
		entry.Notes = nullStringPtr(notes)
		entry.ChangedBy = nullStringPtr(changedBy)
		entry.ChangedByName = nullStringPtr(changerName)
		entry.ChangedAt = formatTimestamp(changedAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (a *App) listNearbyIssues(ctx context.Context, lat, lng, radiusM float64) ([]NearbyIssue, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, description, status, latitude, longitude, flagged, created_at, distance_m
		FROM issues_nearby($1, $2, $3)
	`, lng, lat, radiusM)
	if err != nil {
		return nil, fmt.Errorf("issues nearby: %w", err)
	}
	defer rows.Close()

	nearby := make([]NearbyIssue, 0)
	for rows.Next() {
		var issue NearbyIssue
		var createdAt time.Time
		if err := rows.Scan(&issue.ID, &issue.Description, &issue.Status, &issue.Latitude, &issue.Longitude, &issue.Flagged, &createdAt, &issue.DistanceM); err != nil {
			return nil, err
		}
		issue.CreatedAt = formatTimestamp(createdAt)
		nearby = append(nearby, issue)
	}
	return nearby, rows.Err()
}

func (a *App) getIssueDetails(ctx context.Context, issueID int) (*IssueDetails, error) {
	issue, err := a.getIssueByID(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, notFound("issue_not_found", "Issue not found")
	}

	images, err := a.listIssueImages(ctx, issueID)
	if err != nil {
		return nil, err
	}
	votes, err := a.countVotes(ctx, issueID)
	if err != nil {
		return nil, err
	}
	history, err := a.listStatusHistory(ctx, issueID)
	if err != nil {
		return nil, err
	}
	assignment, err := a.getAssignment(ctx, issueID)
	if err != nil {
		return nil, err
	}

	return &IssueDetails{
		Issue:      *issue,
		Images:     images,
		Votes:      votes,
		History:    history,
		Assignment: assignment,
	}, nil
}

func (a *App) listIssueImages(ctx context.Context, issueID int) ([]IssueImage, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, issue_id, url, width, height, created_at
		FROM issue_images
		WHERE issue_id = $1
		ORDER BY id
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue images: %w", err)
	}
	defer rows.Close()

	images := make([]IssueImage, 0)
	for rows.Next() {
		var image IssueImage
		var width, height sql.NullInt64
		var createdAt time.Time
		if err := rows.Scan(&image.ID, &image.IssueID, &image.URL, &width, &height, &createdAt); err != nil {
			return nil, err
		}
		image.Width = nullIntPtr(width)
		image.Height = nullIntPtr(height)
		image.CreatedAt = formatTimestamp(createdAt)
		images = append(images, image)
	}
	return images, rows.Err()
}

func (a *App) countVotes(ctx context.Context, issueID int) (int, error) {
	var count int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE issue_id = $1`, issueID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return count, nil
}

func (a *App) getAssignment(ctx context.Context, issueID int) (*Assignment, error) {
	var (
		assignment     Assignment
		departmentName sql.NullString
		assigneeID     sql.NullString
		assigneeName   sql.NullString
		assignedBy     sql.NullString
		notes          sql.NullString
		assignedAt     time.Time
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT
			assignments.issue_id,
			assignments.department_id,
			departments.name,
			assignments.assignee_id::text,
			COALESCE(assignee.display_name, assignee.email),
			assignments.assigned_by::text,
			assignments.notes,
			assignments.assigned_at
		FROM assignments
		LEFT JOIN departments ON departments.id = assignments.department_id
		LEFT JOIN profiles assignee ON assignee.id = assignments.assignee_id
		WHERE assignments.issue_id = $1
	`, issueID).Scan(
		&assignment.IssueID,
		&assignment.DepartmentID,
		&departmentName,
		&assigneeID,
		&assigneeName,
		&assignedBy,
		&notes,
		&assignedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	assignment.DepartmentName = nullStringPtr(departmentName)
	assignment.AssigneeID = nullStringPtr(assigneeID)
	assignment.AssigneeName = nullStringPtr(assigneeName)
	assignment.AssignedBy = nullStringPtr(assignedBy)
	assignment.Notes = nullStringPtr(notes)
	assignment.AssignedAt = formatTimestamp(assignedAt)
	return &assignment, nil
}

// recordVote inserts one vote and returns the new total. Duplicates are
// rejected by the unique indexes on (issue, voter) rather than a pre-check.
func (a *App) recordVote(ctx context.Context, issueID int, voterID *string, voterIPHash string) (int, error) {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO votes (issue_id, voter_id, voter_ip_hash)
		VALUES ($1, $2, $3)
	`, issueID, voterID, voterIPHash)
	switch {
	case isUniqueViolation(err):
		return 0, conflict("already_voted", "You have already voted on this issue")
	case isForeignKeyViolation(err):
		return 0, notFound("issue_not_found", "Issue not found")
	case err != nil:
		return 0, fmt.Errorf("insert vote: %w", err)
	}
	return a.countVotes(ctx, issueID)
}

func (a *App) updateIssueAddress(ctx context.Context, issueID int, result *GeocodeResult) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE issues SET address = $1, city = $2, updated_at = NOW()
		WHERE id = $3
	`, trimmedOrNil(&result.Address), trimmedOrNil(&result.City), issueID)
	if err != nil {
		return fmt.Errorf("update issue address: %w", err)
	}
	return nil
}
