package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

// setIssuesFlagged updates every listed issue in one statement and returns
// the ids that matched a row.
func (a *App) setIssuesFlagged(ctx context.Context, issueIDs []int, flagged bool) (map[int]struct{}, error) {
	args := append([]any{flagged}, intsToArgs(issueIDs)...)
	rows, err := a.db.QueryContext(ctx, `
		UPDATE issues SET flagged = $1, updated_at = NOW()
		WHERE id IN (`+placeholders(2, len(issueIDs))+`)
		RETURNING id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("flag issues: %w", err)
	}
	defer rows.Close()

	matched := make(map[int]struct{}, len(issueIDs))
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		matched[id] = struct{}{}
	}
	return matched, rows.Err()
}

// editIssueTags rewrites an issue's tags under a row lock. Nothing is written
// when edit leaves the tag list unchanged.
func (a *App) editIssueTags(ctx context.Context, issueID int, edit func(current []string) []string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tag edit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT tags FROM issues WHERE id = $1 FOR UPDATE`, issueID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("issue_not_found", "Issue not found")
	}
	if err != nil {
		return fmt.Errorf("lock issue %d tags: %w", issueID, err)
	}

	current, err := parseTagsJSON(raw)
	if err != nil {
		return fmt.Errorf("decode tags for issue %d: %w", issueID, err)
	}
	updated := edit(current)
	if slices.Equal(current, updated) {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE issues SET tags = $1, updated_at = NOW() WHERE id = $2`, tagsToJSON(updated), issueID); err != nil {
		return fmt.Errorf("update issue tags: %w", err)
	}
	return tx.Commit()
}
