package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const issueColumns = `
	issues.id,
	issues.description,
	issues.latitude,
	issues.longitude,
	issues.status,
	issues.tags,
	issues.flagged,
	issues.reporter_id::text,
	issues.reporter_email,
	issues.address,
	issues.city,
	issues.created_at,
	issues.updated_at
`

const issueSelect = `SELECT` + issueColumns + `FROM issues`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanIssue reads the issueColumns projection followed by any extra destinations.
func scanIssue(row rowScanner, extra ...any) (*Issue, error) {
	var (
		issue         Issue
		tagsRaw       []byte
		reporterID    sql.NullString
		reporterEmail sql.NullString
		address       sql.NullString
		city          sql.NullString
		createdAt     time.Time
		updatedAt     time.Time
	)

	dest := []any{
		&issue.ID,
		&issue.Description,
		&issue.Latitude,
		&issue.Longitude,
		&issue.Status,
		&tagsRaw,
		&issue.Flagged,
		&reporterID,
		&reporterEmail,
		&address,
		&city,
		&createdAt,
		&updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	tags, err := parseTagsJSON(tagsRaw)
	if err != nil {
		return nil, fmt.Errorf("decode tags for issue %d: %w", issue.ID, err)
	}
	issue.Tags = tags
	issue.ReporterID = nullStringPtr(reporterID)
	issue.ReporterEmail = nullStringPtr(reporterEmail)
	issue.Address = nullStringPtr(address)
	issue.City = nullStringPtr(city)
	issue.CreatedAt = formatTimestamp(createdAt)
	issue.UpdatedAt = formatTimestamp(updatedAt)
	return &issue, nil
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func nullTimePtr(value sql.NullTime) *string {
	if !value.Valid {
		return nil
	}
	v := formatTimestamp(value.Time)
	return &v
}

// trimmedOrNil turns blank optional text into SQL NULL.
func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// placeholders renders "$start, $start+1, ..." for n positional arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func intsToArgs(values []int) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

// pgConstraintName reports which constraint a Postgres error refers to, if any.
func pgConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
