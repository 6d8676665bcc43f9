package main

import (
	"fmt"
	"strings"
)

// IssueFilters narrows issue listings. Zero values mean "no filter".
type IssueFilters struct {
	Status        string
	Tag           string
	DepartmentID  int
	Flagged       *bool
	Query         string
	ReporterID    string
	ReporterEmail string
}

// buildIssueFilters renders the AND-clauses for f with placeholders numbered from argIndex.
func buildIssueFilters(f IssueFilters, argIndex int) (string, []any) {
	var where strings.Builder
	args := make([]any, 0)

	if f.Status != "" {
		fmt.Fprintf(&where, " AND issues.status = $%d", argIndex)
		args = append(args, f.Status)
		argIndex++
	}
	if f.Tag != "" {
		fmt.Fprintf(&where, " AND issues.tags ? $%d", argIndex)
		args = append(args, f.Tag)
		argIndex++
	}
	if f.DepartmentID > 0 {
		fmt.Fprintf(&where, " AND EXISTS (SELECT 1 FROM assignments WHERE assignments.issue_id = issues.id AND assignments.department_id = $%d)", argIndex)
		args = append(args, f.DepartmentID)
		argIndex++
	}
	if f.Flagged != nil {
		fmt.Fprintf(&where, " AND issues.flagged = $%d", argIndex)
		args = append(args, *f.Flagged)
		argIndex++
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		fmt.Fprintf(&where, ` AND issues.description ILIKE $%d ESCAPE '\'`, argIndex)
		args = append(args, "%"+escapeLikePattern(q)+"%")
		argIndex++
	}
	switch {
	case f.ReporterID != "" && f.ReporterEmail != "":
		fmt.Fprintf(&where, " AND (issues.reporter_id = $%d::uuid OR lower(issues.reporter_email) = lower($%d))", argIndex, argIndex+1)
		args = append(args, f.ReporterID, f.ReporterEmail)
	case f.ReporterID != "":
		fmt.Fprintf(&where, " AND issues.reporter_id = $%d::uuid", argIndex)
		args = append(args, f.ReporterID)
	case f.ReporterEmail != "":
		fmt.Fprintf(&where, " AND lower(issues.reporter_email) = lower($%d)", argIndex)
		args = append(args, f.ReporterEmail)
	}

	return where.String(), args
}

func escapeLikePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
