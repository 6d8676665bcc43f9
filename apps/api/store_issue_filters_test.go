package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildIssueFilters(t *testing.T) {
	flagged := true
	tests := []struct {
		name      string
		filters   IssueFilters
		start     int
		wantParts []string
		wantArgs  []any
	}{
		{
			name:     "No filters",
			filters:  IssueFilters{},
			start:    1,
			wantArgs: []any{},
		},
		{
			name: "Public feed filters",
			filters: IssueFilters{
				Status:       "active",
				Tag:          "streetlight",
				DepartmentID: 3,
				Flagged:      &flagged,
			},
			start: 1,
			wantParts: []string{
				"issues.status = $1",
				"issues.tags ? $2",
				"assignments.department_id = $3",
				"issues.flagged = $4",
			},
			wantArgs: []any{"active", "streetlight", 3, true},
		},
		{
			name:      "Search escapes wildcards",
			filters:   IssueFilters{Query: "50%_off"},
			start:     3,
			wantParts: []string{"issues.description ILIKE $3"},
			wantArgs:  []any{`%50\%\_off%`},
		},
		{
			name: "Reporter scope matches id or email",
			filters: IssueFilters{
				Status:        "closed",
				ReporterID:    "6f1c1f0e-4a52-4d8c-9c55-7b1f0f1f1a01",
				ReporterEmail: "citizen@example.com",
			},
			start: 1,
			wantParts: []string{
				"issues.status = $1",
				"issues.reporter_id = $2::uuid OR lower(issues.reporter_email) = lower($3)",
			},
			wantArgs: []any{"closed", "6f1c1f0e-4a52-4d8c-9c55-7b1f0f1f1a01", "citizen@example.com"},
		},
		{
			name:      "Reporter email only",
			filters:   IssueFilters{ReporterEmail: "citizen@example.com"},
			start:     1,
			wantParts: []string{"lower(issues.reporter_email) = lower($1)"},
			wantArgs:  []any{"citizen@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildIssueFilters(tt.filters, tt.start)
			for _, part := range tt.wantParts {
				if !strings.Contains(where, part) {
					t.Fatalf("where clause missing %q in %q", part, where)
				}
			}
			if len(tt.wantParts) == 0 {
				assert.Empty(t, where)
			}
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
