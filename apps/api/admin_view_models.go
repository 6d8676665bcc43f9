package main

import (
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	adminBasePath                  = "/admin"
	adminLoginPath                 = "/admin/login"
	adminDisplayTimestampLayout    = "2006-01-02 15:04"
	adminTemplateLoginPath         = "templates/admin/login.tmpl"
	adminTemplateIssuesPath        = "templates/admin/issues.tmpl"
	adminTemplateIssuePath         = "templates/admin/issue_detail.tmpl"
	adminTemplateMapPath           = "templates/admin/map.tmpl"
	adminTemplateDepartmentsPath   = "templates/admin/departments.tmpl"
	adminTemplateAnnouncementsPath = "templates/admin/announcements.tmpl"
	adminTemplateUsersPath         = "templates/admin/users.tmpl"
	adminTemplateStatsPath         = "templates/admin/stats.tmpl"
)

type adminBaseViewData struct {
	Title           string
	Auth            *AuthContext
	IsAdmin         bool
	CurrentPath     string
	ActiveNav       string
	ErrorMessage    string
	NoticeMessage   string
	IncludeMapLibre bool
}

type adminLoginViewData struct {
	adminBaseViewData
	Email string
	Next  string
}

type adminOption struct {
	Value    string
	Label    string
	Selected bool
}

type adminStatusActionView struct {
	Status string
	Label  string
	Next   string
}

type adminIssueFilters struct {
	Status     string
	Tag        string
	Department string
	Flagged    string
	Q          string
}

type adminIssueRowView struct {
	ID             int
	DetailURL      string
	Description    string
	StatusLabel    string
	StatusClass    string
	Flagged        bool
	TagsLabel      string
	VoteCount      int
	DepartmentName string
	CreatedAt      string
	PreviewURL     string
}

type adminIssuesViewData struct {
	adminBaseViewData
	Filters           adminIssueFilters
	StatusOptions     []adminOption
	DepartmentOptions []adminOption
	Issues            []adminIssueRowView
	Pagination        paginationView
	CurrentURL        string
	ExportQuery       string
}

type adminHistoryRowView struct {
	From      string
	To        string
	Notes     string
	ChangedBy string
	ChangedAt string
}

type adminIssueDetailViewData struct {
	adminBaseViewData
	IssueID           int
	BackURL           string
	ActionNext        string
	Description       string
	StatusLabel       string
	StatusClass       string
	StatusOptions     []adminOption
	StatusActions     []adminStatusActionView
	DepartmentOptions []adminOption
	Flagged           bool
	TagsLabel         string
	Location          string
	Lat               float64
	Lng               float64
	Address           string
	City              string
	ReporterEmail     string
	Votes             int
	Images            []IssueImage
	Assignment        string
	History           []adminHistoryRowView
	CreatedAt         string
}

type adminMapPoint struct {
	ID          int     `json:"id"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Status      string  `json:"status"`
	StatusLabel string  `json:"statusLabel"`
	Flagged     bool    `json:"flagged"`
	Description string  `json:"description"`
	Tags        string  `json:"tags"`
}

type adminMapViewData struct {
	adminBaseViewData
	MapData template.JS
}

type adminDepartmentsViewData struct {
	adminBaseViewData
	Departments []Department
}

type adminAnnouncementsViewData struct {
	adminBaseViewData
	Announcements     []Announcement
	TypeOptions       []adminOption
	PriorityOptions   []adminOption
	DepartmentOptions []adminOption
}

type adminUserRowView struct {
	Profile
	DisplayNameLabel string
	IsSelf           bool
	RoleOptions      []adminOption
}

type adminUsersViewData struct {
	adminBaseViewData
	Users       []adminUserRowView
	RoleFilter  string
	Q           string
	RoleOptions []adminOption
	Pagination  paginationView
}

type adminStatsViewData struct {
	adminBaseViewData
	Stats adminStatsView
}

type adminStatsView struct {
	TotalIssues       int              `json:"total_issues"`
	ActiveIssues      int              `json:"active_issues"`
	InProgressIssues  int              `json:"in_progress_issues"`
	UnderReviewIssues int              `json:"under_review_issues"`
	ClosedIssues      int              `json:"closed_issues"`
	FlaggedIssues     int              `json:"flagged_issues"`
	TotalVotes        int              `json:"total_votes"`
	IssuesByCategory  map[string]int   `json:"issues_by_category"`
	RecentTrend       []adminTrendView `json:"recent_issues_trend"`
}

type adminTrendView struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

func (f adminIssueFilters) queryString() string {
	params := url.Values{}
	if f.Status != "" {
		params.Set("status", f.Status)
	}
	if f.Tag != "" {
		params.Set("tag", f.Tag)
	}
	if f.Department != "" {
		params.Set("department", f.Department)
	}
	if f.Flagged != "" {
		params.Set("flagged", f.Flagged)
	}
	if f.Q != "" {
		params.Set("q", f.Q)
	}
	return params.Encode()
}

func (f adminIssueFilters) currentURL() string {
	query := f.queryString()
	if query == "" {
		return adminBasePath
	}
	return adminBasePath + "?" + query
}

// toStoreFilters drops values the dashboard cannot interpret instead of failing the page.
func (f adminIssueFilters) toStoreFilters() IssueFilters {
	filters := IssueFilters{Tag: normalizeTag(f.Tag), Query: strings.TrimSpace(f.Q)}
	if containsString(issueStatuses, f.Status) {
		filters.Status = f.Status
	}
	if id, err := strconv.Atoi(f.Department); err == nil && id > 0 {
		filters.DepartmentID = id
	}
	if flagged, err := strconv.ParseBool(f.Flagged); err == nil {
		filters.Flagged = &flagged
	}
	return filters
}

func statusOptions(selected string, includeAll bool) []adminOption {
	options := make([]adminOption, 0, len(issueStatuses)+1)
	if includeAll {
		options = append(options, adminOption{Value: "", Label: "All", Selected: selected == ""})
	}
	for _, status := range issueStatuses {
		options = append(options, adminOption{Value: status, Label: statusLabel(status), Selected: status == selected})
	}
	return options
}

func departmentOptions(departments []Department, selected string, emptyLabel string) []adminOption {
	options := make([]adminOption, 0, len(departments)+1)
	options = append(options, adminOption{Value: "", Label: emptyLabel, Selected: selected == ""})
	for _, dept := range departments {
		value := strconv.Itoa(dept.ID)
		options = append(options, adminOption{Value: value, Label: dept.Name, Selected: value == selected})
	}
	return options
}

func stringOptions(values []string, selected string) []adminOption {
	options := make([]adminOption, 0, len(values))
	for _, value := range values {
		options = append(options, adminOption{Value: value, Label: value, Selected: value == selected})
	}
	return options
}

func statusClass(status string) string {
	return "status-" + strings.ReplaceAll(status, "_", "-")
}

func buildAdminIssueRow(issue IssueSummary, currentURL string) adminIssueRowView {
	row := adminIssueRowView{
		ID:          issue.ID,
		DetailURL:   fmt.Sprintf("%s/issues/%d?next=%s", adminBasePath, issue.ID, url.QueryEscape(currentURL)),
		Description: truncateRunes(issue.Description, 120),
		StatusLabel: statusLabel(issue.Status),
		StatusClass: statusClass(issue.Status),
		Flagged:     issue.Flagged,
		TagsLabel:   strings.Join(issue.Tags, ", "),
		VoteCount:   issue.VoteCount,
		CreatedAt:   formatAdminTimestamp(issue.CreatedAt),
	}
	if issue.DepartmentName != nil {
		row.DepartmentName = *issue.DepartmentName
	}
	if len(issue.Images) > 0 {
		row.PreviewURL = issue.Images[0]
	}
	return row
}

func buildAdminHistoryRows(history []StatusHistoryEntry) []adminHistoryRowView {
	rows := make([]adminHistoryRowView, 0, len(history))
	for _, entry := range history {
		from := "-"
		if entry.FromStatus != nil {
			from = statusLabel(*entry.FromStatus)
		}
		rows = append(rows, adminHistoryRowView{
			From:      from,
			To:        statusLabel(entry.ToStatus),
			Notes:     valueOrDash(entry.Notes),
			ChangedBy: valueOrDash(entry.ChangedByName),
			ChangedAt: formatAdminTimestamp(entry.ChangedAt),
		})
	}
	return rows
}

func buildAdminStatusActions(currentStatus, next string) []adminStatusActionView {
	actions := make([]adminStatusActionView, 0, len(issueStatuses))
	for _, candidate := range issueStatuses {
		if candidate == currentStatus {
			continue
		}
		actions = append(actions, adminStatusActionView{Status: candidate, Label: "Mark " + strings.ToLower(statusLabel(candidate)), Next: next})
	}
	return actions
}

func formatAdminTimestamp(raw string) string {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return parsed.UTC().Format(adminDisplayTimestampLayout)
}

func valueOrDash(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return "-"
	}
	return *value
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
