package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (a *App) registerAdminRoutes(r *gin.Engine) error {
	staticFS, err := adminStaticFileSystem(a.cfg.Env)
	if err != nil {
		return err
	}
	r.StaticFS("/admin/static", staticFS)

	r.GET("/admin/login", a.adminLoginPageHandler)
	r.POST("/admin/login", a.adminLoginSubmitHandler)
	r.POST("/admin/logout", a.adminLogoutSubmitHandler)

	adminOnly := a.requireRole("admin")
	admin := r.Group(adminBasePath)
	admin.Use(a.requireStaffHTML())
	{
		admin.GET("", a.adminIssuesPageHandler)
		admin.GET("/", a.adminIssuesPageHandler)
		admin.POST("/issues/bulk", a.adminBulkSubmitHandler)
		admin.GET("/issues/:id", a.adminIssuePageHandler)
		admin.POST("/issues/:id/status", a.adminIssueStatusSubmitHandler)
		admin.GET("/map", a.adminMapPageHandler)
		admin.GET("/stats", a.adminStatsPageHandler)

		admin.GET("/departments", a.adminDepartmentsPageHandler)
		admin.POST("/departments", adminOnly, a.adminDepartmentCreateSubmitHandler)
		admin.POST("/departments/:id/delete", adminOnly, a.adminDepartmentDeleteSubmitHandler)
		admin.POST("/departments/:id/categories", a.adminCategoryAddSubmitHandler)
		admin.POST("/departments/:id/categories/delete", a.adminCategoryDeleteSubmitHandler)

		admin.GET("/announcements", a.adminAnnouncementsPageHandler)
		admin.POST("/announcements", a.adminAnnouncementCreateSubmitHandler)
		admin.POST("/announcements/:id/toggle", a.adminAnnouncementToggleSubmitHandler)

		admin.GET("/users", adminOnly, a.adminUsersPageHandler)
		admin.POST("/users/:id", adminOnly, a.adminUserUpdateSubmitHandler)
		admin.POST("/users/:id/delete", adminOnly, a.adminUserDeleteSubmitHandler)
	}
	return nil
}

func (a *App) adminLoginPageHandler(c *gin.Context) {
	if auth, err := a.authenticateRequest(c); err == nil && auth.IsStaff() {
		c.Redirect(http.StatusSeeOther, adminBasePath)
		return
	}

	data := adminLoginViewData{
		adminBaseViewData: a.adminBaseData(c, "Sign in", ""),
		Next:              sanitizeAdminRedirectTarget(c.Query("next")),
	}
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateLoginPath, data)
}

func (a *App) adminLoginSubmitHandler(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	next := sanitizeAdminRedirectTarget(c.PostForm("next"))

	renderFailure := func(status int, message string) {
		base := a.adminBaseData(c, "Sign in", "")
		base.ErrorMessage = message
		a.renderAdminTemplate(c, status, adminTemplateLoginPath, adminLoginViewData{adminBaseViewData: base, Email: email, Next: next})
	}

	profileID, err := a.authenticateCredentials(c.Request.Context(), email, password)
	if err != nil {
		a.metrics.loginAttempt(false)
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			renderFailure(apiErr.Status, "Invalid email or password.")
			return
		}
		a.log.Error("dashboard login failed", "err", err)
		renderFailure(http.StatusInternalServerError, "Sign in failed, please try again.")
		return
	}

	auth, err := a.loadAuthContext(c.Request.Context(), profileID)
	if err != nil || auth == nil {
		a.metrics.loginAttempt(false)
		renderFailure(http.StatusUnauthorized, "Invalid email or password.")
		return
	}
	if !auth.IsStaff() {
		a.metrics.loginAttempt(false)
		renderFailure(http.StatusForbidden, "This account has no dashboard access.")
		return
	}

	if _, err := a.startSession(c, auth.ProfileID, auth.Email); err != nil {
		writeAPIError(c, err)
		return
	}
	a.metrics.loginAttempt(true)
	a.log.Info("dashboard login", "profile_id", auth.ProfileID, "role", auth.Role)
	c.Redirect(http.StatusSeeOther, next)
}

func (a *App) adminLogoutSubmitHandler(c *gin.Context) {
	a.clearSessionCookie(c)
	c.Redirect(http.StatusSeeOther, adminLoginPath)
}

func (a *App) adminIssuesPageHandler(c *gin.Context) {
	filters := adminIssueFilters{
		Status:     strings.TrimSpace(c.Query("status")),
		Tag:        strings.TrimSpace(c.Query("tag")),
		Department: strings.TrimSpace(c.Query("department")),
		Flagged:    strings.TrimSpace(c.Query("flagged")),
		Q:          strings.TrimSpace(c.Query("q")),
	}
	page := parsePage(c.Query("page"))
	currentURL := filters.currentURL()

	departments, err := a.listDepartments(c.Request.Context())
	if err != nil {
		a.log.Error("list dashboard departments failed", "err", err)
		departments = []Department{}
	}

	data := adminIssuesViewData{
		adminBaseViewData: a.adminBaseData(c, "Issues", "issues"),
		Filters:           filters,
		StatusOptions:     statusOptions(filters.Status, true),
		DepartmentOptions: departmentOptions(departments, filters.Department, "All departments"),
		Issues:            []adminIssueRowView{},
		CurrentURL:        currentURL,
		ExportQuery:       filters.queryString(),
	}

	summaries, total, err := a.listIssues(c.Request.Context(), issueListQuery{
		Filters: filters.toStoreFilters(),
		Limit:   dashboardPageSize,
		Offset:  pageOffset(page, dashboardPageSize),
	})
	if err != nil {
		a.log.Error("list dashboard issues failed", "err", err)
		data.ErrorMessage = "Failed to load issues."
		a.renderAdminTemplate(c, http.StatusInternalServerError, adminTemplateIssuesPath, data)
		return
	}

	for _, issue := range summaries {
		data.Issues = append(data.Issues, buildAdminIssueRow(issue, currentURL))
	}
	data.Pagination = buildPaginationView(total, page, dashboardPageSize, currentURL)
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateIssuesPath, data)
}

// adminBulkOperationFromForm maps the dashboard's bulk action select to a bulk operation.
func adminBulkOperationFromForm(c *gin.Context) (bulkOperation, error) {
	action := strings.TrimSpace(c.PostForm("action"))
	notes, err := normalizeNotes(stringPtr(c.PostForm("notes")))
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(action, "status:"):
		status := strings.TrimPrefix(action, "status:")
		if !containsString(issueStatuses, status) {
			return nil, badRequest("invalid_status", "Unknown status")
		}
		return bulkUpdateStatus{Status: status, Notes: notes}, nil
	case action == "flag":
		return bulkFlagPriority{Flagged: true}, nil
	case action == "unflag":
		return bulkFlagPriority{Flagged: false}, nil
	case action == "assign":
		departmentID, err := strconv.Atoi(strings.TrimSpace(c.PostForm("department_id")))
		if err != nil || departmentID < 1 {
			return nil, badRequest("invalid_department", "Choose a department")
		}
		return bulkAssignDepartment{DepartmentID: departmentID, Notes: notes}, nil
	case action == "add_tags" || action == "remove_tags":
		var raw []string
		for _, part := range strings.Split(c.PostForm("tags"), ",") {
			if strings.TrimSpace(part) != "" {
				raw = append(raw, part)
			}
		}
		if len(raw) == 0 || len(raw) > maxTagCount {
			return nil, badRequest("invalid_tags", fmt.Sprintf("Enter between 1 and %d tags", maxTagCount))
		}
		tags, err := normalizeTags(raw)
		if err != nil {
			return nil, err
		}
		if action == "add_tags" {
			return bulkAddTags{Tags: tags}, nil
		}
		return bulkRemoveTags{Tags: tags}, nil
	}
	return nil, badRequest("invalid_operation", "Choose a bulk action")
}

func (a *App) adminBulkSubmitHandler(c *gin.Context) {
	next := sanitizeAdminRedirectTarget(c.PostForm("next"))

	op, err := adminBulkOperationFromForm(c)
	if err != nil {
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(err, "Bulk operation failed."))
		return
	}

	rawIDs := c.PostFormArray("issue_ids")
	ids := make([]int, 0, len(rawIDs))
	for _, raw := range rawIDs {
		if id, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			ids = append(ids, id)
		}
	}
	issueIDs, err := dedupeIssueIDs(ids)
	if err != nil {
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(err, "Select at least one issue."))
		return
	}

	auth, _ := getAuthContext(c)
	results := a.runBulkOperation(c.Request.Context(), op, issueIDs, auth.ProfileID)
	a.metrics.bulkCompleted(op.operationName(), results.Success, results.Failed)
	a.log.Info("dashboard bulk operation completed", "operation", op.operationName(), "succeeded", results.Success, "failed", results.Failed, "actor", auth.ProfileID)

	message := fmt.Sprintf("Bulk operation completed: %d succeeded, %d failed", results.Success, results.Failed)
	if results.Failed > 0 {
		redirectAdminWithMessage(c, next, "error", message+" ("+strings.Join(results.Errors, "; ")+")")
		return
	}
	redirectAdminWithMessage(c, next, "notice", message)
}

func (a *App) adminIssuePageHandler(c *gin.Context) {
	next := sanitizeAdminRedirectTarget(c.Query("next"))
	issueID, err := strconv.Atoi(c.Param("id"))
	if err != nil || issueID < 1 {
		redirectAdminWithMessage(c, next, "error", "Invalid issue ID")
		return
	}

	details, err := a.getIssueDetails(c.Request.Context(), issueID)
	if err != nil {
		status := http.StatusInternalServerError
		message := "Failed to load issue."
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			status = apiErr.Status
			message = apiErr.Message
		} else {
			a.log.Error("load dashboard issue failed", "issue_id", issueID, "err", err)
		}
		base := a.adminBaseData(c, "Issue", "issues")
		base.ErrorMessage = message
		a.renderAdminTemplate(c, status, adminTemplateIssuePath, adminIssueDetailViewData{adminBaseViewData: base, BackURL: next, ActionNext: next})
		return
	}

	departments, err := a.listDepartments(c.Request.Context())
	if err != nil {
		a.log.Error("list dashboard departments failed", "err", err)
		departments = []Department{}
	}

	issue := details.Issue
	selectedDepartment := ""
	assignment := "-"
	if details.Assignment != nil {
		selectedDepartment = strconv.Itoa(details.Assignment.DepartmentID)
		assignment = valueOrDash(details.Assignment.DepartmentName)
		if details.Assignment.AssigneeName != nil {
			assignment += " / " + *details.Assignment.AssigneeName
		}
	}

	self := fmt.Sprintf("%s/issues/%d?next=%s", adminBasePath, issue.ID, url.QueryEscape(next))
	base := a.adminBaseData(c, fmt.Sprintf("Issue #%d", issue.ID), "issues")
	base.IncludeMapLibre = true
	data := adminIssueDetailViewData{
		adminBaseViewData: base,
		IssueID:           issue.ID,
		BackURL:           next,
		ActionNext:        self,
		Description:       issue.Description,
		StatusLabel:       statusLabel(issue.Status),
		StatusClass:       statusClass(issue.Status),
		StatusOptions:     statusOptions(issue.Status, false),
		StatusActions:     buildAdminStatusActions(issue.Status, self),
		DepartmentOptions: departmentOptions(departments, selectedDepartment, "Keep current assignment"),
		Flagged:           issue.Flagged,
		TagsLabel:         strings.Join(issue.Tags, ", "),
		Location:          fmt.Sprintf("%.6f, %.6f", issue.Latitude, issue.Longitude),
		Lat:               issue.Latitude,
		Lng:               issue.Longitude,
		Address:           valueOrDash(issue.Address),
		City:              valueOrDash(issue.City),
		ReporterEmail:     valueOrDash(issue.ReporterEmail),
		Votes:             details.Votes,
		Images:            details.Images,
		Assignment:        assignment,
		History:           buildAdminHistoryRows(details.History),
		CreatedAt:         formatAdminTimestamp(issue.CreatedAt),
	}
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateIssuePath, data)
}

func (a *App) adminIssueStatusSubmitHandler(c *gin.Context) {
	next := sanitizeAdminRedirectTarget(c.PostForm("next"))
	issueID, err := strconv.Atoi(c.Param("id"))
	if err != nil || issueID < 1 {
		redirectAdminWithMessage(c, next, "error", "Invalid issue ID")
		return
	}

	status := strings.TrimSpace(c.PostForm("status"))
	if !containsString(issueStatuses, status) {
		redirectAdminWithMessage(c, next, "error", "Unknown status")
		return
	}
	notes, err := normalizeNotes(stringPtr(c.PostForm("notes")))
	if err != nil {
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(err, "Status update failed."))
		return
	}
	var departmentID *int
	if raw := strings.TrimSpace(c.PostForm("department_id")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 1 {
			redirectAdminWithMessage(c, next, "error", "Invalid department")
			return
		}
		departmentID = &id
	}

	auth, _ := getAuthContext(c)
	result, err := a.transitionIssueStatus(c.Request.Context(), statusTransition{
		IssueID:      issueID,
		Status:       status,
		Notes:        notes,
		DepartmentID: departmentID,
		ChangedBy:    auth.ProfileID,
	})
	if err != nil {
		if !isAPIError(err) {
			a.log.Error("dashboard status update failed", "issue_id", issueID, "err", err)
		}
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(err, "Status update failed."))
		return
	}

	a.metrics.statusChanged(result.PreviousStatus, result.NewStatus)
	a.log.Info("issue status changed", "issue_id", issueID, "from", result.PreviousStatus, "to", result.NewStatus, "changed_by", auth.ProfileID)
	a.notifyStatusChange(*result)
	redirectAdminWithMessage(c, next, "notice", "Status updated to "+strings.ToLower(statusLabel(status))+".")
}

func (a *App) adminMapPageHandler(c *gin.Context) {
	summaries, _, err := a.listIssues(c.Request.Context(), issueListQuery{Limit: maxExportRows, NewestFirst: true})
	if err != nil {
		a.log.Error("list dashboard map issues failed", "err", err)
		base := a.adminBaseData(c, "Map", "map")
		base.ErrorMessage = "Failed to load issues."
		a.renderAdminTemplate(c, http.StatusInternalServerError, adminTemplateMapPath, adminMapViewData{adminBaseViewData: base, MapData: template.JS("[]")})
		return
	}

	points := make([]adminMapPoint, 0, len(summaries))
	for _, issue := range summaries {
		points = append(points, adminMapPoint{
			ID:          issue.ID,
			Lat:         issue.Latitude,
			Lng:         issue.Longitude,
			Status:      issue.Status,
			StatusLabel: statusLabel(issue.Status),
			Flagged:     issue.Flagged,
			Description: truncateRunes(issue.Description, 80),
			Tags:        strings.Join(issue.Tags, ", "),
		})
	}
	mapJSON, err := json.Marshal(points)
	if err != nil {
		mapJSON = []byte("[]")
	}

	base := a.adminBaseData(c, "Map", "map")
	base.IncludeMapLibre = true
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateMapPath, adminMapViewData{adminBaseViewData: base, MapData: template.JS(mapJSON)})
}

func (a *App) adminStatsPageHandler(c *gin.Context) {
	base := a.adminBaseData(c, "Statistics", "stats")
	raw, err := a.getAdminStats(c.Request.Context())
	if err != nil {
		a.log.Error("load dashboard stats failed", "err", err)
		base.ErrorMessage = "Failed to load statistics."
		a.renderAdminTemplate(c, http.StatusInternalServerError, adminTemplateStatsPath, adminStatsViewData{adminBaseViewData: base})
		return
	}
	var stats adminStatsView
	if err := json.Unmarshal(raw, &stats); err != nil {
		a.log.Error("decode dashboard stats failed", "err", err)
		base.ErrorMessage = "Failed to load statistics."
	}
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateStatsPath, adminStatsViewData{adminBaseViewData: base, Stats: stats})
}

func (a *App) adminDepartmentsPageHandler(c *gin.Context) {
	base := a.adminBaseData(c, "Departments", "departments")
	departments, err := a.listDepartments(c.Request.Context())
	if err != nil {
		a.log.Error("list dashboard departments failed", "err", err)
		base.ErrorMessage = "Failed to load departments."
		a.renderAdminTemplate(c, http.StatusInternalServerError, adminTemplateDepartmentsPath, adminDepartmentsViewData{adminBaseViewData: base})
		return
	}
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateDepartmentsPath, adminDepartmentsViewData{adminBaseViewData: base, Departments: departments})
}

const adminDepartmentsPath = adminBasePath + "/departments"

func (a *App) adminDepartmentCreateSubmitHandler(c *gin.Context) {
	req := departmentRequest{Name: c.PostForm("name"), Description: stringPtr(c.PostForm("description"))}
	name, description, err := req.validate()
	if err != nil {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", normalizeAdminErrorMessage(err, "Create failed."))
		return
	}
	auth, _ := getAuthContext(c)
	creator := auth.ProfileID
	department, err := a.createDepartment(c.Request.Context(), name, description, &creator)
	if err != nil {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", a.adminFailureMessage(err, "Create failed."))
		return
	}
	a.log.Info("department created", "department_id", department.ID, "name", department.Name, "actor", creator)
	redirectAdminWithMessage(c, adminDepartmentsPath, "notice", "Department created.")
}

func (a *App) adminDepartmentDeleteSubmitHandler(c *gin.Context) {
	departmentID, err := strconv.Atoi(c.Param("id"))
	if err != nil || departmentID < 1 {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", "Invalid department ID")
		return
	}
	if err := a.deleteDepartment(c.Request.Context(), departmentID); err != nil {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", a.adminFailureMessage(err, "Delete failed."))
		return
	}
	auth, _ := getAuthContext(c)
	a.log.Info("department deleted", "department_id", departmentID, "actor", auth.ProfileID)
	redirectAdminWithMessage(c, adminDepartmentsPath, "notice", "Department deleted.")
}

func (a *App) adminCategoryAddSubmitHandler(c *gin.Context) {
	departmentID, err := strconv.Atoi(c.Param("id"))
	if err != nil || departmentID < 1 {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", "Invalid department ID")
		return
	}
	category := normalizeTag(c.PostForm("category"))
	if category == "" {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", "Category is required")
		return
	}
	if err := a.addDepartmentCategory(c.Request.Context(), departmentID, category); err != nil {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", a.adminFailureMessage(err, "Adding the category failed."))
		return
	}
	redirectAdminWithMessage(c, adminDepartmentsPath, "notice", "Category added.")
}

func (a *App) adminCategoryDeleteSubmitHandler(c *gin.Context) {
	departmentID, err := strconv.Atoi(c.Param("id"))
	if err != nil || departmentID < 1 {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", "Invalid department ID")
		return
	}
	category := normalizeTag(c.PostForm("category"))
	if err := a.removeDepartmentCategory(c.Request.Context(), departmentID, category); err != nil {
		redirectAdminWithMessage(c, adminDepartmentsPath, "error", a.adminFailureMessage(err, "Removing the category failed."))
		return
	}
	redirectAdminWithMessage(c, adminDepartmentsPath, "notice", "Category removed.")
}

const adminAnnouncementsPath = adminBasePath + "/announcements"

func (a *App) adminAnnouncementsPageHandler(c *gin.Context) {
	base := a.adminBaseData(c, "Announcements", "announcements")
	data := adminAnnouncementsViewData{
		adminBaseViewData: base,
		TypeOptions:       stringOptions(announcementTypes, "general"),
		PriorityOptions:   stringOptions(announcementPriorities, "normal"),
	}

	departments, err := a.listDepartments(c.Request.Context())
	if err != nil {
		a.log.Error("list dashboard departments failed", "err", err)
		departments = []Department{}
	}
	data.DepartmentOptions = departmentOptions(departments, "", "All departments")

	announcements, err := a.listAllAnnouncements(c.Request.Context())
	if err != nil {
		a.log.Error("list dashboard announcements failed", "err", err)
		data.ErrorMessage = "Failed to load announcements."
		a.renderAdminTemplate(c, http.StatusInternalServerError, adminTemplateAnnouncementsPath, data)
		return
	}
	for i := range announcements {
		if announcements[i].ExpiresAt != nil {
			formatted := formatAdminTimestamp(*announcements[i].ExpiresAt)
			announcements[i].ExpiresAt = &formatted
		}
		announcements[i].CreatedAt = formatAdminTimestamp(announcements[i].CreatedAt)
	}
	data.Announcements = announcements
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateAnnouncementsPath, data)
}

func (a *App) adminAnnouncementCreateSubmitHandler(c *gin.Context) {
	req := announcementRequest{
		Title:    c.PostForm("title"),
		Content:  c.PostForm("content"),
		Type:     c.PostForm("type"),
		Priority: c.PostForm("priority"),
	}
	if raw := strings.TrimSpace(c.PostForm("department_id")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			redirectAdminWithMessage(c, adminAnnouncementsPath, "error", "Invalid department")
			return
		}
		req.DepartmentID = &id
	}
	// datetime-local inputs carry no zone; they are read as UTC.
	if raw := strings.TrimSpace(c.PostForm("expires_at")); raw != "" {
		expires := raw
		if len(raw) == len("2006-01-02T15:04") {
			expires = raw + ":00Z"
		}
		req.ExpiresAt = &expires
	}

	input, err := parseAnnouncementRequest(req)
	if err != nil {
		redirectAdminWithMessage(c, adminAnnouncementsPath, "error", normalizeAdminErrorMessage(err, "Create failed."))
		return
	}
	auth, _ := getAuthContext(c)
	input.CreatedBy = auth.ProfileID
	announcement, err := a.createAnnouncement(c.Request.Context(), input)
	if err != nil {
		redirectAdminWithMessage(c, adminAnnouncementsPath, "error", a.adminFailureMessage(err, "Create failed."))
		return
	}
	a.log.Info("announcement created", "announcement_id", announcement.ID, "priority", announcement.Priority, "actor", auth.ProfileID)
	redirectAdminWithMessage(c, adminAnnouncementsPath, "notice", "Announcement published.")
}

func (a *App) adminAnnouncementToggleSubmitHandler(c *gin.Context) {
	announcementID, err := strconv.Atoi(c.Param("id"))
	if err != nil || announcementID < 1 {
		redirectAdminWithMessage(c, adminAnnouncementsPath, "error", "Invalid announcement ID")
		return
	}
	active := c.PostForm("is_active") == "true"
	if _, err := a.setAnnouncementActive(c.Request.Context(), announcementID, active); err != nil {
		redirectAdminWithMessage(c, adminAnnouncementsPath, "error", a.adminFailureMessage(err, "Update failed."))
		return
	}
	redirectAdminWithMessage(c, adminAnnouncementsPath, "notice", "Announcement updated.")
}

func (a *App) renderAdminTemplate(c *gin.Context, status int, contentTemplatePath string, data any) {
	templates, err := a.adminTemplates.templatesForRender(contentTemplatePath)
	if err != nil {
		c.String(http.StatusInternalServerError, "admin template error: %v", err)
		return
	}

	c.Status(status)
	if executeErr := templates.ExecuteTemplate(c.Writer, "layout", data); executeErr != nil {
		a.log.Error("render admin template failed", "err", executeErr)
		if !c.Writer.Written() {
			c.String(http.StatusInternalServerError, "render failure")
		}
	}
}

func (a *App) adminBaseData(c *gin.Context, title, activeNav string) adminBaseViewData {
	base := adminBaseViewData{
		Title:         title,
		CurrentPath:   sanitizeAdminRedirectTarget(c.Request.URL.RequestURI()),
		ActiveNav:     activeNav,
		ErrorMessage:  strings.TrimSpace(c.Query("error")),
		NoticeMessage: strings.TrimSpace(c.Query("notice")),
	}
	if auth, ok := getAuthContext(c); ok {
		base.Auth = &auth
		base.IsAdmin = auth.Role == "admin"
	}
	return base
}

// sanitizeAdminRedirectTarget keeps redirects on dashboard pages of this host.
func sanitizeAdminRedirectTarget(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return adminBasePath
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return adminBasePath
	}
	if parsed.IsAbs() || parsed.Host != "" {
		return adminBasePath
	}
	if strings.HasPrefix(parsed.Path, "//") {
		return adminBasePath
	}
	if parsed.Path != adminBasePath && !strings.HasPrefix(parsed.Path, adminBasePath+"/") {
		return adminBasePath
	}
	if parsed.Path == adminLoginPath || parsed.Path == adminBasePath+"/logout" {
		return adminBasePath
	}

	target := parsed.Path
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return target
}

func redirectAdminWithMessage(c *gin.Context, target, key, value string) {
	parsed, err := url.Parse(sanitizeAdminRedirectTarget(target))
	if err != nil {
		c.Redirect(http.StatusSeeOther, adminBasePath)
		return
	}
	query := parsed.Query()
	query.Del("error")
	query.Del("notice")
	query.Set(key, value)
	parsed.RawQuery = query.Encode()

	redirectURL := parsed.Path
	if parsed.RawQuery != "" {
		redirectURL += "?" + parsed.RawQuery
	}
	c.Redirect(http.StatusSeeOther, redirectURL)
}

func normalizeAdminErrorMessage(err error, fallback string) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return fallback
}

// adminFailureMessage logs unexpected errors before rendering them for a flash message.
func (a *App) adminFailureMessage(err error, fallback string) string {
	if !isAPIError(err) {
		a.log.Error("dashboard action failed", "err", err)
	}
	return normalizeAdminErrorMessage(err, fallback)
}

func isAPIError(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr)
}

func stringPtr(value string) *string {
	return &value
}
