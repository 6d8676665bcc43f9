package main

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const adminUsersPath = adminBasePath + "/users"

type adminUserFilters struct {
	Role string
	Q    string
}

func parseAdminUserFilters(c *gin.Context) adminUserFilters {
	filters := adminUserFilters{
		Role: strings.TrimSpace(c.Query("role")),
		Q:    strings.TrimSpace(c.Query("q")),
	}
	if !containsString(profileRoles, filters.Role) {
		filters.Role = ""
	}
	return filters
}

func (f adminUserFilters) currentURL() string {
	params := url.Values{}
	if f.Role != "" {
		params.Set("role", f.Role)
	}
	if f.Q != "" {
		params.Set("q", f.Q)
	}
	if query := params.Encode(); query != "" {
		return adminUsersPath + "?" + query
	}
	return adminUsersPath
}

func (a *App) adminUsersPageHandler(c *gin.Context) {
	filters := parseAdminUserFilters(c)
	page := parsePage(c.Query("page"))
	auth, _ := getAuthContext(c)

	roleFilterOptions := append([]adminOption{{Value: "", Label: "All roles", Selected: filters.Role == ""}}, stringOptions(profileRoles, filters.Role)...)
	data := adminUsersViewData{
		adminBaseViewData: a.adminBaseData(c, "Users", "users"),
		RoleFilter:        filters.Role,
		Q:                 filters.Q,
		RoleOptions:       roleFilterOptions,
		Users:             []adminUserRowView{},
	}

	profiles, total, err := a.listProfiles(c.Request.Context(), profileFilters{Role: filters.Role, Q: filters.Q}, dashboardPageSize, pageOffset(page, dashboardPageSize))
	if err != nil {
		a.log.Error("list dashboard users failed", "err", err)
		data.ErrorMessage = "Failed to load users."
		a.renderAdminTemplate(c, http.StatusInternalServerError, adminTemplateUsersPath, data)
		return
	}

	for _, profile := range profiles {
		profile.CreatedAt = formatAdminTimestamp(profile.CreatedAt)
		data.Users = append(data.Users, adminUserRowView{
			Profile:          profile,
			DisplayNameLabel: valueOrDash(profile.DisplayName),
			IsSelf:           profile.ID == auth.ProfileID,
			RoleOptions:      stringOptions(profileRoles, profile.Role),
		})
	}
	data.Pagination = buildPaginationView(total, page, dashboardPageSize, filters.currentURL())
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateUsersPath, data)
}

func (a *App) adminUserUpdateSubmitHandler(c *gin.Context) {
	next := sanitizeAdminRedirectTarget(c.PostForm("next"))
	if next == adminBasePath {
		next = adminUsersPath
	}
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(err, "Invalid user"))
		return
	}

	role := strings.TrimSpace(c.PostForm("role"))
	if !containsString(profileRoles, role) {
		redirectAdminWithMessage(c, next, "error", "Role must be one of citizen, official, admin")
		return
	}
	isActive := c.PostForm("is_active") == "on"
	update := profileUpdate{Role: &role, IsActive: &isActive, DisplayName: trimmedOrNil(stringPtr(c.PostForm("display_name")))}

	auth, _ := getAuthContext(c)
	if err := checkSelfProfileUpdate(auth.ProfileID, userID, update); err != nil {
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(err, "Update failed."))
		return
	}

	profile, err := a.updateProfile(c.Request.Context(), userID, update)
	if err != nil {
		redirectAdminWithMessage(c, next, "error", a.adminFailureMessage(err, "Update failed."))
		return
	}
	a.log.Info("profile updated", "user_id", userID, "role", profile.Role, "is_active", profile.IsActive, "actor", auth.ProfileID)
	redirectAdminWithMessage(c, next, "notice", "User updated.")
}

func (a *App) adminUserDeleteSubmitHandler(c *gin.Context) {
	next := sanitizeAdminRedirectTarget(c.PostForm("next"))
	if next == adminBasePath {
		next = adminUsersPath
	}
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(err, "Invalid user"))
		return
	}

	auth, _ := getAuthContext(c)
	if userID == auth.ProfileID {
		redirectAdminWithMessage(c, next, "error", normalizeAdminErrorMessage(errSelfDelete(), "Delete failed."))
		return
	}
	if err := a.deleteProfile(c.Request.Context(), userID); err != nil {
		redirectAdminWithMessage(c, next, "error", a.adminFailureMessage(err, "Delete failed."))
		return
	}
	a.log.Info("profile deleted", "user_id", userID, "actor", auth.ProfileID)
	redirectAdminWithMessage(c, next, "notice", "User deleted.")
}
