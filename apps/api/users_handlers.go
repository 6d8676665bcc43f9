package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type userUpdateRequest struct {
	UserID       string  `json:"user_id"`
	Role         *string `json:"role"`
	DepartmentID *int    `json:"department_id"`
	DisplayName  *string `json:"display_name"`
	IsActive     *bool   `json:"is_active"`
}

func parseUserID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if _, err := uuid.Parse(id); err != nil {
		return "", badRequest("invalid_user_id", "user_id must be a valid id")
	}
	return id, nil
}

// checkSelfProfileUpdate keeps an admin from locking themselves out.
func checkSelfProfileUpdate(actorID, userID string, update profileUpdate) error {
	if actorID != userID {
		return nil
	}
	if update.Role != nil && *update.Role != "admin" {
		return badRequest("invalid_request", "Cannot change your own admin role")
	}
	if update.IsActive != nil && !*update.IsActive {
		return badRequest("invalid_request", "Cannot deactivate your own account")
	}
	return nil
}

func errSelfDelete() error {
	return badRequest("invalid_request", "Cannot delete your own account")
}

func (a *App) listUsersHandler(c *gin.Context) {
	filters := profileFilters{Q: strings.TrimSpace(c.Query("q"))}
	if role := strings.TrimSpace(c.Query("role")); role != "" && role != "all" {
		if !containsString(profileRoles, role) {
			writeAPIError(c, badRequest("invalid_role", "Role must be one of citizen, official, admin"))
			return
		}
		filters.Role = role
	}

	limit := parseLimit(c.Query("limit"), defaultListLimit, maxListLimit)
	offset := 0
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeAPIError(c, badRequest("invalid_offset", "offset must be a non-negative integer"))
			return
		}
		offset = parsed
	}

	users, total, err := a.listProfiles(c.Request.Context(), filters, limit, offset)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "offset": offset, "limit": limit})
}

func (a *App) updateUserHandler(c *gin.Context) {
	var req userUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid user payload"))
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	update := profileUpdate{DisplayName: trimmedOrNil(req.DisplayName), IsActive: req.IsActive, DepartmentID: req.DepartmentID}
	if req.Role != nil {
		role := strings.TrimSpace(*req.Role)
		if !containsString(profileRoles, role) {
			writeAPIError(c, badRequest("invalid_role", "Role must be one of citizen, official, admin"))
			return
		}
		update.Role = &role
	}
	if update.DepartmentID != nil && *update.DepartmentID < 0 {
		writeAPIError(c, badRequest("invalid_department", "Department must be a positive integer, or 0 to clear it"))
		return
	}

	auth, _ := getAuthContext(c)
	if err := checkSelfProfileUpdate(auth.ProfileID, userID, update); err != nil {
		writeAPIError(c, err)
		return
	}

	profile, err := a.updateProfile(c.Request.Context(), userID, update)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	a.log.Info("profile updated", "user_id", userID, "role", profile.Role, "is_active", profile.IsActive, "actor", auth.ProfileID)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": profile})
}

func (a *App) deleteUserHandler(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid user payload"))
		return
	}
	userID, err := parseUserID(req.UserID)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	auth, _ := getAuthContext(c)
	if userID == auth.ProfileID {
		writeAPIError(c, errSelfDelete())
		return
	}

	if err := a.deleteProfile(c.Request.Context(), userID); err != nil {
		writeAPIError(c, err)
		return
	}
	a.log.Info("profile deleted", "user_id", userID, "actor", auth.ProfileID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
