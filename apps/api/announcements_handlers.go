package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type announcementRequest struct {
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Type         string  `json:"type"`
	Priority     string  `json:"priority"`
	DepartmentID *int    `json:"department_id"`
	ExpiresAt    *string `json:"expires_at"`
}

func parseAnnouncementRequest(req announcementRequest) (announcementInput, error) {
	input := announcementInput{
		Title:        strings.TrimSpace(req.Title),
		Content:      strings.TrimSpace(req.Content),
		Type:         strings.ToLower(strings.TrimSpace(req.Type)),
		Priority:     strings.ToLower(strings.TrimSpace(req.Priority)),
		DepartmentID: req.DepartmentID,
	}
	if input.Title == "" || input.Content == "" {
		return announcementInput{}, badRequest("invalid_payload", "Title and content are required")
	}
	if input.Type == "" {
		input.Type = "general"
	}
	if !containsString(announcementTypes, input.Type) {
		return announcementInput{}, badRequest("invalid_type", "Type must be one of "+strings.Join(announcementTypes, ", "))
	}
	if input.Priority == "" {
		input.Priority = "normal"
	}
	if !containsString(announcementPriorities, input.Priority) {
		return announcementInput{}, badRequest("invalid_priority", "Priority must be one of "+strings.Join(announcementPriorities, ", "))
	}
	if input.DepartmentID != nil && *input.DepartmentID < 1 {
		return announcementInput{}, badRequest("invalid_department", "Department must be a positive integer")
	}
	if raw := trimmedOrNil(req.ExpiresAt); raw != nil {
		expiresAt, err := time.Parse(time.RFC3339, *raw)
		if err != nil {
			return announcementInput{}, badRequest("invalid_expires_at", "expires_at must be an RFC3339 timestamp")
		}
		input.ExpiresAt = &expiresAt
	}
	return input, nil
}

func (a *App) publicAnnouncementsHandler(c *gin.Context) {
	announcements, err := a.listPublicAnnouncements(c.Request.Context(), publicAnnouncementLimit)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	for i := range announcements {
		announcements[i].CreatedBy = nil
		announcements[i].CreatedByName = nil
	}
	c.JSON(http.StatusOK, announcements)
}

func (a *App) adminAnnouncementsHandler(c *gin.Context) {
	announcements, err := a.listAllAnnouncements(c.Request.Context())
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, announcements)
}

func (a *App) createAnnouncementHandler(c *gin.Context) {
	var req announcementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid announcement payload"))
		return
	}
	input, err := parseAnnouncementRequest(req)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	auth, _ := getAuthContext(c)
	input.CreatedBy = auth.ProfileID

	announcement, err := a.createAnnouncement(c.Request.Context(), input)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	a.log.Info("announcement created", "announcement_id", announcement.ID, "priority", announcement.Priority, "actor", auth.ProfileID)
	c.JSON(http.StatusCreated, announcement)
}

func (a *App) toggleAnnouncementHandler(c *gin.Context) {
	announcementID, err := parsePositiveIDParam(c, "id", "Invalid announcement ID")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		writeAPIError(c, badRequest("invalid_payload", "is_active is required"))
		return
	}

	announcement, err := a.setAnnouncementActive(c.Request.Context(), announcementID, *req.IsActive)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, announcement)
}

func (a *App) deleteAnnouncementHandler(c *gin.Context) {
	announcementID, err := parsePositiveIDParam(c, "id", "Invalid announcement ID")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if err := a.deleteAnnouncement(c.Request.Context(), announcementID); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
