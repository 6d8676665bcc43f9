package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type issueCreateRequest struct {
	Description    string            `json:"description"`
	Latitude       *float64          `json:"latitude"`
	Longitude      *float64          `json:"longitude"`
	Tags           []string          `json:"tags"`
	Images         []json.RawMessage `json:"images"`
	Flagged        bool              `json:"flagged"`
	ReporterEmail  *string           `json:"reporterEmail"`
	TurnstileToken string            `json:"turnstileToken"`
}

func (a *App) createIssueHandler(c *gin.Context) {
	var req issueCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid issue payload"))
		return
	}

	payload, err := parseIssueCreatePayload(req)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	payload.ClientIP = c.ClientIP()

	ctx := c.Request.Context()
	if auth, ok := getAuthContext(c); ok {
		profileID := auth.ProfileID
		payload.ReporterID = &profileID
		if payload.ReporterEmail == nil {
			email := auth.Email
			payload.ReporterEmail = &email
		}
	} else if err := a.verifyBotToken(ctx, payload.TurnstileToken, payload.ClientIP); err != nil {
		writeAPIError(c, err)
		return
	}

	issueID, err := a.ingestIssue(ctx, payload)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": issueID})
}

// ingestIssue persists the issue; images, routing and geocoding are best-effort.
func (a *App) ingestIssue(ctx context.Context, payload IssueCreatePayload) (int, error) {
	issueID, err := a.createIssue(ctx, payload)
	if err != nil {
		return 0, err
	}
	a.metrics.issueCreated()

	if err := a.insertIssueImages(ctx, issueID, payload.Images); err != nil {
		a.log.Error("issue image insert failed", "issue_id", issueID, "images", len(payload.Images), "err", err)
	}

	departmentID, err := a.routeIssue(ctx, issueID, payload.Latitude, payload.Longitude)
	if err != nil {
		a.log.Error("issue routing failed", "issue_id", issueID, "err", err)
	} else if departmentID != nil {
		a.log.Info("issue routed", "issue_id", issueID, "department_id", *departmentID)
	}

	if a.geocoder != nil {
		lat, lng := payload.Latitude, payload.Longitude
		a.background(func(ctx context.Context) {
			if err := a.geocodeIssue(ctx, issueID, lat, lng); err != nil {
				a.log.Error("issue geocoding failed", "issue_id", issueID, "err", err)
			}
		})
	}
	return issueID, nil
}

func parseIssueCreatePayload(req issueCreateRequest) (IssueCreatePayload, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return IssueCreatePayload{}, badRequest("invalid_description", "Description is required")
	}
	if len([]rune(description)) > maxDescriptionLength {
		return IssueCreatePayload{}, badRequest("invalid_description", fmt.Sprintf("Description must be at most %d characters", maxDescriptionLength))
	}

	if req.Latitude == nil || req.Longitude == nil {
		return IssueCreatePayload{}, badRequest("invalid_location", "Latitude and longitude are required")
	}
	if err := validateCoordinates(*req.Latitude, *req.Longitude); err != nil {
		return IssueCreatePayload{}, err
	}

	if len(req.Tags) > maxTagCount {
		return IssueCreatePayload{}, badRequest("invalid_tags", fmt.Sprintf("At most %d tags are allowed", maxTagCount))
	}
	tags, err := normalizeTags(req.Tags)
	if err != nil {
		return IssueCreatePayload{}, err
	}

	if len(req.Images) > maxImageCount {
		return IssueCreatePayload{}, badRequest("invalid_images", fmt.Sprintf("At most %d images are allowed", maxImageCount))
	}
	images := make([]IssueImageInput, 0, len(req.Images))
	for _, raw := range req.Images {
		image, err := parseIssueImage(raw)
		if err != nil {
			return IssueCreatePayload{}, err
		}
		images = append(images, image)
	}

	reporterEmail := trimmedOrNil(req.ReporterEmail)
	if reporterEmail != nil {
		parsed, err := mail.ParseAddress(*reporterEmail)
		if err != nil || parsed.Address != *reporterEmail {
			return IssueCreatePayload{}, badRequest("invalid_email", "Reporter email is not a valid address")
		}
		normalized := strings.ToLower(parsed.Address)
		reporterEmail = &normalized
	}

	return IssueCreatePayload{
		Description:    description,
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		Tags:           tags,
		Images:         images,
		Flagged:        req.Flagged,
		ReporterEmail:  reporterEmail,
		TurnstileToken: strings.TrimSpace(req.TurnstileToken),
	}, nil
}

// parseIssueImage accepts either a bare URL string or {url, width, height}.
func parseIssueImage(raw json.RawMessage) (IssueImageInput, error) {
	var image IssueImageInput
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		image.URL = bare
	} else if err := json.Unmarshal(raw, &image); err != nil {
		return IssueImageInput{}, badRequest("invalid_images", "Images must be URLs or {url, width, height} objects")
	}

	image.URL = strings.TrimSpace(image.URL)
	parsed, err := url.Parse(image.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return IssueImageInput{}, badRequest("invalid_images", "Image URLs must be absolute http(s) URLs")
	}
	if (image.Width != nil && *image.Width <= 0) || (image.Height != nil && *image.Height <= 0) {
		return IssueImageInput{}, badRequest("invalid_images", "Image dimensions must be positive")
	}
	return image, nil
}

func validateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return badRequest("invalid_location", "Latitude must be between -90 and 90")
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return badRequest("invalid_location", "Longitude must be between -180 and 180")
	}
	return nil
}

func (a *App) listIssuesHandler(c *gin.Context) {
	query, page, err := parseIssueListRequest(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	summaries, total, err := a.listIssues(c.Request.Context(), query)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	for i := range summaries {
		summaries[i].ReporterEmail = nil
	}
	c.JSON(http.StatusOK, gin.H{"issues": summaries, "total": total, "page": page, "limit": query.Limit})
}

// parseIssueListRequest reads the feed filters shared by the public and admin listings.
func parseIssueListRequest(c *gin.Context) (issueListQuery, int, error) {
	filters := IssueFilters{
		Tag:   normalizeTag(c.Query("tag")),
		Query: strings.TrimSpace(c.Query("q")),
	}

	if status := strings.TrimSpace(c.Query("status")); status != "" && status != "all" {
		if !containsString(issueStatuses, status) {
			return issueListQuery{}, 0, badRequest("invalid_status", "Unknown status filter")
		}
		filters.Status = status
	}
	if raw := strings.TrimSpace(c.Query("department")); raw != "" && raw != "all" {
		departmentID, err := strconv.Atoi(raw)
		if err != nil || departmentID < 1 {
			return issueListQuery{}, 0, badRequest("invalid_department", "Department must be a positive integer")
		}
		filters.DepartmentID = departmentID
	}
	if raw := strings.TrimSpace(c.Query("flagged")); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			return issueListQuery{}, 0, badRequest("invalid_flagged", "Flagged must be true or false")
		}
		filters.Flagged = &flagged
	}

	limit := parseLimit(c.Query("limit"), defaultListLimit, maxListLimit)
	page := parsePage(c.Query("page"))
	return issueListQuery{
		Filters:        filters,
		Limit:          limit,
		Offset:         pageOffset(page, limit),
		IncludeHistory: c.Query("include") == "history",
	}, page, nil
}

func (a *App) nearbyIssuesHandler(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(c.Query("lat")), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(c.Query("lng")), 64)
	if errLat != nil || errLng != nil {
		writeAPIError(c, badRequest("invalid_location", "lat and lng query parameters are required"))
		return
	}
	if err := validateCoordinates(lat, lng); err != nil {
		writeAPIError(c, err)
		return
	}

	radius := float64(defaultNearRadiusM)
	if raw := strings.TrimSpace(c.Query("radius")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 1 || parsed > maxNearRadiusM || math.IsNaN(parsed) {
			writeAPIError(c, badRequest("invalid_radius", fmt.Sprintf("radius must be between 1 and %d meters", maxNearRadiusM)))
			return
		}
		radius = parsed
	}

	nearby, err := a.listNearbyIssues(c.Request.Context(), lat, lng, radius)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, nearby)
}

func (a *App) myIssuesHandler(c *gin.Context) {
	auth, _ := getAuthContext(c)

	filters := IssueFilters{ReporterID: auth.ProfileID, ReporterEmail: auth.Email}
	if status := strings.TrimSpace(c.Query("status")); status != "" && status != "all" {
		if !containsString(issueStatuses, status) {
			writeAPIError(c, badRequest("invalid_status", "Unknown status filter"))
			return
		}
		filters.Status = status
	}

	summaries, _, err := a.listIssues(c.Request.Context(), issueListQuery{
		Filters:        filters,
		Limit:          parseLimit(c.Query("limit"), defaultListLimit, maxListLimit),
		IncludeHistory: true,
		NewestFirst:    true,
	})
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (a *App) issueDetailsHandler(c *gin.Context) {
	issueID, err := parseIssueID(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	details, err := a.getIssueDetails(c.Request.Context(), issueID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if auth, ok := getAuthContext(c); !ok || !auth.IsStaff() {
		details.Issue.ReporterEmail = nil
	}
	c.JSON(http.StatusOK, details)
}

func (a *App) voteIssueHandler(c *gin.Context) {
	issueID, err := parseIssueID(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	var body struct {
		VoterID *string `json:"voter_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		writeAPIError(c, badRequest("invalid_payload", "Invalid vote payload"))
		return
	}

	var voterID *string
	if auth, ok := getAuthContext(c); ok {
		if requested := trimmedOrNil(body.VoterID); requested != nil && *requested != auth.ProfileID {
			writeAPIError(c, &apiError{Status: http.StatusForbidden, Code: "forbidden", Message: "Cannot vote on behalf of another user"})
			return
		}
		profileID := auth.ProfileID
		voterID = &profileID
	}

	hash := a.buildVoterHash(c.ClientIP(), c.GetHeader("User-Agent"))
	votes, err := a.recordVote(c.Request.Context(), issueID, voterID, hash)
	if err != nil {
		a.metrics.voteRecorded(err)
		writeAPIError(c, err)
		return
	}
	a.metrics.voteRecorded(nil)
	c.JSON(http.StatusOK, gin.H{"ok": true, "votes": votes})
}

func parseIssueID(c *gin.Context) (int, error) {
	return parsePositiveIDParam(c, "id", "Invalid issue ID")
}

func parsePositiveIDParam(c *gin.Context, name, message string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(c.Param(name)))
	if err != nil || id < 1 {
		return 0, badRequest("invalid_id", message)
	}
	return id, nil
}
