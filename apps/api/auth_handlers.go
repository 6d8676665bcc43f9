package main

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name"`
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return "", badRequest("invalid_email", "A valid email address is required")
	}
	return strings.ToLower(parsed.Address), nil
}

func (a *App) registerHandler(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid registration payload"))
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if len(req.Password) < minPasswordLength {
		writeAPIError(c, badRequest("invalid_password", fmt.Sprintf("Password must be at least %d characters", minPasswordLength)))
		return
	}

	profile, err := a.createCitizenProfile(c.Request.Context(), email, req.Password, trimmedOrNil(req.DisplayName))
	if err != nil {
		writeAPIError(c, err)
		return
	}
	token, err := a.startSession(c, profile.ID, profile.Email)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	a.log.Info("profile registered", "user_id", profile.ID)
	c.JSON(http.StatusCreated, gin.H{"token": token, "profile": profile})
}

func (a *App) loginHandler(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, badRequest("invalid_payload", "Invalid login payload"))
		return
	}

	ctx := c.Request.Context()
	profileID, err := a.authenticateCredentials(ctx, req.Email, req.Password)
	if err != nil {
		a.metrics.loginAttempt(false)
		writeAPIError(c, err)
		return
	}
	profile, err := a.getProfileByID(ctx, profileID)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if profile == nil {
		writeAPIError(c, invalidCredentials())
		return
	}

	token, err := a.startSession(c, profile.ID, profile.Email)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	a.metrics.loginAttempt(true)
	c.JSON(http.StatusOK, gin.H{"token": token, "profile": profile})
}

func (a *App) startSession(c *gin.Context, profileID, email string) (string, error) {
	token, err := a.createSessionToken(profileID, email)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	a.setSessionCookie(c, token)
	return token, nil
}

func (a *App) logoutHandler(c *gin.Context) {
	a.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *App) sessionHandler(c *gin.Context) {
	auth, _ := getAuthContext(c)
	c.JSON(http.StatusOK, auth)
}
