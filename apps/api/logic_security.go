package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const authContextKey = "authContext"

var (
	errMissingSession = errors.New("missing session")
	errInvalidSession = errors.New("invalid session token")
)

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func (a *App) createSessionToken(profileID, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   profileID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(sessionDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.AppSigningSecret))
}

// verifySessionToken returns the profile id carried by a valid token.
// The role is deliberately absent from the token; it is read from the profile row.
func (a *App) verifySessionToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(a.cfg.AppSigningSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidSession
	}
	subject, _ := claims["sub"].(string)
	if _, err := uuid.Parse(subject); err != nil {
		return "", errInvalidSession
	}
	return subject, nil
}

// buildVoterHash derives the anonymous vote identity. It is a dedup heuristic:
// people sharing an address and browser build collapse into one voter.
func (a *App) buildVoterHash(ip, userAgent string) string {
	if strings.TrimSpace(ip) == "" {
		ip = anonymousVoterIP
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", ip, strings.TrimSpace(userAgent), a.cfg.AppSigningSecret)))
	return hex.EncodeToString(h[:])
}

func parseTagsJSON(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func tagsToJSON(tags []string) []byte {
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)
	return encoded
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// normalizeTags trims, lower-cases and de-duplicates tags, keeping first occurrence order.
func normalizeTags(tags []string) ([]string, error) {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		tag := normalizeTag(raw)
		if tag == "" {
			return nil, badRequest("invalid_tags", "Tags must not be empty")
		}
		if len(tag) > maxTagLength {
			return nil, badRequest("invalid_tags", fmt.Sprintf("Tags must be at most %d characters", maxTagLength))
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	return normalized, nil
}

// mergeTags appends the additions missing from current. Adding a present tag is a no-op.
func mergeTags(current, additions []string) []string {
	merged := append([]string{}, current...)
	for _, tag := range additions {
		if !containsString(merged, tag) {
			merged = append(merged, tag)
		}
	}
	return merged
}

// subtractTags drops every removal from current. Removing an absent tag is a no-op.
func subtractTags(current, removals []string) []string {
	kept := make([]string, 0, len(current))
	for _, tag := range current {
		if !containsString(removals, tag) {
			kept = append(kept, tag)
		}
	}
	return kept
}

func sessionTokenFromRequest(c *gin.Context) (string, error) {
	if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", errInvalidSession
		}
		return strings.TrimSpace(token), nil
	}
	token, err := c.Cookie(sessionCookieName)
	if err != nil || token == "" {
		return "", errMissingSession
	}
	return token, nil
}

// resolveAuthContext attaches the caller's identity to the request when a
// session is presented. Anonymous requests pass through untouched; a bad or
// stale session is rejected so callers never silently lose their identity.
func (a *App) resolveAuthContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth, err := a.authenticateRequest(c)
		if errors.Is(err, errMissingSession) {
			c.Next()
			return
		}
		if err != nil {
			writeAPIError(c, err)
			return
		}
		c.Set(authContextKey, *auth)
		c.Next()
	}
}

func (a *App) authenticateRequest(c *gin.Context) (*AuthContext, error) {
	token, err := sessionTokenFromRequest(c)
	if err != nil {
		if errors.Is(err, errMissingSession) {
			return nil, err
		}
		return nil, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Invalid session"}
	}
	profileID, err := a.verifySessionToken(token)
	if err != nil {
		return nil, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Invalid session"}
	}
	auth, err := a.loadAuthContext(c.Request.Context(), profileID)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Account not found or disabled"}
	}
	return auth, nil
}

func (a *App) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := getAuthContext(c); !ok {
			writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Authentication required"})
			return
		}
		c.Next()
	}
}

// requireRole admits callers whose profile role is one of roles. It must run
// after resolveAuthContext and before any handler reads storage.
func (a *App) requireRole(roles ...string) gin.HandlerFunc {
	message := "Access denied - Admin access required"
	if containsString(roles, "official") {
		message = "Access denied - Admin/Official access required"
	}
	return func(c *gin.Context) {
		auth, ok := getAuthContext(c)
		if !ok {
			writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Authentication required"})
			return
		}
		if !containsString(roles, auth.Role) {
			apiErr := &apiError{Status: http.StatusForbidden, Code: "forbidden", Message: message}
			if a.cfg.Env != "production" {
				apiErr.Debug = gin.H{"current_role": auth.Role, "required_roles": roles}
			}
			writeAPIError(c, apiErr)
			return
		}
		c.Next()
	}
}

// requireStaffHTML guards dashboard pages, redirecting to the login form instead of returning JSON.
func (a *App) requireStaffHTML() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth, err := a.authenticateRequest(c)
		if err != nil {
			var apiErr *apiError
			if !errors.Is(err, errMissingSession) && !errors.As(err, &apiErr) {
				a.log.Error("resolve dashboard session failed", "err", err)
			}
			next := sanitizeAdminRedirectTarget(c.Request.URL.RequestURI())
			c.Redirect(http.StatusSeeOther, "/admin/login?next="+url.QueryEscape(next))
			c.Abort()
			return
		}
		if !auth.IsStaff() {
			c.String(http.StatusForbidden, "Access denied - Admin/Official access required")
			c.Abort()
			return
		}
		c.Set(authContextKey, *auth)
		c.Next()
	}
}

func getAuthContext(c *gin.Context) (AuthContext, bool) {
	value, ok := c.Get(authContextKey)
	if !ok {
		return AuthContext{}, false
	}
	auth, ok := value.(AuthContext)
	return auth, ok
}

func (a *App) setSessionCookie(c *gin.Context, token string) {
	secure := a.cfg.Env == "production"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(sessionDuration.Seconds()), "/", "", secure, true)
}

func (a *App) clearSessionCookie(c *gin.Context) {
	secure := a.cfg.Env == "production"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", secure, true)
}

// background runs task detached from the request with its own timeout.
func (a *App) background(task func(ctx context.Context)) {
	if a.runBackground != nil {
		a.runBackground(task)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTaskTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("background task panicked", "panic", r)
			}
		}()
		task(ctx)
	}()
}
