package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
)

func (a *App) buildRouter() (*gin.Engine, error) {
	if a.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies([]string{trustedProxyLoopbackIPv4, trustedProxyLoopbackIPv6}); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(a.loggingMiddleware())
	r.Use(a.metrics.instrument())
	r.Use(cors.New(a.corsConfig()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics.handler()))
	}

	api := r.Group("/api/v1")
	// Credential routes stay outside session resolution so a stale token never blocks them.
	api.POST("/auth/register", a.registerHandler)
	api.POST("/auth/login", a.loginHandler)
	api.POST("/auth/logout", a.logoutHandler)

	authed := api.Group("", a.resolveAuthContext())
	authed.GET("/auth/session", a.requireAuth(), a.sessionHandler)

	authed.GET("/issues", a.listIssuesHandler)
	authed.POST("/issues", a.rateLimit("issue", a.issueLimiter), a.createIssueHandler)
	authed.GET("/issues/near", a.nearbyIssuesHandler)
	authed.GET("/issues/my", a.requireAuth(), a.myIssuesHandler)
	authed.GET("/issues/:id", a.issueDetailsHandler)
	authed.POST("/issues/:id/vote", a.rateLimit("vote", a.voteLimiter), a.voteIssueHandler)

	staffOnly := a.requireRole(staffRoles...)
	adminOnly := a.requireRole("admin")

	authed.PATCH("/issues/:id/status", staffOnly, a.updateIssueStatusHandler)
	authed.PUT("/issues/:id/status", staffOnly, a.updateIssueStatusHandler)

	authed.GET("/departments", a.publicDepartmentsHandler)
	authed.GET("/announcements", a.publicAnnouncementsHandler)

	admin := authed.Group("/admin")
	admin.GET("/issues", staffOnly, a.adminIssuesHandler)
	admin.GET("/issues/export", staffOnly, a.adminExportHandler)
	admin.PUT("/issues/:id/status", staffOnly, a.updateIssueStatusHandler)
	admin.POST("/issues/bulk", staffOnly, a.bulkIssuesHandler)
	admin.GET("/stats", staffOnly, a.adminStatsHandler)

	admin.GET("/departments", staffOnly, a.adminDepartmentsHandler)
	admin.POST("/departments", adminOnly, a.createDepartmentHandler)
	admin.PUT("/departments/:id", adminOnly, a.updateDepartmentHandler)
	admin.DELETE("/departments/:id", adminOnly, a.deleteDepartmentHandler)
	admin.GET("/departments/:id/categories", staffOnly, a.listCategoriesHandler)
	admin.POST("/departments/:id/categories", staffOnly, a.addCategoryHandler)
	admin.DELETE("/departments/:id/categories", staffOnly, a.deleteCategoryHandler)

	admin.GET("/announcements", staffOnly, a.adminAnnouncementsHandler)
	admin.POST("/announcements", staffOnly, a.createAnnouncementHandler)
	admin.PATCH("/announcements/:id", staffOnly, a.toggleAnnouncementHandler)
	admin.DELETE("/announcements/:id", adminOnly, a.deleteAnnouncementHandler)

	admin.GET("/users", adminOnly, a.listUsersHandler)
	admin.PUT("/users", adminOnly, a.updateUserHandler)
	admin.DELETE("/users", adminOnly, a.deleteUserHandler)

	if err := a.registerAdminRoutes(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (a *App) corsConfig() cors.Config {
	origins := make([]string, 0, len(a.cfg.CORSAllowedOrigins)+3)
	seen := map[string]struct{}{}
	add := func(origin string) {
		if origin == "" {
			return
		}
		if _, ok := seen[origin]; ok {
			return
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	add(a.cfg.PublicBaseURL)
	for _, origin := range a.cfg.CORSAllowedOrigins {
		add(origin)
	}
	if a.cfg.Env != "production" {
		add(devCORSOriginLocalhost)
		add(devCORSOriginLoopback)
	}

	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", requestIDHeader}
	cfg.ExposeHeaders = []string{requestIDHeader, "Content-Disposition"}
	cfg.AllowCredentials = true
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = ulid.Make().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (a *App) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "err", c.Errors.String())
			a.log.Error("request", attrs...)
			return
		}
		a.log.Info("request", attrs...)
	}
}
