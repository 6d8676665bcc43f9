package main

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordRequestsByRoute(t *testing.T) {
	app, _ := newTestApp(t)
	router := newTestRouter(t, app)

	serve(router, newJSONRequest(http.MethodGet, "/healthz", nil))
	serve(router, newJSONRequest(http.MethodGet, "/healthz", nil))
	serve(router, newJSONRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(app.metrics.httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(app.metrics.httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(app.metrics.httpInFlight))
}

func TestMetricsEndpointExposesRegistry(t *testing.T) {
	app, _ := newTestApp(t)
	app.metrics.issueCreated()
	app.metrics.loginAttempt(false)
	router := newTestRouter(t, app)

	rec := serve(router, newJSONRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "civic_issues_created_total 1")
	assert.Contains(t, body, `civic_logins_total{result="failed"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestVoteRecordedClassifiesOutcomes(t *testing.T) {
	m := newAppMetrics()
	m.voteRecorded(nil)
	m.voteRecorded(conflict("already_voted", "You have already voted for this issue"))
	m.voteRecorded(notFound("issue_not_found", "Issue not found"))
	m.voteRecorded(errors.New("boom"))

	for _, result := range []string{"accepted", "duplicate", "not_found", "error"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.votesTotal.WithLabelValues(result)), result)
	}
}

func TestBulkAndStatusMetrics(t *testing.T) {
	m := newAppMetrics()
	m.bulkCompleted("flag_priority", 3, 1)
	m.statusChanged("active", "closed")
	m.rateLimited("vote")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.bulkItems.WithLabelValues("flag_priority", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulkItems.WithLabelValues("flag_priority", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusTransitions.WithLabelValues("active", "closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitedTotal.WithLabelValues("vote")))

	expected := `
# HELP civic_rate_limited_total Requests rejected by a rate limiter.
# TYPE civic_rate_limited_total counter
civic_rate_limited_total{scope="vote"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.registry, strings.NewReader(expected), "civic_rate_limited_total"))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *appMetrics
	m.issueCreated()
	m.voteRecorded(nil)
	m.statusChanged("a", "b")
	m.bulkCompleted("x", 1, 1)
	m.rateLimited("x")
	m.loginAttempt(true)
	assert.NotNil(t, m.instrument())
}
