package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-lifecycle/internal/observability"
)

const lifecyclePrefix = "/internal/lifecycle"

// Metrics records request counts and latency per lifecycle route.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		status := c.Writer.Status()
		m.ObserveAPI(c.Request.Method, routeLabel(c, status), strconv.Itoa(status), time.Since(start))
	}
}

// routeLabel is the route template without the lifecycle prefix. Accepted
// entity deletions are labelled with their collection, which the registry
// has already validated; rejected ones keep the placeholder.
func routeLabel(c *gin.Context, status int) string {
	route := c.FullPath()
	if route == "" {
		return "unmatched"
	}
	route = strings.TrimPrefix(route, lifecyclePrefix)
	if status < 400 && strings.Contains(route, ":collection") {
		if coll := c.Param("collection"); coll != "" {
			route = strings.Replace(route, ":collection", coll, 1)
		}
	}
	return route
}
