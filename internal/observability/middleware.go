package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NodeHeader names the node that answered an admin request.
const NodeHeader = "X-Capipc-Node"

// pollRoutes are hit by supervisors and scrapers; successful requests log at
// trace so they do not drown dispatch lines.
var pollRoutes = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// AdminMiddleware stamps the node header, then records one metric sample and
// one log event per admin request. Unmatched paths share a single route
// label to keep metric cardinality bounded.
func AdminMiddleware(node string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Header(NodeHeader, node)
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(node, c.Request.Method, route, status, elapsed)

		event := adminEvent(logger, route, status)
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("admin_request")
	}
}

func adminEvent(logger zerolog.Logger, route string, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return logger.Error()
	case status >= http.StatusBadRequest:
		return logger.Warn()
	case pollRoutes[route]:
		return logger.Trace()
	default:
		return logger.Debug()
	}
}
