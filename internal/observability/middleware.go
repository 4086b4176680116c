package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID in both directions
const RequestIDHeader = "X-Request-ID"

// probePaths are logged at debug level so liveness polling stays out of the log
var probePaths = map[string]bool{"/health": true, "/metrics": true}

// countingWriter tracks the bytes written to the response
type countingWriter struct {
	gin.ResponseWriter
	n int
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.n += n
	return n, err
}

func (w *countingWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.n += n
	return n, err
}

// RequestLoggingMiddleware assigns a correlation ID, logs each request once it
// completes and records the http_* metrics against the route pattern
func RequestLoggingMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(WithCorrelationID(c.Request.Context(), id))

		cw := &countingWriter{ResponseWriter: c.Writer}
		c.Writer = cw

		c.Next()

		// the auth middleware may have replaced the request context with one carrying the client ID
		ctx := c.Request.Context()
		status := c.Writer.Status()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := map[string]interface{}{
			"method":        c.Request.Method,
			"route":         route,
			"path":          c.Request.URL.Path,
			"status":        status,
			"duration_ms":   elapsed.Milliseconds(),
			"response_size": cw.n,
			"ip":            c.ClientIP(),
		}

		switch {
		case len(c.Errors) > 0:
			fields["errors"] = c.Errors.String()
			logger.Error(ctx, "Request failed", c.Errors.Last().Err, fields)
		case status >= http.StatusBadRequest:
			logger.Warn(ctx, "Request completed with error status", fields)
		case probePaths[c.Request.URL.Path]:
			logger.Debug(ctx, "Probe served", fields)
		default:
			logger.Info(ctx, "Request completed", fields)
		}

		RecordHTTPMetrics(c.Request.Method, route, status, elapsed, cw.n)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 carrying the request ID
func RecoveryMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			ctx := c.Request.Context()
			logger.Error(ctx, "Panic recovered", nil, map[string]interface{}{
				"panic":  recovered,
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
			})

			body := gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "An unexpected error occurred",
			}
			if id := GetCorrelationID(ctx); id != "" {
				body["request_id"] = id
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": body})
		}()

		c.Next()
	}
}

// HealthHandler serves the aggregated health response; unhealthy maps to 503
func HealthHandler(checker *HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := checker.GetHealthResponse(c.Request.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

// MetricsHandler dumps the collector as JSON. ?prefix=sql_ limits the output
// to series whose name starts with the prefix.
func MetricsHandler(collector *MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		all := collector.GetAll()
		if prefix := c.Query("prefix"); prefix != "" {
			for key, m := range all {
				if !strings.HasPrefix(m.Name, prefix) {
					delete(all, key)
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"metrics":   all,
			"count":     len(all),
			"timestamp": time.Now().UTC(),
		})
	}
}

// CORSWithLogging allows any origin to call the tool API and answers preflights directly
func CORSWithLogging(logger *Logger) gin.HandlerFunc {
	const (
		allowMethods = "GET, POST, DELETE, OPTIONS"
		allowHeaders = "Content-Type, Authorization, X-API-Key, " + RequestIDHeader
	)

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		if origin := c.GetHeader("Origin"); origin != "" {
			logger.Debug(c.Request.Context(), "CORS preflight", map[string]interface{}{
				"origin": origin,
				"method": c.GetHeader("Access-Control-Request-Method"),
			})
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
