package middleware

import (
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"

    "github.com/iliyamo/chat-realtime/internal/metrics"
)

// RequestLogger logs one line per request and records the HTTP metrics.
// The route template (c.Path) is used as the metric label to keep
// cardinality bounded.
func RequestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                c.Error(err)
            }
            req := c.Request()
            status := c.Response().Status
            path := c.Path()
            if path == "" {
                path = "unmatched"
            }
            elapsed := time.Since(start)

            metrics.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
            metrics.HTTPRequestDuration.WithLabelValues(req.Method, path).Observe(elapsed.Seconds())

            ev := logger.Info()
            if status >= 500 {
                ev = logger.Error().Err(err)
            }
            ev.Str("method", req.Method).
                Str("path", req.URL.Path).
                Int("status", status).
                Dur("latency", elapsed).
                Str("remote_addr", c.RealIP()).
                Msg("request completed")
            return nil
        }
    }
}
