package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/kamiwaza-ai/appgarden/internal/auth"
)

// requestIDMiddleware assigns a ULID request id to requests the edge proxy did
// not tag, so logs and relayed calls can be correlated
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(auth.HeaderRequestID)
		if id == "" {
			id = ulid.Make().String()
			c.Request.Header.Set(auth.HeaderRequestID, id)
		}
		c.Header(auth.HeaderRequestID, id)
		c.Next()
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		event := s.logger.Info()
		if c.Writer.Status() >= 500 {
			event = s.logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetHeader(auth.HeaderRequestID)).
			Msg("HTTP request")
	}
}
