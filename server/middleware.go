package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wordflowlab/agentdeck/pkg/logging"
)

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("requestID", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// structuredLoggingMiddleware logs requests through the application logger
func structuredLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logging.Info(c.Request.Context(), "http.request", map[string]interface{}{
			"request_id": c.GetString("requestID"),
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
	}
}

// corsMiddleware handles CORS
func corsMiddleware(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range config.AllowOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
			c.Header("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
			if config.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// apiKeyAuthMiddleware validates API key
func apiKeyAuthMiddleware(config APIKeyConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(config.HeaderName)
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{"code": "missing_api_key"}})
			c.Abort()
			return
		}
		valid := false
		for _, key := range config.Keys {
			if key == apiKey {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{"code": "invalid_api_key"}})
			c.Abort()
			return
		}
		c.Set("authenticated", true)
		c.Next()
	}
}

// rateLimitMiddleware implements fixed-window per-IP rate limiting
func rateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	type client struct {
		count     int
		resetTime time.Time
		mu        sync.Mutex
	}

	clients := make(map[string]*client)
	var mu sync.RWMutex

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		cl, exists := clients[ip]
		if !exists {
			cl = &client{count: 0, resetTime: time.Now().Add(config.WindowSize)}
			clients[ip] = cl
		}
		mu.Unlock()

		cl.mu.Lock()
		defer cl.mu.Unlock()

		if time.Now().After(cl.resetTime) {
			cl.count = 0
			cl.resetTime = time.Now().Add(config.WindowSize)
		}

		if cl.count >= config.RequestsPerIP {
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": gin.H{"code": "rate_limit_exceeded"}})
			c.Abort()
			return
		}

		cl.count++
		c.Next()
	}
}
