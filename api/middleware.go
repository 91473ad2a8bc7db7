package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"golang.org/x/time/rate"

	"ytdlapi/config"
)

// AuthMiddleware enforces API keys in unprivate mode. The key is read from
// the "api_key" field of a JSON body, falling back to the query string.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if cfg.AuthMode != config.ModeUnprivate {
			c.Next()
			return
		}

		apiKey := bodyAPIKey(c)
		if apiKey == "" {
			apiKey = strings.TrimSpace(c.Query("api_key"))
		}
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required. Provide api_key in JSON body or query string."})
			return
		}
		if _, ok := keys[apiKey]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid API key."})
			return
		}

		c.Next()
	}
}

// bodyAPIKey reads api_key from a JSON object body. The body is cached on
// the context so the handler can bind it again.
func bodyAPIKey(c *gin.Context) string {
	if c.Request.Body == nil || c.ContentType() != binding.MIMEJSON {
		return ""
	}
	var body map[string]interface{}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	if v, ok := body["api_key"]; ok && v != nil {
		return strings.TrimSpace(stringify(v))
	}
	return ""
}

// RateLimitMiddleware applies one token bucket shared by every client.
// A non-positive RATE_LIMIT disables it.
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if cfg.RateLimit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again shortly."})
			return
		}
		c.Next()
	}
}
