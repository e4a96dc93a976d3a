package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds the response headers applied to every
// admin surface request.
type SecurityHeadersConfig struct {
	CSP                 string
	FrameOptions        string
	ReferrerPolicy      string
	PermissionsPolicy   string
	ContentTypeOptions  string
	XSSProtection       string
	HSTS                string
	CustomHeaders       map[string]string
	RemoveServerHeaders bool
}

// APISecurityHeadersConfig returns the headers used by the admin JSON
// API: no framing, no third-party connections. It sets no caching
// headers; NoCache does that separately.
func APISecurityHeadersConfig() *SecurityHeadersConfig {
	return &SecurityHeadersConfig{
		CSP:                 "default-src 'none'; connect-src 'self';",
		FrameOptions:        "DENY",
		ReferrerPolicy:      "no-referrer",
		ContentTypeOptions:  "nosniff",
		XSSProtection:       "1; mode=block",
		HSTS:                "max-age=31536000; includeSubDomains",
		RemoveServerHeaders: true,
		CustomHeaders: map[string]string{
			"X-Robots-Tag": "noindex, nofollow, noarchive",
		},
	}
}

// SecurityHeaders applies config's headers to every response.
func SecurityHeaders(config *SecurityHeadersConfig) gin.HandlerFunc {
	if config == nil {
		config = APISecurityHeadersConfig()
	}

	return func(c *gin.Context) {
		if config.RemoveServerHeaders {
			c.Header("Server", "")
			c.Header("X-Powered-By", "")
		}
		if config.CSP != "" {
			c.Header("Content-Security-Policy", config.CSP)
		}
		if config.FrameOptions != "" {
			c.Header("X-Frame-Options", config.FrameOptions)
		}
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.PermissionsPolicy != "" {
			c.Header("Permissions-Policy", config.PermissionsPolicy)
		}
		if config.ContentTypeOptions != "" {
			c.Header("X-Content-Type-Options", config.ContentTypeOptions)
		}
		if config.XSSProtection != "" {
			c.Header("X-XSS-Protection", config.XSSProtection)
		}
		if config.HSTS != "" && c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", config.HSTS)
		}
		for key, value := range config.CustomHeaders {
			c.Header(key, value)
		}
		c.Next()
	}
}

// NoCache marks a response as never cacheable. SetupRoutes does not
// install it on any route.
func NoCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}
