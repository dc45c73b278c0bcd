package httpapi

import (
	"time"

	"github.com/go-chi/cors"
)

const defaultMaxBodyBytes int64 = 1 << 20

// maxBodyBytes caps JSON request bodies.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes sets the request body cap; n <= 0 restores the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = defaultMaxBodyBytes
	}
	maxBodyBytes = n
}

// corsOptions is nil while CORS is disabled.
var corsOptions *cors.Options

// SetCORSOptions enables CORS for origins. Dashboards poll from the browser,
// so preflight responses are cached for ten minutes.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	if !enabled {
		corsOptions = nil
		return
	}
	corsOptions = &cors.Options{
		AllowedOrigins: append([]string(nil), origins...),
		AllowedMethods: append([]string(nil), methods...),
		AllowedHeaders: append([]string(nil), headers...),
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}
}
