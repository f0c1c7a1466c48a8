package api

import "time"

// Config holds server configuration.
type Config struct {
	Port              int
	AllowedOrigins    []string // CORS and websocket origins (empty = allow all)
	RateLimitRequests int      // Requests per minute per client IP (0 = disabled)
	RateLimitBurst    int      // Burst size
	Preview           PreviewConfig
	ShutdownTimeout   time.Duration
}

// PreviewConfig limits the live preview socket.
type PreviewConfig struct {
	MaxMessageSize int64 // Largest accepted chapter text in bytes
	MaxMessageRate int   // Compile requests per second per connection
}

// DefaultConfig returns the settings used by `sidestory serve`.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		RateLimitBurst: 10,
		Preview: PreviewConfig{
			MaxMessageSize: 256 << 10,
			MaxMessageRate: 10,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}
