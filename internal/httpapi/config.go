package httpapi

import "time"

// Config carries HTTP surface settings.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Defaults fills unset fields.
func (config Config) Defaults() Config {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return config
}
