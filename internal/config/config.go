package config

import (
	"time"
)

// Config holds runtime configuration for the wslink server.
type Config struct {
	Listen        string        `json:"listen"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	IdleTimeout   time.Duration `json:"idle_timeout"`
	AllowedOrigin string        `json:"allowed_origin"`

	// ShutdownTimeout is how long, with no connected clients, the server
	// waits before stopping itself (spec.md §4.6).
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Secret, if non-empty, must be presented in wslink.hello's args[0]
	// for hello to succeed. Other methods are served whether or not a
	// successful hello came first.
	Secret string `json:"secret"`
}

func Default() Config {
	return Config{
		Listen:          ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Secret:          "",
	}
}
