package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raysh454/sheetcas/internal/logging"
)

const DefaultMaxBodyBytes = 1 << 20

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr   string
	ReadTimeout  time.Duration
	// MaxBodyBytes caps POST bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Logger logging.Logger
	// Gatherer backs /metrics. Nil means the global default registry.
	Gatherer prometheus.Gatherer
}
