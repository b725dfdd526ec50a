package metrics

// Config holds metrics registry configuration.
type Config struct {
	// Namespace is the Prometheus namespace prefix for all metrics.
	Namespace string

	// EnableProcessMetrics registers the process collector.
	EnableProcessMetrics bool

	// EnableRuntimeMetrics registers the Go runtime collector.
	EnableRuntimeMetrics bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:            "sokoflow",
		EnableProcessMetrics: true,
		EnableRuntimeMetrics: true,
	}
}
