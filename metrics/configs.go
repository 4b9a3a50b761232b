package metrics

const (
	// DefaultAddress is where the metrics endpoint listens when Config.Address is nil.
	DefaultAddress = ":9091"

	// DefaultNamespace prefixes every metric name when Config.Namespace is empty.
	DefaultNamespace = "sqlpool"
)

// Config defines how metrics are registered and served.
type Config struct {
	// Address is the listen address of the /metrics endpoint. Nil means
	// DefaultAddress; a pointer to "" disables the HTTP server while keeping
	// the registry usable.
	Address *string `yaml:"address" mapstructure:"address"`

	// ServiceName is added as a constant "service" label to every metric.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// Namespace prefixes metric names.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// Buckets are the duration histogram buckets in seconds. Empty means
	// prometheus.DefBuckets.
	Buckets []float64 `yaml:"buckets" mapstructure:"buckets"`

	// SystemMetrics also registers the Go runtime and process collectors.
	SystemMetrics bool `yaml:"system_metrics" mapstructure:"system_metrics"`
}

// Ptr returns a pointer to s, for filling Config.Address.
func Ptr(s string) *string {
	return &s
}
