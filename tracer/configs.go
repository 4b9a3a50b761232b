package tracer

// Config defines the configuration for the OpenTelemetry tracer.
type Config struct {
	// ServiceName identifies the service in exported traces.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// AppEnv is recorded as the "deployment.environment" resource attribute.
	AppEnv string `yaml:"app_env" mapstructure:"app_env"`

	// EnableExport sends spans to an OTLP/HTTP collector. When false spans are
	// still created, so context propagation keeps working, but nothing leaves
	// the process.
	EnableExport bool `yaml:"enable_export" mapstructure:"enable_export"`

	// Endpoint is the collector host:port. Empty uses the exporter default,
	// which honours OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`

	// SampleRatio is the fraction of new traces that are sampled. Zero samples
	// everything; child spans always follow their parent's decision.
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}
