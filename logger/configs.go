package logger

// Log levels accepted by Config.Level.
const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

// Config configures the zap logger behind LoggerClient.
type Config struct {
	// Level is one of Debug, Info, Warning or Error. Anything else means Info.
	Level string `yaml:"level" mapstructure:"level"`

	// EnableTracing adds trace_id and span_id from the span in the context to
	// every *WithContext entry.
	EnableTracing bool `yaml:"enable_tracing" mapstructure:"enable_tracing"`

	// ServiceName is attached to every entry as "service".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// Encoding is "json" (default) or "console".
	Encoding string `yaml:"encoding" mapstructure:"encoding"`

	// CallerSkip is the number of wrapper frames to skip when reporting the
	// caller. Values below 1 mean 1.
	CallerSkip int `yaml:"caller_skip" mapstructure:"caller_skip"`
}
