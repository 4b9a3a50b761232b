// Package logger provides the structured logger used by the sqlpool packages.
//
// It wraps zap with a small map-based API so call sites do not depend on zap
// field constructors, and it can correlate entries with the OpenTelemetry
// span carried in a context:
//
//	log, err := logger.NewLoggerClient(logger.Config{
//	    Level:         logger.Info,
//	    ServiceName:   "billing",
//	    EnableTracing: true,
//	})
//	if err != nil {
//	    return err
//	}
//	log.WarnWithContext(ctx, "timed out waiting for a connection", err, map[string]interface{}{
//	    "shard": "eu",
//	})
//
// A *LoggerClient satisfies pool.Logger and transaction.Logger, so it can be
// passed to pool.WithLogger and transaction.WithLogger directly.
package logger
