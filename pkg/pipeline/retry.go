// pkg/pipeline/retry.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/smi-platform/smi-warehouse/pkg/config"
	"go.uber.org/zap"
)

// RetryConfig holds retry configuration for warehouse writes.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts
	InitialWait time.Duration // Initial wait duration (doubled each retry)
	MaxWait     time.Duration // Maximum wait duration between retries
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     10 * time.Second,
	}
}

// retryConfigFrom derives retry settings from pipeline configuration.
func retryConfigFrom(cfg config.PipelineConfig) *RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		rc.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		rc.InitialWait = cfg.RetryDelay
	}
	return rc
}

// RetryWithBackoff executes an operation with exponential backoff. It stops
// early when the context is cancelled and returns the final error once all
// attempts are exhausted.
func RetryWithBackoff(ctx context.Context, cfg *RetryConfig, logger *zap.Logger, name string, operation func(context.Context) error) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var err error
	wait := cfg.InitialWait

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = operation(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("Operation succeeded after retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt))
			}
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn("Operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", cfg.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry: %w", name, ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxAttempts, err)
}
