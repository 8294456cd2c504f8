package replicator

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// zerologAdapter is the default Logger, backed by zerolog with stderr output
// and timestamps. Drivers fall back to this when no Logger is injected.
type zerologAdapter struct {
	logger  zerolog.Logger
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// NewDefaultLogger returns the package default Logger implementation.
func NewDefaultLogger() Logger {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var samp zerolog.Sampler
	if v := os.Getenv("S3DB_REPLICATOR_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(uint32(n))
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = l.Sample(samp)
	}
	return &zerologAdapter{logger: l, sampler: samp, sampled: sampled}
}

func (l *zerologAdapter) log(event *zerolog.Event, msg string, keysAndValues ...any) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

func (l *zerologAdapter) Debug(msg string, keysAndValues ...any) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

func (l *zerologAdapter) Info(msg string, keysAndValues ...any) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

func (l *zerologAdapter) Warn(msg string, keysAndValues ...any) {
	if l.sampler != nil {
		l.log(l.sampled.Warn(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

func (l *zerologAdapter) Error(msg string, keysAndValues ...any) {
	if l.sampler != nil {
		l.log(l.sampled.Error(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Error(), msg, keysAndValues...)
}
