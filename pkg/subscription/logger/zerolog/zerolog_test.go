package zerolog

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pitchly/pitchly/pkg/subscription"
)

func TestLogger_WritesAllLevels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message", subscription.Field{Key: "key", Value: "value"})
	logger.Info("info message", subscription.Field{Key: "key", Value: "value"})
	logger.Warn("warn message", subscription.Field{Key: "key", Value: "value"})
	logger.Error("error message", subscription.Field{Key: "key", Value: "value"})

	if output.Len() == 0 {
		t.Error("Expected logs to be written")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	// Debug and Info should be filtered out
	logger.Debug("debug message")
	logger.Info("info message")

	if output.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected warn and error to be logged")
	}
}

func TestLogger_MultipleFields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("test message",
		subscription.Field{Key: "user_id", Value: "user_1"},
		subscription.Field{Key: "tier", Value: "professional"},
		subscription.Field{Key: "used", Value: 3},
	)

	if output.Len() == 0 {
		t.Error("Expected log with multiple fields to be written")
	}
}
