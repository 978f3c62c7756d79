package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, WARN, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogger_JSONFieldsAndLevel(t *testing.T) {
	var out bytes.Buffer
	log := NewLogger(LoggerConfig{Level: INFO, Component: "kernel", Output: &out, JSON: true})

	log.Debug("hidden")
	log.Named("micro").With(String("task", "idle")).Info("Started", Uint64("ticks", 3))

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "Started", rec["msg"])
	assert.Equal(t, "kernel.micro", rec["component"])
	assert.Equal(t, "idle", rec["task"])
	assert.Equal(t, float64(3), rec["ticks"])
}

func TestWrapError(t *testing.T) {
	base := errors.New("boom")
	err := WrapErrorf(base, "stage %d", 2)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "stage 2: boom", err.Error())
	assert.EqualError(t, WrapError(nil, "plain"), "plain")
}

func TestGracefulShutdown_ReverseOrderAndErrors(t *testing.T) {
	g := NewGracefulShutdown(time.Second, DiscardLogger())
	var order []string
	g.Register("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	g.Register("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("stuck")
	})

	err := g.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: stuck")
	assert.Equal(t, []string{"second", "first"}, order)

	// Functions run once.
	require.NoError(t, g.Shutdown(context.Background()))
}

func TestGracefulShutdown_Timeout(t *testing.T) {
	g := NewGracefulShutdown(10*time.Millisecond, DiscardLogger())
	release := make(chan struct{})
	defer close(release)
	g.Register("slow", func(context.Context) error {
		<-release
		return nil
	})
	err := g.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestShortID(t *testing.T) {
	id := GenerateID()
	assert.Len(t, id, 36)
	assert.Equal(t, id[:8], ShortID(id))
	assert.Equal(t, "abc", ShortID("abc"))
}
