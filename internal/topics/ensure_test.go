// v1
// internal/topics/ensure_test.go
package topics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OnLog-System/onlog-pipeline/internal/config"
)

func TestForConfigLaysOutAllTopics(t *testing.T) {
	cfg := config.Default()
	layout := ForConfig(cfg, 3, 2)
	require.Len(t, layout, 6)

	byName := make(map[string]int)
	for _, tc := range layout {
		byName[tc.Topic] = tc.NumPartitions
		require.Equal(t, 2, tc.ReplicationFactor)
	}
	require.Equal(t, 3, byName["sensor.env.raw"])
	require.Equal(t, 3, byName["sensor.scale.raw"])
	require.Equal(t, 3, byName["machine.raw"])
	require.Equal(t, 3, byName["sensor.parsed"])
	require.Equal(t, 3, byName["kpi.event"])
	require.Equal(t, 1, byName["sensor.parse.dlq"])
}

func TestIsAlreadyExists(t *testing.T) {
	require.False(t, isAlreadyExists(nil))
	require.False(t, isAlreadyExists(errors.New("network down")))
	require.True(t, isAlreadyExists(errors.New("[36] Topic Already Exists: Topic with this name already exists")))
}
