package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/allow2/internal/config"
)

func TestMarshalConfig_LoadsBack(t *testing.T) {
	for _, name := range []string{"config.json5", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ALLOW2_ENV", "")
			cfg := config.Default()
			cfg.Environment = "staging"
			cfg.Check.Interval = config.Duration(7 * time.Second)

			path := filepath.Join(t.TempDir(), name)
			data, err := marshalConfig(cfg, path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data, 0o600))

			got, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, "staging", got.Environment)
			assert.Equal(t, 7*time.Second, got.Check.Interval.Std())
		})
	}
}

func TestRedactConfig_MasksSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.DeviceToken = "abcdefghijkl"
	cfg.State.Redis.Password = "pw"

	raw, err := redactConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "abcd****ijkl", raw["device_token"])

	redis := raw["state"].(map[string]any)["redis"].(map[string]any)
	assert.Equal(t, "****", redis["password"])
	assert.Equal(t, "localhost:6379", redis["addr"])
}
