package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "pbs-jobs.log")
	require.NoError(t, Init("info", file))
	t.Cleanup(func() { SetLogger(nil) })

	Logger().Info("fetched jobs", zap.String("server", "cluster-a"))
	require.NoError(t, Logger().Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fetched jobs")
	assert.Contains(t, string(data), "cluster-a")
	assert.False(t, IsDebugEnabled())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init("chatty", "")
	assert.ErrorContains(t, err, "chatty")
}
