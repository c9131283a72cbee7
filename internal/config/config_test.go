package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
default_command: list
pbs:
  qdel_path: /opt/pbs/bin/qdel
  qsub_path: /opt/pbs/bin/qsub
  submit_script_name: run.pbs
paths:
  linux_base_path: /data/users
  remote_script_name: que.py
drive_mapping:
  z: cluster-a.example.com
  Y: cluster-b.example.com
servers:
  - name: Cluster A
    hostname: cluster-a.example.com
  - name: Cluster B
    hostname: cluster-b.example.com
    key_file: /keys/b
ssh:
  user: alice
  connection_timeout: 5
tail:
  poll_interval: 2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded)

	assert.Equal(t, "list", cfg.DefaultCommand)
	assert.Equal(t, "run.pbs", cfg.PBS.SubmitScriptName)
	// defaults survive for keys the file leaves out
	assert.Equal(t, "/opt/pbs/bin/qstat", cfg.PBS.QstatPath)
	assert.Equal(t, 50, cfg.Tail.Lines)
	assert.Equal(t, "Simulation/messag", cfg.Tail.LogRelPath)

	assert.Equal(t, map[string]string{
		"Z": "cluster-a.example.com",
		"Y": "cluster-b.example.com",
	}, cfg.DriveMapping)

	assert.Equal(t, 5*time.Second, cfg.ConnectionTimeout())
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, "alice", cfg.RemoteUser())
	assert.Equal(t, "/data/users/alice", cfg.RemoteScriptDir())
	assert.Equal(t, "python3 /data/users/alice/que.py --json", cfg.RemoteFeedCommand())

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PBS.QsubPath = ""
	cfg.Servers = []Server{{Name: "a"}, {Name: "a", Hostname: "h"}}
	cfg.DriveMapping = map[string]string{"ZZ": "h"}

	_, err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "pbs.qsub_path")
	assert.Contains(t, msg, "paths.linux_base_path")
	assert.Contains(t, msg, "server 1: missing 'hostname'")
	assert.Contains(t, msg, `duplicate name "a"`)
	assert.Contains(t, msg, `"ZZ" is not a single drive letter`)
}

func TestValidateWarnsOnCollidingDrives(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	cfg.DriveMapping["X"] = "cluster-a.example.com"
	cfg.DriveMapping["W"] = "unknown.example.com"

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "W: maps to unknown.example.com")
	assert.Contains(t, warnings[1], "drives X, Z all map to cluster-a.example.com")
}

func TestKeyFileFor(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	cfg.SSH.KeyFile = "/keys/global"

	assert.Equal(t, "/keys/b", cfg.KeyFileFor(cfg.Servers[1]))
	assert.Equal(t, "/keys/global", cfg.KeyFileFor(cfg.Servers[0]))
}

func TestServerLookup(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	srv, ok := cfg.ServerByName("Cluster B")
	require.True(t, ok)
	assert.Equal(t, "cluster-b.example.com", srv.Hostname)

	srv, ok = cfg.ServerByHostname("cluster-a.example.com")
	require.True(t, ok)
	assert.Equal(t, "Cluster A", srv.Name)

	_, ok = cfg.ServerByName("Cluster C")
	assert.False(t, ok)
}
