package main

import (
	"flag"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"vsockmux/pkg/config"
)

func createCLIContext(t *testing.T, args ...string) *cli.Context {
	set := flag.NewFlagSet("", flag.ContinueOnError)
	set.String("config", "", "")
	set.String("log-level", "", "")
	set.Bool("repl", false, "")
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestLoadConfigDefault(t *testing.T) {
	cfg, err := loadConfig(createCLIContext(t))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigFileAndOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsockd.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("[log]\nlevel = \"info\"\n[stack]\nports = [1234]\n"), 0o600))

	cfg, err := loadConfig(createCLIContext(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, []uint32{1234}, cfg.Ports)

	cfg, err = loadConfig(createCLIContext(t, "--config", path, "--log-level", "trace"))
	require.NoError(t, err)
	assert.Equal(t, logrus.TraceLevel, cfg.LogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(createCLIContext(t, "--config", filepath.Join(t.TempDir(), "missing.toml")))
	assert.Error(t, err)

	_, err = loadConfig(createCLIContext(t, "--log-level", "loud"))
	assert.Error(t, err)
}
