package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags gives each test a clean flag.CommandLine, since run()
// registers flags on the package-global set, and defining the same flag
// name twice on one set panics.
func resetFlags(args []string) {
	flag.CommandLine = flag.NewFlagSet(args[0], flag.ContinueOnError)
	os.Args = args
}

func TestRunVersionFlagExitsZeroWithoutTouchingConfig(t *testing.T) {
	resetFlags([]string{"gateway", "-version"})
	assert.Equal(t, exitOK, run())
}

func TestRunMissingConfigFileExitsConfigError(t *testing.T) {
	resetFlags([]string{"gateway", "-config", "/nonexistent/gateway.yaml"})
	assert.Equal(t, exitConfigError, run())
}

func TestRunValidateOnlyExitsZeroOnWellFormedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  openai:
    base_url: https://api.openai.com
    models: [gpt-4o-mini]
    rate_per_second: 5
    max_concurrent: 10
`), 0o644))

	resetFlags([]string{"gateway", "-config", path, "-validate"})
	assert.Equal(t, exitOK, run())
}

func TestRunValidateOnlyExitsConfigErrorOnMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))

	resetFlags([]string{"gateway", "-config", path, "-validate"})
	assert.Equal(t, exitConfigError, run())
}
