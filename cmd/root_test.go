// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/carlot/internal/config"
	"github.com/xkilldash9x/carlot/internal/observability"
)

// resetForTest silences the global logger and clears the env the config reads.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)

	for _, key := range []string{"SEARCHPAGE_URL", "CARPAGE_URL", "CARLOT_SITE_SEARCH_PAGE_URL", "CARLOT_SITE_CAR_PAGE_URL"} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carlot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := execute(t, context.Background(), "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCmd_NeedsNoConfig(t *testing.T) {
	resetForTest(t)
	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "carlot "+Version)
}

func TestServeCmd_RejectsMissingSiteURLs(t *testing.T) {
	resetForTest(t)
	t.Chdir(t.TempDir())

	_, err := execute(t, context.Background(), "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site.search_page_url is required")
}

func TestServeCmd_BadConfigFile(t *testing.T) {
	resetForTest(t)
	path := writeConfig(t, "site: [not, a, map")

	_, err := execute(t, context.Background(), "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestServeCmd_StartsAndStopsOnCancel(t *testing.T) {
	resetForTest(t)
	path := writeConfig(t, `
site:
  search_page_url: https://cars.example/search
  car_page_url: https://cars.example/car/
engine:
  worker_concurrency: 2
server:
  shutdown_timeout: 5s
`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	_, err := execute(t, ctx, "serve", "--config", path, "--addr", "127.0.0.1:0")
	assert.NoError(t, err)
}

func TestServeCmd_EnvOverridesFile(t *testing.T) {
	resetForTest(t)
	t.Setenv("CARLOT_SERVER_ADDR", "not-an-address")
	path := writeConfig(t, `
site:
  search_page_url: https://cars.example/search
  car_page_url: https://cars.example/car/
server:
  addr: 127.0.0.1:0
`)

	_, err := execute(t, context.Background(), "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-address")
}
