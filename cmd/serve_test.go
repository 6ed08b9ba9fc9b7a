// File: cmd/serve_test.go
package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/carlot/internal/config"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Site.SearchPageURL = "https://cars.example/search"
	cfg.Site.CarPageURL = "https://cars.example/car/"
	cfg.Engine.WorkerConcurrency = 3
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestApp_ServesHealthAndShutsDown(t *testing.T) {
	cfg := testConfig()
	logger := zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.run(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status    string         `json:"status"`
		Pool      map[string]int `json:"pool"`
		Scheduler map[string]int `json:"scheduler"`
	}
	require.NoError(t, jsoniter.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Pool["created"], "no browser is launched before the first job")
	assert.Equal(t, 3, health.Scheduler["workers"])
	assert.Equal(t, 1000, health.Scheduler["queue_size"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not shut down")
	}

	// Intake is closed after shutdown.
	_, err = http.Get("http://" + ln.Addr().String() + "/healthz")
	assert.Error(t, err)
}

func TestRunServe_ListenFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Addr = "definitely not an address"

	err := runServe(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
