package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/carlot/internal/config"
)

// Launcher starts new browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// ChromeLauncher starts one Chrome process per session so sessions share no
// cookies, storage or renderer state.
type ChromeLauncher struct {
	// base outlives any single request; sessions are children of it.
	base    context.Context
	cfg     config.BrowserConfig
	persona Persona
	logger  *zap.Logger
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher creates a launcher whose sessions are torn down when base is cancelled.
func NewChromeLauncher(base context.Context, cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{
		base:    base,
		cfg:     cfg,
		persona: Persona{UserAgent: cfg.UserAgent, Languages: defaultLanguages},
		logger:  logger.Named("launcher"),
	}
}

// Launch starts a browser, applies the stealth persona and waits until the
// page target answers. ctx bounds the launch only, never the session.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	id := uuid.NewString()
	logger := l.logger.With(zap.String("session_id", id))
	logger.Debug("Launching browser session.")

	allocCtx, allocCancel := chromedp.NewExecAllocator(l.base, buildAllocatorOptions(l.cfg)...)
	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	launchCtx, cancelLaunch := context.WithTimeout(ctx, l.cfg.LaunchTimeout)
	defer cancelLaunch()

	// The first Run on a chromedp context starts the process and binds the
	// browser to that context, so it has to be tabCtx itself. The launch
	// deadline is enforced from outside.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx, stealthTasks(l.persona), chromedp.Navigate("about:blank"))
	}()

	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("browser failed to start or respond: %w", err)
		}
	case <-launchCtx.Done():
		tabCancel()
		allocCancel()
		<-started
		return nil, fmt.Errorf("browser launch did not complete: %w", launchCtx.Err())
	}

	logger.Info("Browser session launched.")
	return &chromeSession{
		id:          id,
		logger:      l.logger,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		url:         "about:blank",
	}, nil
}

// buildAllocatorOptions turns the browser config into allocator options on
// top of chromedp's defaults.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// allocatorFlags is the flag set passed to Chrome. A false value removes a
// flag that chromedp's defaults would otherwise set. Explicit args from
// config win over everything else.
func allocatorFlags(cfg config.BrowserConfig) map[string]any {
	var headless any = false
	if cfg.Headless {
		headless = "new"
	}

	flags := map[string]any{
		"headless":               headless,
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",
		"disable-gpu":            true,
		"no-sandbox":             true,
		"disable-dev-shm-usage":  true,
		"disable-extensions":     true,
		"disable-infobars":       true,
		"disable-notifications":  true,
		"window-size":            fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight),
	}
	if cfg.UserAgent != "" {
		flags["user-agent"] = cfg.UserAgent
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}
