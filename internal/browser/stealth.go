package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// evasionScript runs before any page script. The search page hides its
// results from clients that report navigator.webdriver.
const evasionScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  if (!window.chrome) { window.chrome = { runtime: {} }; }
})();`

// Persona is what the browser reports about itself to the site.
type Persona struct {
	UserAgent string
	Languages []string
}

// defaultLanguages matches the site's audience.
var defaultLanguages = []string{"ru-RU", "ru", "en-US"}

// stealthTasks builds the CDP actions applied to every fresh session.
func stealthTasks(p Persona) chromedp.Tasks {
	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasion script: %w", err)
			}
			return nil
		}),
	}
	if p.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(p.UserAgent))
	}
	if len(p.Languages) > 0 {
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}))
	}
	return tasks
}

func acceptLanguage(langs []string) string {
	var b strings.Builder
	for i, l := range langs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(l)
		if i > 0 {
			q := 10 - i
			if q < 1 {
				q = 1
			}
			fmt.Fprintf(&b, ";q=0.%d", q)
		}
	}
	return b.String()
}
