package scraper

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessScripts(t *testing.T) {
	style := StyleHidden.script(30 * time.Second)
	assert.True(t, strings.HasSuffix(style, `(...[30000,"div.big_preloader","style"])`), style)
	assert.Contains(t, style, "loader.style.opacity === '0'")
	assert.Contains(t, style, "MutationObserver")

	class := ClassHidden.script(time.Second)
	assert.True(t, strings.HasSuffix(class, `(...[1000,"div.big_preloader","class"])`), class)
	assert.Contains(t, class, "loader.classList.contains('hide')")
}

func TestWaitReady(t *testing.T) {
	ctx := context.Background()

	t.Run("ready", func(t *testing.T) {
		site := newFakeSite()
		require.NoError(t, WaitReady(ctx, site, ClassHidden, time.Second))
		_, _, waits, _, _ := site.snapshot()
		assert.Equal(t, []string{"ready_class"}, waits)
	})

	t.Run("deadline elapsed in page", func(t *testing.T) {
		site := newFakeSite()
		site.loaderNeverHides = true
		err := WaitReady(ctx, site, StyleHidden, time.Second)
		assert.ErrorIs(t, err, ErrPageTimeout)
	})

	t.Run("caller context ends the wait", func(t *testing.T) {
		site := newFakeSite()
		site.readyDelay = time.Minute
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		err := WaitReady(cctx, site, StyleHidden, time.Second)
		assert.ErrorIs(t, err, ErrPageTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
