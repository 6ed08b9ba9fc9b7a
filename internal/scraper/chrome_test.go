package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/carlot/internal/browser"
	"github.com/xkilldash9x/carlot/internal/config"
)

// The pages below mimic the markup the scripts target: the preloader, the
// select__field controls with their brand/model/gen cascade, the sort
// dropdown, the paginator and the listing cards.

const fixtureSearchPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"></head><body>
<div class="big_preloader" style="opacity: 1"></div>
<div id="controls"></div>
<div class="search_car__block__settings__button" data-button_name="show_result">Показать</div>
<div class="search_car__block__view_settings__sort__options">
  <div class="select__field__variants js__select__field__variants">
    <div class="select__field__variant_choosed" data-value="date_desc">Сначала новые</div>
    <div class="select__field__variant" data-value="price_asc">Сначала дешевле</div>
  </div>
</div>
<div id="pages"></div>
<div class="search_car__block__view_settings__pages_nav" data-direction="right">&rsaquo;</div>
<div id="cards"></div>
<script>
const catalog = {Kia: {Rio: ['III', 'IV'], Ceed: ['II']}, BMW: {'5er': ['VII', 'VIII'], X5: ['G05']}};
const state = {brand: '', model: '', gen: '', fuel: '', transmission: '', page: 1, sort: 'date_desc', submitted: false};
const loader = document.querySelector('div.big_preloader');

function fill(el, labels) {
  el.replaceChildren(...labels.map(label => {
    const opt = document.createElement('div');
    opt.className = 'select__field__variant';
    opt.dataset.label = label;
    opt.textContent = label;
    return opt;
  }));
}
function control(name, labels) {
  const el = document.createElement('div');
  el.className = 'select__field';
  el.dataset.field_name = name;
  fill(el, labels);
  document.getElementById('controls').appendChild(el);
  return el;
}
control('brand', Object.keys(catalog));
const models = control('model', []);
const gens = control('gen', []);
control('transmission', ['АКПП', 'МКПП']);
control('fuel', ['Бензин', 'Дизель']);

function busy() {
  loader.style.opacity = '1';
  setTimeout(() => { render(); loader.style.opacity = '0'; }, 80);
}
function pageNum(label, extra) {
  const el = document.createElement('div');
  el.className = ('search_car__block__view_settings__pages__page_num ' + extra).trim();
  el.textContent = label;
  return el;
}
function card(id, title, n) {
  const el = document.createElement('div');
  el.className = 'car__wrapper';
  if (id) el.setAttribute('data-car_id', id);
  const price = n === 1
    ? '<span class="car__price__value_digits">1 000 000 ₽</span>'
    : '<span class="car__price__value_text">По запросу</span>';
  el.innerHTML = (title ? '<h3 class="car__content__title">' + title + '</h3>' : '') + price +
    '<div class="car__content__meta__item"><div class="car__content__meta__item__label">Топливо:</div>' +
    '<div class="car__content__meta__item__value">' + (state.fuel || 'Бензин') + '</div></div>';
  return el;
}
function render() {
  const pages = document.getElementById('pages');
  pages.replaceChildren();
  if (!state.submitted) return;
  [1, 2, 3].forEach(n => pages.appendChild(pageNum(String(n), n === state.page ? 'active' : '')));
  pages.appendChild(pageNum('…', 'dots'));
  const brand = state.brand || 'all';
  const title = [state.brand, state.model].filter(Boolean).join(' ');
  const cards = [1, 2].map(n => card(brand + '-' + state.page + '-' + n, title, n));
  if (state.sort === 'price_asc') cards.reverse();
  cards.push(card('', title, 3));
  document.getElementById('cards').replaceChildren(...cards);
}

function choose(name, label) {
  state[name] = label;
  if (name === 'brand') {
    state.model = '';
    state.gen = '';
    fill(models, Object.keys(catalog[label] || {}));
    fill(gens, []);
  } else if (name === 'model') {
    state.gen = '';
    fill(gens, (catalog[state.brand] || {})[label] || []);
  }
}
document.addEventListener('click', (e) => {
  const opt = e.target.closest('div.select__field__variant');
  if (!opt) return;
  const field = opt.closest('div.select__field');
  if (field) {
    choose(field.dataset.field_name, opt.dataset.label);
    return;
  }
  const sortBox = opt.closest('div.js__select__field__variants');
  if (!sortBox) return;
  sortBox.querySelectorAll('[data-value]').forEach(el => {
    el.className = el === opt ? 'select__field__variant_choosed' : 'select__field__variant';
  });
  state.sort = opt.dataset.value;
  busy();
});
document.querySelector('div[data-button_name="show_result"]').addEventListener('click', () => {
  state.submitted = true;
  state.page = 1;
  busy();
});
document.querySelector('div[data-direction="right"]').addEventListener('click', () => {
  if (state.page < 3) state.page++;
  busy();
});
setTimeout(() => { loader.style.opacity = '0'; }, 80);
</script>
</body></html>`

const fixtureCarPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"></head><body>
<div class="big_preloader"></div>
<div class="car_body__left_part__car_gallery__image_wrapper"><img src="/img/thumb1.jpg" data-big_pict="https://cdn.cars.example/big1.jpg"></div>
<div class="car_body__left_part__car_gallery__image_wrapper"><img src="/img/thumb2.jpg"></div>
<div class="car_body__right_part__car_title"><h2> Kia Rio </h2></div>
<div class="car_body__right_part__base_parameter">
  <div class="car_body__right_part__base_parameter__label">Пробег</div>
  <div class="car_body__right_part__base_parameter__value">45 000 км</div>
</div>
<div class="car_body__tech_parameter" data-parameter_name="Двигатель"><span>Двигатель</span><span>1.6 л</span></div>
<div class="car_body__car_check_parameter" data-parameter_name="Владельцев"><span>Владельцев</span><span>1</span></div>
<details class="car_body__car_check__inspections">
  <table><tbody>
    <tr><td>Кузов</td><td>Без повреждений</td></tr>
    <tr><td>одна ячейка</td></tr>
  </tbody></table>
</details>
<details class="car_body__car_check__inspections">
  <summary>ДТП</summary>
  <table><tbody><tr><td>Участие в ДТП</td><td>Нет</td></tr></tbody></table>
</details>
<details class="car_body__options">
  <summary class="light">Комфорт</summary>
  <div class="car_body__option exist"><span>Климат-контроль</span></div>
  <div class="car_body__option"><span>Люк</span></div>
</details>
<script>setTimeout(() => document.querySelector('div.big_preloader').classList.add('hide'), 80);</script>
</body></html>`

const (
	fixtureStuckLoader  = `<html><body><div class="big_preloader" style="opacity: 1"></div></body></html>`
	fixtureNoLoader     = `<html><body><p>nothing to wait for</p></body></html>`
	fixtureHiddenLoader = `<html><body><div class="big_preloader hide"></div></body></html>`
)

// chromeBinary returns a browser binary or skips the test.
func chromeBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome or Chromium binary on PATH")
	return ""
}

func launchChrome(t *testing.T) browser.Session {
	t.Helper()
	cfg := config.BrowserConfig{
		Headless:      true,
		ExecPath:      chromeBinary(t),
		WindowWidth:   1280,
		WindowHeight:  720,
		LaunchTimeout: 30 * time.Second,
	}
	launcher := browser.NewChromeLauncher(context.Background(), cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	sess, err := launcher.Launch(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.Close(ctx)
	})
	return sess
}

func serveFixtures(t *testing.T) *httptest.Server {
	t.Helper()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/search", page(fixtureSearchPage))
	mux.Handle("/car/", page(fixtureCarPage))
	mux.Handle("/stuck", page(fixtureStuckLoader))
	mux.Handle("/absent", page(fixtureNoLoader))
	mux.Handle("/hidden", page(fixtureHiddenLoader))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestPageScriptsInChrome(t *testing.T) {
	sess := launchChrome(t)
	server := serveFixtures(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	site := config.SiteConfig{SearchPageURL: server.URL + "/search", CarPageURL: server.URL + "/car/"}
	scraperWith := func(mutate ...func(*config.ScraperConfig)) *Scraper {
		cfg := config.ScraperConfig{ReadyTimeout: 5 * time.Second, FilterSettle: 50 * time.Millisecond}
		for _, m := range mutate {
			m(&cfg)
		}
		return New(site, cfg, zaptest.NewLogger(t))
	}
	flipLater := func(t *testing.T, js string) {
		t.Helper()
		require.NoError(t, sess.Navigate(ctx, server.URL+"/stuck"))
		var scheduled bool
		require.NoError(t, sess.Evaluate(ctx, `(() => {
			const loader = document.querySelector('div.big_preloader');
			setTimeout(() => { `+js+` }, 150);
			return true;
		})()`, &scheduled))
		require.True(t, scheduled)
	}

	t.Run("wait resolves when the loader fades out", func(t *testing.T) {
		flipLater(t, `loader.style.opacity = '0';`)
		assert.NoError(t, WaitReady(ctx, sess, StyleHidden, 5*time.Second))
	})

	t.Run("wait resolves when the hide class is added", func(t *testing.T) {
		flipLater(t, `loader.classList.add('hide');`)
		assert.NoError(t, WaitReady(ctx, sess, ClassHidden, 5*time.Second))
	})

	t.Run("loader that never fades times out in the page", func(t *testing.T) {
		require.NoError(t, sess.Navigate(ctx, server.URL+"/stuck"))
		start := time.Now()
		err := WaitReady(ctx, sess, StyleHidden, 300*time.Millisecond)
		assert.ErrorIs(t, err, ErrPageTimeout)
		assert.Contains(t, err.Error(), "did not disappear")
		assert.Less(t, time.Since(start), readyGrace)
	})

	t.Run("missing loader counts as ready", func(t *testing.T) {
		require.NoError(t, sess.Navigate(ctx, server.URL+"/absent"))
		assert.NoError(t, WaitReady(ctx, sess, StyleHidden, time.Second))
		assert.NoError(t, WaitReady(ctx, sess, ClassHidden, time.Second))
	})

	t.Run("already hidden loader is ready at once", func(t *testing.T) {
		require.NoError(t, sess.Navigate(ctx, server.URL+"/hidden"))
		assert.NoError(t, WaitReady(ctx, sess, ClassHidden, time.Second))
	})

	t.Run("listing with filters, paging and sort", func(t *testing.T) {
		filters := Filters{"brand": "Kia", "model": "Rio", "fuel": "Дизель", "color": "Красный"}
		list, err := scraperWith().ListCars(ctx, sess, filters, "price_asc", "2")
		require.NoError(t, err)

		want := &CarList{
			Cars: []Car{
				{ID: "Kia-2-2", Title: strPtr("Kia Rio"), Price: strPtr("По запросу"), Fuel: strPtr("Дизель")},
				{ID: "Kia-2-1", Title: strPtr("Kia Rio"), Price: strPtr("1 000 000 ₽"), Fuel: strPtr("Дизель")},
			},
			PageInfo: PageInfo{PagesNums: []string{"1", "2", "3"}, CurPageNum: strPtr("2")},
		}
		if diff := cmp.Diff(want, list); diff != "" {
			t.Errorf("ListCars mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("sort option already selected keeps the order", func(t *testing.T) {
		list, err := scraperWith().ListCars(ctx, sess, nil, "date_desc", "1")
		require.NoError(t, err)
		ids := make([]string, 0, len(list.Cars))
		for _, c := range list.Cars {
			ids = append(ids, c.ID)
		}
		assert.Equal(t, []string{"all-1-1", "all-1-2"}, ids)
		assert.Nil(t, list.Cars[0].Title)
	})

	t.Run("unreachable page stops at the step cap", func(t *testing.T) {
		s := scraperWith(func(c *config.ScraperConfig) { c.MaxPageSteps = 4 })
		_, err := s.ListCars(ctx, sess, nil, "", "7")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), `last paginator showed ["1" "2" "3"]`)
	})

	t.Run("car details", func(t *testing.T) {
		details, err := scraperWith().CarDetails(ctx, sess, "Kia-2-1")
		require.NoError(t, err)

		want := &CarDetails{
			ID:                 "Kia-2-1",
			Title:              strPtr("Kia Rio"),
			Photos:             []string{"https://cdn.cars.example/big1.jpg", server.URL + "/img/thumb2.jpg"},
			BaseParameters:     map[string]string{"Пробег": "45 000 км"},
			TechParameters:     map[string]string{"Двигатель": "1.6 л"},
			CarCheckParameters: map[string]string{"Владельцев": "1"},
			Inspections: []Inspection{
				{Section: "Проверка", Parameter: "Кузов", Value: "Без повреждений"},
				{Section: "ДТП", Parameter: "Участие в ДТП", Value: "Нет"},
			},
			CarBodyOptions: map[string][]string{"Комфорт": {"Климат-контроль"}},
		}
		if diff := cmp.Diff(want, details); diff != "" {
			t.Errorf("CarDetails mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("filter options", func(t *testing.T) {
		opts, err := scraperWith().Filters(ctx, sess)
		require.NoError(t, err)

		want := &FilterOptions{
			Brands:       []string{"Kia", "BMW"},
			Transmission: []string{"АКПП", "МКПП"},
			Fuel:         []string{"Бензин", "Дизель"},
		}
		want.normalize()
		if diff := cmp.Diff(want, opts); diff != "" {
			t.Errorf("Filters mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("brand models", func(t *testing.T) {
		models, err := scraperWith().BrandModels(ctx, sess, "BMW")
		require.NoError(t, err)
		assert.Equal(t, []string{"5er", "X5"}, models)
	})

	t.Run("model generations cascade", func(t *testing.T) {
		gens, err := scraperWith().ModelGens(ctx, sess, "BMW", "5er")
		require.NoError(t, err)
		assert.Equal(t, []string{"VII", "VIII"}, gens)
	})

	t.Run("unknown brand yields an empty list", func(t *testing.T) {
		models, err := scraperWith().BrandModels(ctx, sess, "Lada")
		require.NoError(t, err)
		assert.NotNil(t, models)
		assert.Empty(t, models)
	})
}
