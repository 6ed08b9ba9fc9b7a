package scraper

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// scriptJSON encodes script arguments. Output is plain JSON, which is also a
// valid JavaScript expression.
var scriptJSON = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// call renders an invocation of the function expression fn with args
// spread from a JSON array, so no argument is ever spliced into source.
func call(fn string, args ...any) string {
	if args == nil {
		args = []any{}
	}
	encoded, err := scriptJSON.MarshalToString(args)
	if err != nil {
		// Arguments are strings and numbers; this cannot fail for them.
		panic("scraper: unencodable script arguments: " + err.Error())
	}
	var b strings.Builder
	b.Grow(len(fn) + len(encoded) + 8)
	b.WriteString("(")
	b.WriteString(fn)
	b.WriteString(")(...")
	b.WriteString(encoded)
	b.WriteString(")")
	return b.String()
}

// readyTemplate resolves true once the preloader satisfies the predicate
// spliced in at %s, or false after timeoutMs. The predicate is an expression
// over loader.
const readyTemplate = `(timeoutMs, selector, attribute) => new Promise((resolve) => {
  const loader = document.querySelector(selector);
  const isReady = () => (%s);
  if (!loader || isReady()) { resolve(true); return; }
  let timer = null;
  const observer = new MutationObserver(() => {
    if (isReady()) {
      observer.disconnect();
      clearTimeout(timer);
      resolve(true);
    }
  });
  observer.observe(loader, { attributes: true, attributeFilter: [attribute] });
  timer = setTimeout(() => { observer.disconnect(); resolve(false); }, timeoutMs);
})`

// applyFilterScript opens one search control and picks the option with the
// given label. Resolves "applied", "no_control" or "no_option".
const applyFilterScript = `async (fieldName, label, settleMs) => {
  const control = Array.from(document.querySelectorAll('div.select__field'))
    .find(el => el.dataset.field_name === fieldName);
  if (!control) return 'no_control';
  control.click();
  const option = Array.from(control.querySelectorAll('div.select__field__variant'))
    .find(el => el.dataset.label === label);
  if (!option) {
    control.click();
    return 'no_option';
  }
  option.click();
  await new Promise(resolve => setTimeout(resolve, settleMs));
  return 'applied';
}`

// submitScript clicks the "show results" button. Returns false when absent.
const submitScript = `() => {
  const btn = document.querySelector('div.search_car__block__settings__button[data-button_name="show_result"]');
  if (!btn) return false;
  btn.click();
  return true;
}`

// nextPageScript clicks the paginator's right arrow. Returns false when absent.
const nextPageScript = `() => {
  const btn = document.querySelector('div.search_car__block__view_settings__pages_nav[data-direction="right"]');
  if (!btn) return false;
  btn.click();
  return true;
}`

const pageInfoScript = `() => {
  const result = { pages_nums: [], cur_page_num: null };
  document.querySelectorAll('div.search_car__block__view_settings__pages__page_num:not(.dots)').forEach(el => {
    const label = el.textContent.trim();
    result.pages_nums.push(label);
    if (el.classList.contains('active')) result.cur_page_num = label;
  });
  return result;
}`

// sortScript selects the ordering option with the given value. Resolves
// "applied", "already_selected", "no_control" or "no_option".
const sortScript = `(sortValue) => {
  const block = document.querySelector('div.search_car__block__view_settings__sort__options');
  if (!block) return 'no_control';
  const dropdown = block.querySelector('div.select__field__variants.js__select__field__variants');
  if (!dropdown) return 'no_control';
  dropdown.click();
  const byValue = (sel) => Array.from(dropdown.querySelectorAll(sel)).find(el => el.dataset.value === sortValue);
  const option = byValue('div.select__field__variant');
  if (option) {
    option.click();
    return 'applied';
  }
  if (byValue('div.select__field__variant_choosed')) return 'already_selected';
  return 'no_option';
}`

// listScript reads every rendered listing card in DOM order. Cards without
// an id are skipped.
const listScript = `() => {
  const metaKeys = { 'Год:': 'year', 'Топливо:': 'fuel', 'Пробег:': 'mileage', 'Цвет:': 'color' };
  const text = (root, sel) => root.querySelector(sel)?.textContent.trim() || null;
  const cars = [];
  document.querySelectorAll('div.car__wrapper').forEach(card => {
    const id = card.getAttribute('data-car_id');
    if (!id) return;
    const car = {
      id: id,
      title: text(card, 'h3.car__content__title'),
      image: card.querySelector('div.car__image img')?.src || null,
      price: text(card, 'span.car__price__value_digits') || text(card, 'span.car__price__value_text'),
      year: null, fuel: null, mileage: null, color: null,
    };
    card.querySelectorAll('div.car__content__meta__item').forEach(item => {
      const label = text(item, 'div.car__content__meta__item__label');
      if (label && metaKeys[label]) car[metaKeys[label]] = text(item, 'div.car__content__meta__item__value');
    });
    cars.push(car);
  });
  return cars;
}`

// filtersScript lists the option labels of every top-level search control.
const filtersScript = `() => {
  const labels = (name) => {
    const control = Array.from(document.querySelectorAll('div.select__field'))
      .find(el => el.dataset.field_name === name);
    if (!control) return [];
    return Array.from(control.querySelectorAll('div.select__field__variant'))
      .map(el => el.dataset.label).filter(Boolean);
  };
  const result = { brands: labels('brand') };
  ['transmission', 'fuel', 'color', 'mileage_from', 'mileage_to',
   'year_release_from', 'year_release_to', 'price_from', 'price_to'].forEach(name => {
    result[name] = labels(name);
  });
  return result;
}`

// cascadeScript selects each label in path on the matching control in
// fields, then returns the option labels of the control that follows. Any
// missing control or option yields [].
const cascadeScript = `async (fields, path, settleMs) => {
  const control = (name) => Array.from(document.querySelectorAll('div.select__field'))
    .find(el => el.dataset.field_name === name);
  const variants = (ctl) => Array.from(ctl.querySelectorAll('div.select__field__variant'));
  const settle = () => new Promise(resolve => setTimeout(resolve, settleMs));
  for (let i = 0; i < path.length; i++) {
    const ctl = control(fields[i]);
    if (!ctl) return [];
    ctl.click();
    const option = variants(ctl).find(el => el.dataset.label === path[i]);
    if (!option) {
      ctl.click();
      return [];
    }
    option.click();
    await settle();
  }
  const target = control(fields[path.length]);
  if (!target) return [];
  target.click();
  await settle();
  return variants(target).map(el => el.dataset.label).filter(Boolean);
}`

// detailsScript reads a car's detail page. Missing groups stay empty.
const detailsScript = `(carId) => {
  const text = (root, sel) => root.querySelector(sel)?.textContent.trim() || null;
  const result = {
    id: carId,
    title: text(document, 'div.car_body__right_part__car_title h2'),
    price: text(document, 'div.car_body__right_part__row__price__digits'),
    photos: [],
    base_parameters: {},
    tech_parameters: {},
    car_check_parameters: {},
    inspections: [],
    car_body_options: {},
  };
  result.photos = Array.from(document.querySelectorAll('div.car_body__left_part__car_gallery__image_wrapper img'))
    .map(img => img.getAttribute('data-big_pict') || img.src).filter(Boolean);
  document.querySelectorAll('div.car_body__right_part__base_parameter').forEach(el => {
    const label = text(el, 'div.car_body__right_part__base_parameter__label');
    const value = text(el, 'div.car_body__right_part__base_parameter__value');
    if (label && value) result.base_parameters[label] = value;
  });
  const named = (sel, into) => document.querySelectorAll(sel).forEach(el => {
    const name = el.getAttribute('data-parameter_name');
    const value = el.querySelectorAll('span')[1]?.textContent.trim();
    if (name && value) into[name] = value;
  });
  named('div.car_body__tech_parameter', result.tech_parameters);
  named('div.car_body__car_check_parameter', result.car_check_parameters);
  document.querySelectorAll('details.car_body__car_check__inspections').forEach(section => {
    const title = text(section, 'summary') || 'Проверка';
    section.querySelectorAll('table tbody tr').forEach(row => {
      const cells = row.querySelectorAll('td');
      if (cells.length >= 2) {
        result.inspections.push({ section: title, parameter: cells[0].textContent.trim(), value: cells[1].textContent.trim() });
      }
    });
  });
  document.querySelectorAll('details.car_body__options').forEach(group => {
    const name = text(group, 'summary.light');
    if (!name) return;
    result.car_body_options[name] = Array.from(group.querySelectorAll('div.car_body__option.exist span'))
      .map(span => span.textContent.trim()).filter(Boolean);
  });
  return result;
}`
