package scraper

// Car is one listing card. Fields the card does not show are nil.
type Car struct {
	ID      string  `json:"id"`
	Title   *string `json:"title"`
	Image   *string `json:"image"`
	Price   *string `json:"price"`
	Year    *string `json:"year"`
	Fuel    *string `json:"fuel"`
	Mileage *string `json:"mileage"`
	Color   *string `json:"color"`
}

// PageInfo is the paginator as rendered on the live page.
type PageInfo struct {
	PagesNums  []string `json:"pages_nums"`
	CurPageNum *string  `json:"cur_page_num"`
}

// Current returns the active page label, or "" when none is marked.
func (p PageInfo) Current() string {
	if p.CurPageNum == nil {
		return ""
	}
	return *p.CurPageNum
}

// Has reports whether label is among the rendered page labels.
func (p PageInfo) Has(label string) bool {
	for _, n := range p.PagesNums {
		if n == label {
			return true
		}
	}
	return false
}

// CarList is the result of a listing scrape.
type CarList struct {
	Cars     []Car    `json:"cars"`
	PageInfo PageInfo `json:"page_info"`
}

// Inspection is one row of a detail page's inspection tables.
type Inspection struct {
	Section   string `json:"section"`
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

// CarDetails is everything read from a car's detail page. Each group is
// empty, never an error, when the page lacks it.
type CarDetails struct {
	ID                 string              `json:"id"`
	Title              *string             `json:"title"`
	Price              *string             `json:"price"`
	Photos             []string            `json:"photos"`
	BaseParameters     map[string]string   `json:"base_parameters"`
	TechParameters     map[string]string   `json:"tech_parameters"`
	CarCheckParameters map[string]string   `json:"car_check_parameters"`
	Inspections        []Inspection        `json:"inspections"`
	CarBodyOptions     map[string][]string `json:"car_body_options"`
}

// FilterOptions lists the selectable labels of every search control.
type FilterOptions struct {
	Brands          []string `json:"brands"`
	Transmission    []string `json:"transmission"`
	Fuel            []string `json:"fuel"`
	Color           []string `json:"color"`
	MileageFrom     []string `json:"mileage_from"`
	MileageTo       []string `json:"mileage_to"`
	YearReleaseFrom []string `json:"year_release_from"`
	YearReleaseTo   []string `json:"year_release_to"`
	PriceFrom       []string `json:"price_from"`
	PriceTo         []string `json:"price_to"`
}

// Groups is the number of option groups, which the API reports as count.
func (FilterOptions) Groups() int { return 10 }

// normalize replaces nil collections with empty ones so they encode as []
// and {} rather than null.
func (d *CarDetails) normalize() {
	if d.Photos == nil {
		d.Photos = []string{}
	}
	if d.BaseParameters == nil {
		d.BaseParameters = map[string]string{}
	}
	if d.TechParameters == nil {
		d.TechParameters = map[string]string{}
	}
	if d.CarCheckParameters == nil {
		d.CarCheckParameters = map[string]string{}
	}
	if d.Inspections == nil {
		d.Inspections = []Inspection{}
	}
	if d.CarBodyOptions == nil {
		d.CarBodyOptions = map[string][]string{}
	}
}

func (o *FilterOptions) normalize() {
	for _, s := range []*[]string{
		&o.Brands, &o.Transmission, &o.Fuel, &o.Color,
		&o.MileageFrom, &o.MileageTo, &o.YearReleaseFrom, &o.YearReleaseTo,
		&o.PriceFrom, &o.PriceTo,
	} {
		if *s == nil {
			*s = []string{}
		}
	}
}

func (l *CarList) normalize() {
	if l.Cars == nil {
		l.Cars = []Car{}
	}
	if l.PageInfo.PagesNums == nil {
		l.PageInfo.PagesNums = []string{}
	}
}
