package crawler

// FieldType enumerates the form control kinds the crawler reports.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldTel      FieldType = "tel"
	FieldNumber   FieldType = "number"
	FieldPassword FieldType = "password"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
	FieldDate     FieldType = "date"
	FieldFile     FieldType = "file"
)

// FieldTypeOf maps an element tag and its type attribute to a FieldType.
func FieldTypeOf(tag, typ string) FieldType {
	switch tag {
	case "textarea":
		return FieldTextarea
	case "select":
		return FieldSelect
	}
	switch typ {
	case "email":
		return FieldEmail
	case "tel":
		return FieldTel
	case "number", "range":
		return FieldNumber
	case "password":
		return FieldPassword
	case "radio":
		return FieldRadio
	case "checkbox":
		return FieldCheckbox
	case "date", "datetime-local", "month", "week", "time":
		return FieldDate
	case "file":
		return FieldFile
	}
	return FieldText
}

// FormField describes one form control.
type FormField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Min      string    `json:"min,omitempty"`
	Max      string    `json:"max,omitempty"`
	Pattern  string    `json:"pattern,omitempty"`
	// Selector is a CSS selector for the control when one better than
	// [name="..."] was found.
	Selector string `json:"selector,omitempty"`
}

// RouteScan is what the crawler learned about one visited page. Links are
// absolute, same-origin and HTML-like.
type RouteScan struct {
	URL          string      `json:"url"`
	Title        string      `json:"title"`
	Heading      string      `json:"heading,omitempty"`
	Links        []string    `json:"links"`
	Buttons      []string    `json:"buttons"`
	FileInputs   []string    `json:"fileInputs"`
	Fields       []FormField `json:"fields"`
	FormSelector string      `json:"formSelector,omitempty"`
	IsSPA        bool        `json:"isSPA,omitempty"`
	Screenshot   string      `json:"screenshot,omitempty"`
}

// FormMeta is the form found on one route.
type FormMeta struct {
	Selector  string      `json:"selector"`
	Fields    []FormField `json:"fields"`
	RouteHint string      `json:"routeHint"`
}

// Discovery is the result of one crawl.
type Discovery struct {
	BaseURL string      `json:"baseUrl"`
	Routes  []string    `json:"routes"`
	Forms   []FormMeta  `json:"forms"`
	Scans   []RouteScan `json:"scans"`
	// Analyses holds optional model-written scenario suggestions per page.
	Analyses []PageAnalysis `json:"analyses,omitempty"`
}

// PageAnalysis is a reasoning service's reading of one page.
type PageAnalysis struct {
	Path      string     `json:"path"`
	Summary   string     `json:"summary"`
	Coverage  []string   `json:"coverage,omitempty"`
	Scenarios []Scenario `json:"scenarios"`
}

// Scenario is one suggested test scenario.
type Scenario struct {
	Title        string         `json:"title"`
	CoverageType string         `json:"coverageType,omitempty"`
	Description  string         `json:"description,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Risk         string         `json:"risk,omitempty"`
	Steps        []ScenarioStep `json:"steps"`
}

// ScenarioStep is the loose step shape used in scenario suggestions.
type ScenarioStep struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
	Value  string `json:"value,omitempty"`
	Note   string `json:"note,omitempty"`
}

// ScanFor returns the scan whose path equals path.
func (d *Discovery) ScanFor(path string) (*RouteScan, bool) {
	for i := range d.Scans {
		if PathOf(d.Scans[i].URL) == path {
			return &d.Scans[i], true
		}
	}
	return nil, false
}
