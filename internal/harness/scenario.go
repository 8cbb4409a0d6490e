package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/wec/internal/evidence"
)

// Scenario is a scripted run: the observations a page and its network
// produce, in order, and the assertions the resulting log must meet.
type Scenario struct {
	// Name identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// FilterRules is an inline filter list. Empty means no request is
	// classified as tracking.
	FilterRules string `yaml:"filter_rules,omitempty"`

	// FilterListName is quoted in tracking provenance.
	// Default: bridge.DefaultFilterListName.
	FilterListName string `yaml:"filter_list_name,omitempty"`

	// Steps are replayed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final log.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one observation. Exactly one field is set.
type Step struct {
	// Page is a monitor report, encoded as the page would send it.
	Page *PageReport `yaml:"page,omitempty"`

	// Binding is a raw binding payload, passed through untouched.
	Binding *string `yaml:"binding,omitempty"`

	Request   *RequestStep   `yaml:"request,omitempty"`
	Response  *ResponseStep  `yaml:"response,omitempty"`
	ExtraInfo *ExtraInfoStep `yaml:"extra_info,omitempty"`

	// Finished is the ID of a request that finished loading.
	Finished string `yaml:"finished,omitempty"`
}

// PageReport is one report of the in-page monitor.
type PageReport struct {
	Kind string `yaml:"kind"`

	// Stack is the raw Error.stack text. Absent means capture failed.
	Stack *string `yaml:"stack,omitempty"`

	// Payload is the kind-specific payload: the assigned cookie string, or
	// a {key, value} storage write.
	Payload any `yaml:"payload"`
}

// RequestStep is a request about to be sent.
type RequestStep struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Document string `yaml:"document"`

	// Type is the browser resource type, e.g. "Script". Default: "Other".
	Type string `yaml:"type,omitempty"`

	// RedirectFrom is the response of the hop that redirected here.
	RedirectFrom *ResponseStep `yaml:"redirect_from,omitempty"`
}

// ResponseStep is a received response.
type ResponseStep struct {
	ID        string `yaml:"id,omitempty"`
	URL       string `yaml:"url"`
	Status    int64  `yaml:"status,omitempty"`
	SetCookie string `yaml:"set_cookie,omitempty"`
}

// ExtraInfoStep is the raw header report that follows a response.
type ExtraInfoStep struct {
	ID        string `yaml:"id"`
	SetCookie string `yaml:"set_cookie"`
}

// Assertion validates the final log.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is the event kind (event_contains, event_count).
	Kind string `yaml:"kind,omitempty"`

	// Raw must be a substring of the raw payload (event_contains).
	Raw string `yaml:"raw,omitempty"`

	// Count is the expected number (event_count, discarded).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected kind order (event_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Seq selects the event (provenance).
	Seq int64 `yaml:"seq,omitempty"`

	// Unavailable expects the unavailable marker (provenance).
	Unavailable bool `yaml:"unavailable,omitempty"`

	// File, Function and Source describe the first frame (provenance).
	// Empty fields are not checked; Source is a substring match.
	File     string `yaml:"file,omitempty"`
	Function string `yaml:"function,omitempty"`
	Source   string `yaml:"source,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertProvenance    = "provenance"
	AssertDiscarded     = "discarded"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	set := 0
	if st.Page != nil {
		set++
		if st.Page.Kind == "" {
			return fmt.Errorf("steps[%d]: page.kind is required", index)
		}
	}
	if st.Binding != nil {
		set++
	}
	if st.Request != nil {
		set++
		if st.Request.ID == "" || st.Request.URL == "" {
			return fmt.Errorf("steps[%d]: request.id and request.url are required", index)
		}
	}
	if st.Response != nil {
		set++
		if st.Response.ID == "" {
			return fmt.Errorf("steps[%d]: response.id is required", index)
		}
	}
	if st.ExtraInfo != nil {
		set++
		if st.ExtraInfo.ID == "" {
			return fmt.Errorf("steps[%d]: extra_info.id is required", index)
		}
	}
	if st.Finished != "" {
		set++
	}

	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of page, binding, request, response, extra_info, finished must be set (got %d)", index, set)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventContains:
		if err := validateKind(index, a.Kind); err != nil {
			return err
		}

	case AssertEventCount:
		if err := validateKind(index, a.Kind); err != nil {
			return err
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}

	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: event_order requires kinds", index)
		}
		for _, k := range a.Kinds {
			if err := validateKind(index, k); err != nil {
				return err
			}
		}

	case AssertProvenance:
		if a.Seq <= 0 {
			return fmt.Errorf("assertions[%d]: provenance requires a positive seq", index)
		}
		if !a.Unavailable && a.File == "" && a.Function == "" && a.Source == "" {
			return fmt.Errorf("assertions[%d]: provenance requires unavailable or a frame field", index)
		}

	case AssertDiscarded:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}

	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)

	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validateKind(index int, kind string) error {
	if kind == "" {
		return fmt.Errorf("assertions[%d]: kind is required", index)
	}
	if !evidence.Kind(kind).Valid() {
		return fmt.Errorf("assertions[%d]: unknown event kind %q", index, kind)
	}
	return nil
}
