package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/varkeep/internal/compiler"
	"github.com/roach88/varkeep/internal/ir"
)

// Scenario defines a conformance test scenario.
// A scenario declares its own variables, drives the engine through a list
// of steps and checks each step's outcome, then asserts on the trace and
// on what reached the store.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Variables uses the same shape as a YAML definitions file.
	Variables map[string]compiler.DefinitionDoc `yaml:"variables"`

	// Steps run in order against a single engine. A restart step swaps
	// the engine for a new one over the same store.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the engine has shut down, so every
	// pending write has been flushed.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one engine operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Identity is empty for global variables.
	Identity string `yaml:"identity,omitempty"`

	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Expect is the value the operation must return. Unset means any
	// value is accepted.
	Expect *string `yaml:"expect,omitempty"`

	// ExpectError is the error code the operation must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpGet     = "get"
	OpSet     = "set"
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReset   = "reset"
	OpFlush   = "flush"
	OpRestart = "restart"
	OpArrive  = "arrive"
	OpDepart  = "depart"
)

// Assertion validates the trace or the persisted state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a step with Op (and Key, Result if given) ran
	// - "trace_count": steps with Op (and Key if given) ran exactly Count times
	// - "final_state": a row in Table matching Where has the Expect columns
	Type string `yaml:"type"`

	// Op and Key select steps (trace_contains, trace_count).
	Op  string `yaml:"op,omitempty"`
	Key string `yaml:"key,omitempty"`

	// Result is the expected step result (trace_contains).
	Result *string `yaml:"result,omitempty"`

	// Count is the expected number of matching steps (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is global_variables or player_variables (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	// Subset match: only specified columns are validated. A null value
	// expects SQL NULL.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent expects no row to match Where (final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
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

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "expect_errors:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Definitions compiles the inline variables, sorted by key.
func (s *Scenario) Definitions() ([]ir.Definition, error) {
	return compiler.FromDocs(s.Variables, s.Name)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Variables) == 0 {
		return fmt.Errorf("variables map is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	defs, err := s.Definitions()
	if err != nil {
		return err
	}
	if errs := compiler.ValidateAll(defs); len(errs) > 0 {
		return fmt.Errorf("variables: %w", errs[0])
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields a step's operation needs.
func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpGet, OpSet, OpAdd, OpRemove, OpReset:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: %s requires key", index, st.Op)
		}
	case OpArrive, OpDepart:
		if st.Identity == "" && st.ExpectError == "" {
			return fmt.Errorf("steps[%d]: %s requires identity", index, st.Op)
		}
	case OpFlush, OpRestart:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Expect != nil && st.ExpectError != "" {
		return fmt.Errorf("steps[%d]: expect and expect_error are mutually exclusive", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: trace_contains requires op", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: trace_count requires op", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: trace_count count must be >= 0", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: final_state requires table", index)
		}
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: final_state requires where", index)
		}
		if a.Absent && len(a.Expect) > 0 {
			return fmt.Errorf("assertions[%d]: final_state absent excludes expect", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
