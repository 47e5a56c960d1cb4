package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/configurator/pkg/solver"
)

// scenarioFile is one YAML document of an edit script.
type scenarioFile struct {
	Scenarios []solver.Scenario `yaml:"scenarios" validate:"required,min=1,dive"`
}

// ScenarioLoader reads YAML edit scripts.
type ScenarioLoader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewScenarioLoader creates a scenario loader.
func NewScenarioLoader() *ScenarioLoader {
	return &ScenarioLoader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
	}
}

// LoadFile reads the scenarios of a YAML edit script.
func (sl *ScenarioLoader) LoadFile(ctx context.Context, path string) ([]solver.Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios %s: %w", path, err)
	}
	return sl.Parse(ctx, path, content)
}

// Parse reads scenarios from YAML content. Documents separated by "---"
// are concatenated; scenario names must be unique.
func (sl *ScenarioLoader) Parse(ctx context.Context, source string, content []byte) ([]solver.Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var (
		out  []solver.Scenario
		errs ValidationErrors
		seen = make(map[string]bool)
	)
	for {
		var f scenarioFile
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, yamlErrors(source, err)
		}
		if err := sl.validator.Struct(&f); err != nil {
			return nil, ValidationErrors{{File: source, Message: err.Error()}}
		}
		for _, sc := range f.Scenarios {
			if err := sl.schemas.ValidateAgainstSchema(ctx, "scenario", sc); err != nil {
				errs = append(errs, ValidationError{File: source, Path: sc.Name, Message: err.Error()})
				continue
			}
			if seen[sc.Name] {
				errs = append(errs, ValidationError{File: source, Path: sc.Name, Message: "duplicate scenario name"})
				continue
			}
			seen[sc.Name] = true
			out = append(out, sc)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(out) == 0 {
		return nil, ValidationErrors{{File: source, Message: "no scenarios found"}}
	}
	return out, nil
}
