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

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/model"
)

// YAMLParser parses YAML model documents. Unknown fields are rejected.
type YAMLParser struct {
	validator *validator.Validate
}

// NewYAMLParser creates a new YAML parser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{validator: validator.New()}
}

// Format implements DocumentParser.
func (yp *YAMLParser) Format() string { return "yaml" }

// ParseFile parses a YAML file. A file may hold several documents separated
// by "---"; their types are concatenated.
func (yp *YAMLParser) ParseFile(ctx context.Context, path string) ([]*model.Type, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewModelError(fmt.Sprintf("failed to read %s", path), err)
	}
	return yp.Parse(ctx, path, content)
}

// Parse parses YAML content attributed to source.
func (yp *YAMLParser) Parse(_ context.Context, source string, content []byte) ([]*model.Type, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var all []TypeDoc
	for {
		var doc ModelDocument
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, yp.modelError(source, yamlErrors(source, err))
		}
		if errs := validateDocument(yp.validator, source, &doc); len(errs) > 0 {
			return nil, yp.modelError(source, errs)
		}
		all = append(all, doc.Types...)
	}
	if len(all) == 0 {
		return nil, yp.modelError(source, ValidationErrors{{File: source, Message: "document declares no types"}})
	}
	return translate(source, all)
}

func (yp *YAMLParser) modelError(source string, errs ValidationErrors) error {
	return engine.NewModelError(fmt.Sprintf("invalid YAML model %s", source), errs)
}

// yamlErrors splits a yaml.TypeError into one entry per problem.
func yamlErrors(source string, err error) ValidationErrors {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		out := make(ValidationErrors, len(typeErr.Errors))
		for i, msg := range typeErr.Errors {
			out[i] = ValidationError{File: source, Message: msg}
		}
		return out
	}
	return ValidationErrors{{File: source, Message: err.Error()}}
}
