package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/model"
)

// CUEParser parses CUE model documents. Sources are unified, checked
// against the #Model schema and decoded into the shared document schema.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
	}
}

// Format implements DocumentParser.
func (cp *CUEParser) Format() string { return "cue" }

// ParseFile parses a single CUE file.
func (cp *CUEParser) ParseFile(ctx context.Context, path string) ([]*model.Type, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewModelError(fmt.Sprintf("failed to read %s", path), err)
	}
	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	return cp.decode(ctx, path, val)
}

// ParseDirectory loads a directory as a CUE package. Files of one package
// share definitions and are unified before decoding.
func (cp *CUEParser) ParseDirectory(ctx context.Context, dir string) ([]*model.Type, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, cp.modelError(dir, ValidationErrors{{File: dir, Message: "no CUE files found"}})
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, cp.modelError(dir, cp.convertCUEErrors(inst.Err))
	}
	return cp.decode(ctx, dir, cp.ctx.BuildInstance(inst))
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) ([]*model.Type, error) {
	return cp.decode(ctx, "inline", cp.ctx.CompileString(content, cue.Filename("inline.cue")))
}

func (cp *CUEParser) decode(ctx context.Context, source string, val cue.Value) ([]*model.Type, error) {
	if err := val.Err(); err != nil {
		return nil, cp.modelError(source, cp.convertCUEErrors(err))
	}
	if err := cp.schemaRegistry.ValidateValue(ctx, "model", val); err != nil {
		return nil, cp.modelError(source, cp.convertCUEErrors(err))
	}

	// JSON keeps decimal literals exact; Decode into interface{} would not.
	raw, err := val.LookupPath(cue.ParsePath("types")).MarshalJSON()
	if err != nil {
		return nil, cp.modelError(source, cp.convertCUEErrors(err))
	}
	var doc ModelDocument
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc.Types); err != nil {
		return nil, cp.modelError(source, ValidationErrors{{File: source, Path: "types", Message: err.Error()}})
	}
	if errs := validateDocument(cp.validator, source, &doc); len(errs) > 0 {
		return nil, cp.modelError(source, errs)
	}
	return translate(source, doc.Types)
}

func (cp *CUEParser) modelError(source string, errs ValidationErrors) error {
	return engine.NewModelError(fmt.Sprintf("invalid CUE model %s", source), errs)
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}
