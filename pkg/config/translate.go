package config

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/expr"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/value"
)

// validateDocument checks struct tags and returns one ValidationError per
// failed field.
func validateDocument(v *validator.Validate, file string, doc *ModelDocument) ValidationErrors {
	err := v.Struct(doc)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{File: file, Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{File: file, Path: fe.Namespace(), Message: msg})
	}
	return out
}

// translate converts validated documents into declared model types.
func translate(file string, docs []TypeDoc) ([]*model.Type, error) {
	types := make([]*model.Type, 0, len(docs))
	for i := range docs {
		t, err := docs[i].toModel(file)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func (d *TypeDoc) toModel(file string) (*model.Type, error) {
	t := &model.Type{Name: d.Name, Parent: d.Parent, Source: file}

	if len(d.Annotations) > 0 {
		t.Annotations = make(map[string]value.Value, len(d.Annotations))
		keys := make([]string, 0, len(d.Annotations))
		for k := range d.Annotations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := value.FromGo(d.Annotations[k])
			if err != nil {
				return nil, docError(d.Name, "annotation "+k, err)
			}
			t.Annotations[k] = v
		}
	}

	for i := range d.Attributes {
		a, err := d.Attributes[i].toModel()
		if err != nil {
			return nil, withType(err, d.Name)
		}
		t.Attributes = append(t.Attributes, a)
	}
	for i := range d.Relations {
		r, err := d.Relations[i].toModel()
		if err != nil {
			return nil, withType(err, d.Name)
		}
		t.Relations = append(t.Relations, r)
	}
	for i := range d.Directives {
		dir, err := d.Directives[i].toModel()
		if err != nil {
			return nil, withType(err, d.Name)
		}
		t.Directives = append(t.Directives, dir)
	}
	return t, nil
}

func (d *AttributeDoc) toModel() (*model.Attribute, error) {
	kind, prec, err := value.ParseKind(d.Kind)
	if err != nil {
		return nil, docError("", d.Name, err)
	}
	a := &model.Attribute{
		Name:            d.Name,
		Kind:            kind,
		Precision:       prec,
		Configurable:    d.Configurable == nil || *d.Configurable,
		ContextPath:     d.ContextPath,
		AttributeSource: d.AttributeSource,
		TagName:         d.TagName,
		Sequence:        d.Sequence,
	}
	if a.Default, err = value.FromGo(d.Default); err != nil {
		return nil, docError("", d.Name+" default", err)
	}
	if d.Domain != nil {
		for _, raw := range d.Domain.Values {
			v, err := value.FromGo(raw)
			if err != nil {
				return nil, docError("", d.Name+" domain", err)
			}
			a.Domain.Values = append(a.Domain.Values, v)
		}
		if a.Domain.Min, err = value.FromGo(d.Domain.Min); err != nil {
			return nil, docError("", d.Name+" min", err)
		}
		if a.Domain.Max, err = value.FromGo(d.Domain.Max); err != nil {
			return nil, docError("", d.Name+" max", err)
		}
	}
	if d.Derivation != "" {
		if a.Derivation, err = expr.Parse(d.Derivation); err != nil {
			return nil, withSubject(err, d.Name)
		}
	}
	return a, nil
}

func (d *RelationDoc) toModel() (*model.Relation, error) {
	r := &model.Relation{
		Name:          d.Name,
		Target:        d.Target,
		Min:           d.Min,
		Max:           -1,
		CloseRelation: d.CloseRelation,
		PropagateUp:   d.PropagateUp,
		Split:         d.Split,
		Sequence:      d.Sequence,
	}
	if d.Max != nil && *d.Max >= 0 {
		r.Max = *d.Max
	}
	for _, ad := range d.Aggregates {
		e, err := expr.Parse(ad.Expr)
		if err != nil {
			return nil, withSubject(err, d.Name+"."+ad.Name)
		}
		r.Aggregates = append(r.Aggregates, &model.Aggregate{Name: ad.Name, Expr: e, Sequence: ad.Sequence})
	}
	return r, nil
}

func (d *DirectiveDoc) toModel() (*model.Directive, error) {
	dir := &model.Directive{
		ID:           d.ID,
		Kind:         model.DirectiveKind(d.Kind),
		Relation:     d.Relation,
		RelationType: d.RelationType,
		Text:         d.Text,
		Action:       d.Action,
		Attribute:    d.Attribute,
		Abort:        d.Abort,
	}
	subject := d.ID
	if subject == "" {
		subject = d.Kind
	}

	var err error
	if d.Condition != "" {
		if dir.Condition, err = expr.Parse(d.Condition); err != nil {
			return nil, withSubject(err, subject)
		}
	}
	if d.Implication != "" {
		if dir.Implication, err = expr.Parse(d.Implication); err != nil {
			return nil, withSubject(err, subject)
		}
	}
	if dir.Kind == model.DirectiveMessage {
		dir.Severity = engine.SeverityWarning
	}
	if d.Severity != "" {
		if dir.Severity, err = engine.ParseSeverity(d.Severity); err != nil {
			return nil, docError("", subject, err)
		}
	}
	if d.Value != nil {
		if dir.Value, err = value.FromGo(d.Value); err != nil {
			return nil, docError("", subject+" value", err)
		}
		dir.HasValue = true
	}
	return dir, nil
}

func docError(typeName, subject string, err error) error {
	e := engine.NewModelError(err.Error(), nil).WithSubject(subject)
	if typeName != "" {
		e = e.WithType(typeName)
	}
	return e
}

// withType attaches the owning type to member errors.
func withType(err error, typeName string) error {
	if ee, ok := err.(*engine.EngineError); ok && ee.Type == "" {
		return ee.WithType(typeName)
	}
	return err
}

func withSubject(err error, subject string) error {
	if ee, ok := err.(*engine.EngineError); ok && ee.Subject == "" {
		return ee.WithSubject(subject)
	}
	return engine.NewModelError(err.Error(), nil).WithSubject(subject)
}
