// internal/rules/payload.go
package rules

import (
	"fmt"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Action payload templates.
 *
 * A payload template mirrors the configured value: objects and arrays are
 * rebuilt child by child, strings go through Template.Render, other scalars are
 * copied unchanged. Object keys are not templated.
 *
 * Build output is a fresh value tree. Values are immutable, so nothing the
 * executor receives can be changed through the template or the event.
 */

type payloadKind uint8

const (
	payloadConstant payloadKind = iota
	payloadString
	payloadArray
	payloadObject
)

// PayloadTemplate is a compiled action payload.
type PayloadTemplate struct {
	kind     payloadKind
	constant types.Value
	template Template
	items    []PayloadTemplate
	keys     []string // sorted, so gaps come out in a stable order
	fields   map[string]PayloadTemplate
}

// CompilePayload parses every string in v as a template.
func CompilePayload(v types.Value) (PayloadTemplate, error) {
	switch v.Kind() {
	case types.KindString:
		s, _ := v.AsString()
		t, err := ParseTemplate(s)
		if err != nil {
			return PayloadTemplate{}, err
		}
		return PayloadTemplate{kind: payloadString, template: t}, nil

	case types.KindArray:
		elems := v.Elements()
		p := PayloadTemplate{kind: payloadArray, items: make([]PayloadTemplate, len(elems))}
		for i, elem := range elems {
			item, err := CompilePayload(elem)
			if err != nil {
				return PayloadTemplate{}, fmt.Errorf("[%d]: %w", i, err)
			}
			p.items[i] = item
		}
		return p, nil

	case types.KindObject:
		p := PayloadTemplate{kind: payloadObject, keys: v.Keys(), fields: make(map[string]PayloadTemplate, v.Len())}
		for _, key := range p.keys {
			child, _ := v.Get(key)
			field, err := CompilePayload(child)
			if err != nil {
				return PayloadTemplate{}, fmt.Errorf("%s: %w", key, err)
			}
			p.fields[key] = field
		}
		return p, nil

	default:
		return PayloadTemplate{kind: payloadConstant, constant: v}, nil
	}
}

func compilePayloadAny(raw any) (PayloadTemplate, error) {
	v, err := types.FromAny(raw)
	if err != nil {
		return PayloadTemplate{}, err
	}
	return CompilePayload(v)
}

// Build renders the template against scopes and returns the gaps found.
func (p PayloadTemplate) Build(scopes Scopes) (types.Value, []string) {
	var gaps []string
	v := p.build(scopes, &gaps)
	return v, gaps
}

func (p PayloadTemplate) build(scopes Scopes, gaps *[]string) types.Value {
	switch p.kind {
	case payloadString:
		v, missing := p.template.Render(scopes)
		*gaps = append(*gaps, missing...)
		return v
	case payloadArray:
		items := make([]types.Value, len(p.items))
		for i, item := range p.items {
			items[i] = item.build(scopes, gaps)
		}
		return types.Array(items...)
	case payloadObject:
		fields := make(map[string]types.Value, len(p.fields))
		for _, key := range p.keys {
			fields[key] = p.fields[key].build(scopes, gaps)
		}
		return types.Object(fields)
	default:
		return p.constant
	}
}

// BuildPayload compiles and builds template in one step.
func BuildPayload(template types.Value, scopes Scopes) (types.Value, []string, error) {
	p, err := CompilePayload(template)
	if err != nil {
		return types.Null(), nil, err
	}
	v, gaps := p.Build(scopes)
	return v, gaps, nil
}
