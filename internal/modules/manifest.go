package modules

import (
	"fmt"
	"io"
	"prism/internal/object"
	"sort"

	"gopkg.in/yaml.v3"
)

type manifest struct {
	Modules []manifestModule `yaml:"modules"`
}

type manifestModule struct {
	Name         string                   `yaml:"name"`
	Multiplier   float64                  `yaml:"multiplier"`
	Dependencies []string                 `yaml:"dependencies"`
	Exports      map[string]manifestValue `yaml:"exports"`
}

type manifestValue struct {
	Value      any      `yaml:"value"`
	Confidence *float64 `yaml:"confidence"`
	Context    string   `yaml:"context"`
}

// DecodeManifest reads data-only module definitions from YAML.
func DecodeManifest(r io.Reader) ([]*Definition, error) {
	var m manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode module manifest: %w", err)
	}

	defs := make([]*Definition, 0, len(m.Modules))
	for _, mm := range m.Modules {
		if mm.Name == "" {
			return nil, fmt.Errorf("decode module manifest: module without a name")
		}
		def := &Definition{
			Name:                 mm.Name,
			Dependencies:         mm.Dependencies,
			ConfidenceMultiplier: mm.Multiplier,
			Exports:              make(map[string]object.ConfidenceValue, len(mm.Exports)),
		}
		for name, mv := range mm.Exports {
			payload, err := toObject(mv.Value)
			if err != nil {
				return nil, fmt.Errorf("module %s export %s: %w", mm.Name, name, err)
			}
			confidence := 1.0
			if mv.Confidence != nil {
				if !object.ValidConfidence(*mv.Confidence) {
					return nil, fmt.Errorf("module %s export %s: confidence %v outside [0,1]", mm.Name, name, *mv.Confidence)
				}
				confidence = *mv.Confidence
			}
			def.Exports[name] = object.NewConfidenceValue(payload, confidence).WithContext(mv.Context)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadManifest defines every module in the manifest.
func (r *Registry) LoadManifest(in io.Reader) ([]string, error) {
	defs, err := DecodeManifest(in)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if err := r.Define(def); err != nil {
			return nil, err
		}
		names = append(names, def.Name)
	}
	return names, nil
}

func toObject(v any) (object.Object, error) {
	switch x := v.(type) {
	case nil:
		return object.NIL, nil
	case bool:
		return object.NativeBool(x), nil
	case int:
		return &object.Integer{Value: int64(x)}, nil
	case int64:
		return &object.Integer{Value: x}, nil
	case uint64:
		return &object.Integer{Value: int64(x)}, nil
	case float64:
		return &object.Float{Value: x}, nil
	case string:
		return &object.String{Value: x}, nil
	case []any:
		list := &object.List{Elements: make([]object.ConfidenceValue, 0, len(x))}
		for _, e := range x {
			o, err := toObject(e)
			if err != nil {
				return nil, err
			}
			list.Elements = append(list.Elements, object.Certain(o))
		}
		return list, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := &object.Map{}
		for _, k := range keys {
			o, err := toObject(x[k])
			if err != nil {
				return nil, err
			}
			m.Put(&object.String{Value: k}, object.Certain(o))
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported manifest value %T", v)
}
