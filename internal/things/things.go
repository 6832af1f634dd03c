// Package things implements the Thing/Property/Method registry spec
// §3/§4.5 describes: a typed property/method model, descriptor
// emission, and delta-state reporting. Grounded on
// original_source/src/iot/thing.py (Property/Method/Thing shape) and
// thing_manager.py (registry linear scan + descriptors/states API).
//
// Two deliberate departures from the Python original, both called for
// by spec §9's Design Notes: Property's type is an explicit tag
// supplied at registration instead of inferred from the first getter
// call, and delta-state comparison uses a content hash per thing
// instead of a full string compare.
package things

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when invoking a thing or method that does
	// not exist.
	ErrNotFound = errors.New("things: not found")
	// ErrMissingParam is returned when a required method parameter is
	// absent from an invocation.
	ErrMissingParam = errors.New("things: missing required parameter")
)

// ValueKind tags a Value's dynamic type, replacing the Python
// original's getter-return-type inference (spec §9).
type ValueKind int

const (
	KindBool ValueKind = iota
	KindInt
	KindFloat
	KindString
)

// Value is the explicit tagged union spec §9 calls for in place of
// duck-typed property values.
type Value struct {
	Kind ValueKind
	B    bool
	I    int64
	F    float64
	S    string
}

func BoolValue(b bool) Value     { return Value{Kind: KindBool, B: b} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, I: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, F: f} }
func StringValue(s string) Value { return Value{Kind: KindString, S: s} }

// MarshalJSON emits the bare scalar, matching the Python original's
// get_state_value() output shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.B)
	case KindInt:
		return json.Marshal(v.I)
	case KindFloat:
		return json.Marshal(v.F)
	case KindString:
		return json.Marshal(v.S)
	default:
		return nil, fmt.Errorf("things: unknown value kind %d", v.Kind)
	}
}

func (v Value) typeName() string {
	switch v.Kind {
	case KindBool:
		return "boolean"
	case KindInt:
		return "number"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Property is a named, typed, readable attribute of a Thing.
type Property struct {
	Description string
	Kind        ValueKind
	Getter      func() Value
}

// Parameter describes one named input to a Method.
type Parameter struct {
	Description string
	Kind        ValueKind
	Required    bool
}

// Method is a named, callable operation on a Thing.
type Method struct {
	Description string
	Parameters  map[string]Parameter
	// ParameterOrder preserves declaration order for descriptor
	// emission, since Go maps do not.
	ParameterOrder []string
	Invoke         func(params map[string]Value) (Value, error)
}

// SessionHandle is the narrow capability injected into a Thing at
// registration time so it can reach the session without a global
// back-reference (spec §9, "break the Thing -> Application cyclic
// reference by injecting a narrow SessionHandle").
type SessionHandle interface {
	SetVolume(percent int)
	SignalWake()
}

// Thing is a locally hosted controllable entity exposed to the remote
// dialog server with typed properties and methods.
type Thing struct {
	Name        string
	Description string
	Properties  map[string]Property
	Methods     map[string]Method
}

// NewThing constructs an empty Thing ready for AddProperty/AddMethod calls.
func NewThing(name, description string) *Thing {
	return &Thing{
		Name:        name,
		Description: description,
		Properties:  make(map[string]Property),
		Methods:     make(map[string]Method),
	}
}

func (t *Thing) AddProperty(name, description string, kind ValueKind, getter func() Value) {
	t.Properties[name] = Property{Description: description, Kind: kind, Getter: getter}
}

func (t *Thing) AddMethod(name, description string, params []struct {
	Name        string
	Description string
	Kind        ValueKind
	Required    bool
}, invoke func(params map[string]Value) (Value, error)) {
	m := Method{
		Description: description,
		Parameters:  make(map[string]Parameter),
		Invoke:      invoke,
	}
	for _, p := range params {
		m.Parameters[p.Name] = Parameter{Description: p.Description, Kind: p.Kind, Required: p.Required}
		m.ParameterOrder = append(m.ParameterOrder, p.Name)
	}
	t.Methods[name] = m
}

type propertyDescriptor struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

type parameterDescriptor struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

type methodDescriptor struct {
	Description string                         `json:"description"`
	Parameters  map[string]parameterDescriptor `json:"parameters"`
}

type thingDescriptor struct {
	Name        string                        `json:"name"`
	Description string                        `json:"description"`
	Properties  map[string]propertyDescriptor `json:"properties"`
	Methods     map[string]methodDescriptor  `json:"methods"`
}

// DescriptorJSON returns the thing's full schema, matching
// get_descriptor_json() in the Python original.
func (t *Thing) DescriptorJSON() ([]byte, error) {
	d := thingDescriptor{
		Name:        t.Name,
		Description: t.Description,
		Properties:  make(map[string]propertyDescriptor, len(t.Properties)),
		Methods:     make(map[string]methodDescriptor, len(t.Methods)),
	}
	for name, p := range t.Properties {
		d.Properties[name] = propertyDescriptor{Description: p.Description, Type: Value{Kind: p.Kind}.typeName()}
	}
	for name, m := range t.Methods {
		params := make(map[string]parameterDescriptor, len(m.Parameters))
		for pname, p := range m.Parameters {
			params[pname] = parameterDescriptor{Description: p.Description, Type: Value{Kind: p.Kind}.typeName()}
		}
		d.Methods[name] = methodDescriptor{Description: m.Description, Parameters: params}
	}
	return json.Marshal(d)
}

type thingState struct {
	Name  string           `json:"name"`
	State map[string]Value `json:"state"`
}

// StateJSON returns the thing's current property values, matching
// get_state_json() in the Python original.
func (t *Thing) StateJSON() ([]byte, error) {
	state := thingState{Name: t.Name, State: make(map[string]Value, len(t.Properties))}
	for name, p := range t.Properties {
		state.State[name] = p.Getter()
	}
	return json.Marshal(state)
}

// Invoke looks up a method by name and calls it after validating
// required parameters.
func (t *Thing) Invoke(method string, params map[string]Value) (Value, error) {
	m, ok := t.Methods[method]
	if !ok {
		return Value{}, fmt.Errorf("%w: method %q on thing %q", ErrNotFound, method, t.Name)
	}
	for name, p := range m.Parameters {
		if p.Required {
			if _, present := params[name]; !present {
				return Value{}, fmt.Errorf("%w: %q.%q requires %q", ErrMissingParam, t.Name, method, name)
			}
		}
	}
	return m.Invoke(params)
}

// Registry holds an ordered list of Things and the per-thing state
// hash cache used to compute deltas (spec §3 "ThingRegistry", §4.5).
type Registry struct {
	things     []*Thing
	lastHashes map[string][32]byte
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{lastHashes: make(map[string][32]byte)}
}

// Add registers a thing. Order of registration is preserved in
// descriptor/state emission, matching the linear list in
// thing_manager.py.
func (r *Registry) Add(t *Thing) {
	r.things = append(r.things, t)
}

// DescriptorsJSON returns the full schema of every registered thing,
// sent once per session after channel open (spec §4.1/§4.4).
func (r *Registry) DescriptorsJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(r.things))
	for _, t := range r.things {
		d, err := t.DescriptorJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return json.Marshal(out)
}

// States returns the current state of every registered thing. When
// delta is true, things whose content hash has not changed since the
// last call are omitted and changed reports whether anything was
// included; when delta is false, the cache is reset and every thing is
// emitted.
func (r *Registry) States(delta bool) (changed bool, statesJSON []byte, err error) {
	if !delta {
		r.lastHashes = make(map[string][32]byte)
	}

	out := make([]json.RawMessage, 0, len(r.things))
	for _, t := range r.things {
		stateJSON, err := t.StateJSON()
		if err != nil {
			return false, nil, err
		}

		if delta {
			hash := sha256.Sum256(stateJSON)
			if prev, ok := r.lastHashes[t.Name]; ok && prev == hash {
				continue
			}
			r.lastHashes[t.Name] = hash
			changed = true
		}

		out = append(out, stateJSON)
	}

	statesJSON, err = json.Marshal(out)
	if err != nil {
		return false, nil, err
	}
	return changed, statesJSON, nil
}

// Invoke dispatches a command to the named thing's method by linear
// scan — acceptable per spec §4.5 since the registry is small.
func (r *Registry) Invoke(name, method string, params map[string]Value) (Value, error) {
	for _, t := range r.things {
		if t.Name == name {
			return t.Invoke(method, params)
		}
	}
	return Value{}, fmt.Errorf("%w: thing %q", ErrNotFound, name)
}
