package models

import "fmt"

// Blackboard Signal Values
//
// Detectors communicate through a per-request blackboard of dotted keys
// ("request.ip.is_datacenter", "detection.useragent.category"). The value
// side is a small tagged union rather than interface{}: readers ask for a
// concrete type and receive the zero value on mismatch, which keeps every
// detector free of type-assertion boilerplate.

// SignalKind discriminates the value held by a SignalValue.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalBool
	SignalInt
	SignalReal
	SignalString
	SignalBundle
)

func (k SignalKind) String() string {
	switch k {
	case SignalBool:
		return "bool"
	case SignalInt:
		return "int"
	case SignalReal:
		return "real"
	case SignalString:
		return "string"
	case SignalBundle:
		return "bundle"
	default:
		return "none"
	}
}

// SignalValue is the tagged union written to the blackboard. Only the field
// matching Kind is meaningful; the rest stay zero.
type SignalValue struct {
	Kind   SignalKind        `json:"kind"`
	Bool   bool              `json:"bool,omitempty"`
	Int    int64             `json:"int,omitempty"`
	Real   float64           `json:"real,omitempty"`
	Str    string            `json:"str,omitempty"`
	Bundle map[string]string `json:"bundle,omitempty"`
}

func BoolSignal(v bool) SignalValue      { return SignalValue{Kind: SignalBool, Bool: v} }
func IntSignal(v int64) SignalValue      { return SignalValue{Kind: SignalInt, Int: v} }
func RealSignal(v float64) SignalValue   { return SignalValue{Kind: SignalReal, Real: v} }
func StringSignal(v string) SignalValue  { return SignalValue{Kind: SignalString, Str: v} }
func BundleSignal(v map[string]string) SignalValue {
	return SignalValue{Kind: SignalBundle, Bundle: v}
}

// AsBool returns the boolean value, or false when the signal holds any
// other kind. All As* accessors follow the zero-value-on-mismatch contract.
func (v SignalValue) AsBool() bool {
	if v.Kind == SignalBool {
		return v.Bool
	}
	return false
}

func (v SignalValue) AsInt() int64 {
	if v.Kind == SignalInt {
		return v.Int
	}
	return 0
}

// AsReal also widens an int signal, so numeric triggers work regardless of
// which numeric kind the producer chose.
func (v SignalValue) AsReal() float64 {
	switch v.Kind {
	case SignalReal:
		return v.Real
	case SignalInt:
		return float64(v.Int)
	}
	return 0
}

func (v SignalValue) AsString() string {
	if v.Kind == SignalString {
		return v.Str
	}
	return ""
}

func (v SignalValue) AsBundle() map[string]string {
	if v.Kind == SignalBundle {
		return v.Bundle
	}
	return nil
}

// Equals compares against an untyped scalar from a trigger condition.
// YAML unmarshals scalars as bool, int, float64 or string.
func (v SignalValue) Equals(raw any) bool {
	switch want := raw.(type) {
	case bool:
		return v.Kind == SignalBool && v.Bool == want
	case int:
		return v.AsReal() == float64(want) && (v.Kind == SignalInt || v.Kind == SignalReal)
	case int64:
		return v.AsReal() == float64(want) && (v.Kind == SignalInt || v.Kind == SignalReal)
	case float64:
		return (v.Kind == SignalInt || v.Kind == SignalReal) && v.AsReal() == want
	case string:
		return v.Kind == SignalString && v.Str == want
	}
	return false
}

func (v SignalValue) String() string {
	switch v.Kind {
	case SignalBool:
		return fmt.Sprintf("%t", v.Bool)
	case SignalInt:
		return fmt.Sprintf("%d", v.Int)
	case SignalReal:
		return fmt.Sprintf("%g", v.Real)
	case SignalString:
		return v.Str
	case SignalBundle:
		return fmt.Sprintf("bundle(%d)", len(v.Bundle))
	default:
		return "<none>"
	}
}

// SignalRecord is a (key, value) pair as exported on the final evidence.
type SignalRecord struct {
	Key   string      `json:"key"`
	Value SignalValue `json:"value"`
}
