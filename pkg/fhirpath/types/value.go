// Package types defines the FHIRPath type system.
package types

// Value is the base interface for all FHIRPath values.
type Value interface {
	// Type returns the FHIRPath type name.
	Type() string

	// Equal compares exact equality (= operator).
	Equal(other Value) bool

	// Equivalent compares equivalence (~ operator).
	// For strings: case-insensitive, ignores leading/trailing whitespace.
	Equivalent(other Value) bool

	// String returns a string representation of the value.
	String() string

	// IsEmpty indicates if this value represents empty.
	IsEmpty() bool
}

// Comparable is implemented by types that support ordering.
type Comparable interface {
	Value
	// Compare returns -1 if less than, 0 if equal, 1 if greater than.
	// Returns error if types are incompatible.
	Compare(other Value) (int, error)
}

// Numeric is implemented by numeric types (Integer, Decimal).
type Numeric interface {
	Value
	// ToDecimal converts the numeric to a Decimal.
	ToDecimal() Decimal
}

// Reflectable is implemented by every Value that can name its own type
// namespace for type()/is/as reflection: "System" for the
// FHIRPath primitives (Boolean, Integer, Decimal, String, Date, DateTime,
// Time, Quantity), "FHIR" for resource/element object values.
type Reflectable interface {
	Value
	// Namespace returns the reflected type's namespace ("System" or "FHIR").
	Namespace() string
}

// ReflectType builds the TypeInfo a Reflectable value reifies as. Values
// that don't implement Reflectable (TypeInfo itself, reflecting on a
// reflection) fall back to an empty namespace.
func ReflectType(v Value) TypeInfo {
	if r, ok := v.(Reflectable); ok {
		return TypeInfo{Namespace: r.Namespace(), Name: v.Type()}
	}
	return TypeInfo{Name: v.Type()}
}
