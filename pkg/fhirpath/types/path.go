package types

import "strconv"

// PathSegment is one element of a CanonicalPath: either a named property
// step or a numeric index step.
type PathSegment struct {
	Property string
	Index    int
	isIndex  bool
}

// PropertySegment builds a named-property path segment.
func PropertySegment(name string) PathSegment {
	return PathSegment{Property: name}
}

// IndexSegment builds a numeric-index path segment.
func IndexSegment(i int) PathSegment {
	return PathSegment{Index: i, isIndex: true}
}

// IsIndex reports whether this segment is an index step rather than a
// property step.
func (s PathSegment) IsIndex() bool { return s.isIndex }

// CanonicalPath is the dotted path from the evaluation root
// (Patient.name[0].given[1]), tracked on every WrappedValue for
// diagnostics and polymorphic resolution.
//
// Paths are monotone: navigation only ever appends segments, never
// rewrites prior ones.
type CanonicalPath struct {
	segments []PathSegment
}

// RootPath returns the empty path, used for the evaluation root.
func RootPath() CanonicalPath {
	return CanonicalPath{}
}

// AppendProperty returns a new path with a property segment appended.
// The receiver is unmodified.
func (p CanonicalPath) AppendProperty(name string) CanonicalPath {
	next := make([]PathSegment, len(p.segments), len(p.segments)+1)
	copy(next, p.segments)
	next = append(next, PropertySegment(name))
	return CanonicalPath{segments: next}
}

// AppendIndex returns a new path with an index segment appended. The
// receiver is unmodified.
func (p CanonicalPath) AppendIndex(i int) CanonicalPath {
	next := make([]PathSegment, len(p.segments), len(p.segments)+1)
	copy(next, p.segments)
	next = append(next, IndexSegment(i))
	return CanonicalPath{segments: next}
}

// Segments returns the path's segments in order. The returned slice is a
// copy; callers must not rely on aliasing.
func (p CanonicalPath) Segments() []PathSegment {
	out := make([]PathSegment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len reports the number of segments.
func (p CanonicalPath) Len() int { return len(p.segments) }

// Equal compares two paths by segment sequence.
func (p CanonicalPath) Equal(other CanonicalPath) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		o := other.segments[i]
		if seg.isIndex != o.isIndex || seg.Property != o.Property || seg.Index != o.Index {
			return false
		}
	}
	return true
}

// String renders the conventional dotted form, e.g. "Patient.name[0].given[1]".
func (p CanonicalPath) String() string {
	var sb []byte
	for i, seg := range p.segments {
		if seg.isIndex {
			sb = append(sb, '[')
			sb = strconv.AppendInt(sb, int64(seg.Index), 10)
			sb = append(sb, ']')
			continue
		}
		if i > 0 {
			sb = append(sb, '.')
		}
		sb = append(sb, seg.Property...)
	}
	return string(sb)
}

// TypeInfo is the reified result of type()/is/as reflection.
type TypeInfo struct {
	Namespace string // "System" or "FHIR"
	Name      string
}

func (t TypeInfo) Type() string { return "TypeInfo" }

func (t TypeInfo) Equal(other Value) bool {
	o, ok := other.(TypeInfo)
	return ok && o.Namespace == t.Namespace && o.Name == t.Name
}

func (t TypeInfo) Equivalent(other Value) bool { return t.Equal(other) }

func (t TypeInfo) String() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

func (t TypeInfo) IsEmpty() bool { return t.Name == "" }

// WrappedValue is the metadata envelope every Value carries during
// evaluation: the declared FHIR type, the resource type
// when this value is a resource root, the canonical path from the
// evaluation root, and this value's index within its parent collection
// (if any).
//
// Navigation produces new WrappedValues with Path extended; lifting a bare
// Value into a WrappedValue happens only at entry points: the root
// resource, literals, %variables, and operator and function-call results.
type WrappedValue struct {
	Value        Value
	FHIRType     string
	ResourceType string // empty when not a resource root
	Path         CanonicalPath
	Index        int // only meaningful when HasIndex is true
	HasIndex     bool
}

// Wrap lifts a bare Value to the evaluation root, with no FHIR type known.
func Wrap(v Value) WrappedValue {
	return WrappedValue{Value: v, Path: RootPath()}
}

// WrapTyped lifts a bare Value with a declared FHIR type at the given path.
func WrapTyped(v Value, fhirType string, path CanonicalPath) WrappedValue {
	return WrappedValue{Value: v, FHIRType: fhirType, Path: path}
}

// WrapResourceRoot lifts a resource Value as the root of a navigation,
// recording its resource type.
func WrapResourceRoot(v Value, resourceType string) WrappedValue {
	return WrappedValue{
		Value:        v,
		FHIRType:     resourceType,
		ResourceType: resourceType,
		Path:         RootPath(),
	}
}

// NavigateProperty produces the WrappedValue for accessing property name
// on w, with the path extended and the new declared FHIR type recorded.
func (w WrappedValue) NavigateProperty(v Value, property, fhirType string) WrappedValue {
	return WrappedValue{
		Value:    v,
		FHIRType: fhirType,
		Path:     w.Path.AppendProperty(property),
	}
}

// NavigateIndex produces the WrappedValue for accessing index i within w's
// collection, with the path extended.
func (w WrappedValue) NavigateIndex(v Value, i int) WrappedValue {
	return WrappedValue{
		Value:    v,
		FHIRType: w.FHIRType,
		Path:     w.Path.AppendIndex(i),
		Index:    i,
		HasIndex: true,
	}
}

// WrappedCollection is an ordered sequence of WrappedValue. It is what the
// evaluator actually navigates internally: unlike a bare Collection, every
// element here remembers the distinct path it was reached through, so a
// fan-out like Patient.name.given -- two name entries contributing three
// given strings between them -- keeps each given string's own
// Patient.name[i].given[j] path instead of collapsing onto one shared
// scalar.
type WrappedCollection []WrappedValue

// Values strips path/type metadata, producing the plain Collection that
// FuncImpl implementations operate on.
func (w WrappedCollection) Values() Collection {
	if len(w) == 0 {
		return Collection{}
	}
	out := make(Collection, len(w))
	for i, wv := range w {
		out[i] = wv.Value
	}
	return out
}

// WrapCollection lifts a bare Collection with no navigation history --
// literals, %variables, function-call results -- to WrappedCollection, each
// element anchored at the root path.
func WrapCollection(col Collection) WrappedCollection {
	if len(col) == 0 {
		return WrappedCollection{}
	}
	out := make(WrappedCollection, len(col))
	for i, v := range col {
		out[i] = Wrap(v)
	}
	return out
}

// WrapResourceRootCollection lifts a singleton root resource collection,
// recording its resource type on the one WrappedValue produced.
func WrapResourceRootCollection(col Collection, resourceType string) WrappedCollection {
	if len(col) == 0 {
		return WrappedCollection{}
	}
	out := make(WrappedCollection, len(col))
	for i, v := range col {
		if resourceType != "" {
			out[i] = WrapResourceRoot(v, resourceType)
			continue
		}
		out[i] = Wrap(v)
	}
	return out
}
