// Package model defines the ModelProvider interface through which the
// evaluator and analyzer consume FHIR schema knowledge, plus a TTL-bounded
// read-through cache.
package model

import (
	"strings"
	"sync"
	"time"

	"github.com/iancoleman/strcase"
)

// TypeInfo is the reified result of type()/type lookups.
type TypeInfo struct {
	Namespace string // "FHIR" or "System"
	Name      string
}

func (t TypeInfo) String() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// ElementInfo describes one declared element on a type, used for
// suggestions and property resolution.
type ElementInfo struct {
	Name     string
	Type     TypeInfo
	MinCard  int
	MaxCard  int // -1 means unbounded
	IsChoice bool
}

// ChoiceTypeInfo describes one concrete suffix of a choice ("value[x]") element.
type ChoiceTypeInfo struct {
	Suffix string // e.g. "Quantity" for valueQuantity
	Type   TypeInfo
}

// ConformanceResult is the outcome of validate_conformance.
type ConformanceResult struct {
	Conforms bool
	Issues   []string
}

// Provider is the schema oracle: type lookups, element resolution,
// choice types, inheritance.
type Provider interface {
	GetType(name string) (TypeInfo, bool)
	GetElementType(parent, property string) (TypeInfo, bool)
	GetChoiceTypes(parent, baseProperty string) ([]ChoiceTypeInfo, bool)
	GetUnionTypes(typeName string) ([]TypeInfo, bool)
	GetElements(typeName string) []ElementInfo
	GetResourceTypes() []string
	GetComplexTypes() []string
	GetPrimitiveTypes() []string
	ValidateConformance(value interface{}, profileURL string) (ConformanceResult, error)
	IsResourceType(name string) bool
	IsSubtypeOf(child, parent string) bool
}

// EmptyModelProvider is the no-schema baseline: every schema lookup misses
// and ValidateConformance reports non-conformance. IsResourceType treats any
// capitalised name as a resource type, and IsSubtypeOf is case-insensitive
// name equality. The evaluator must still run correctly against it with conservative
// behavior (no type widening, no choice-type resolution, unknown-property
// navigation returns Empty).
type EmptyModelProvider struct{}

func (EmptyModelProvider) GetType(string) (TypeInfo, bool)                   { return TypeInfo{}, false }
func (EmptyModelProvider) GetElementType(string, string) (TypeInfo, bool)    { return TypeInfo{}, false }
func (EmptyModelProvider) GetChoiceTypes(string, string) ([]ChoiceTypeInfo, bool) {
	return nil, false
}
func (EmptyModelProvider) GetUnionTypes(string) ([]TypeInfo, bool) { return nil, false }
func (EmptyModelProvider) GetElements(string) []ElementInfo        { return nil }
func (EmptyModelProvider) GetResourceTypes() []string              { return nil }
func (EmptyModelProvider) GetComplexTypes() []string                { return nil }
func (EmptyModelProvider) GetPrimitiveTypes() []string               { return nil }
func (EmptyModelProvider) ValidateConformance(interface{}, string) (ConformanceResult, error) {
	return ConformanceResult{}, nil
}
func (EmptyModelProvider) IsResourceType(name string) bool {
	return name != "" && strings.ToUpper(name[:1]) == name[:1]
}
func (EmptyModelProvider) IsSubtypeOf(child, parent string) bool {
	return strings.EqualFold(child, parent)
}

// polymorphicSuffixes enumerates FHIR choice-element type suffixes, used by
// GetChoiceTypes-style resolution when no concrete schema is wired. Kept in
// sync with eval.polymorphicTypeSuffixes (same domain fact, two call sites:
// the evaluator's best-effort fallback and the model layer's suffix
// generation for suggestions).
var polymorphicSuffixes = []string{
	"Boolean", "Integer", "Decimal", "String", "Code", "Id", "Uri", "Url",
	"Canonical", "Base64Binary", "Instant", "Date", "DateTime", "Time",
	"Quantity", "CodeableConcept", "Coding", "Range", "Period", "Ratio",
	"Identifier", "Reference", "Attachment", "HumanName", "Address",
	"ContactPoint", "Annotation", "Age", "Distance", "Duration", "Money",
}

// ChoiceSuffixCandidates returns candidate field names for a choice element
// base name (e.g. "value" -> "valueString", "valueQuantity", ...), using
// strcase to normalize casing the way a schema-driven suggestion engine
// would when comparing user-typed property names against generated
// candidates.
func ChoiceSuffixCandidates(base string) []string {
	out := make([]string, 0, len(polymorphicSuffixes))
	for _, suffix := range polymorphicSuffixes {
		out = append(out, strcase.ToLowerCamel(base)+suffix)
	}
	return out
}

// cacheEntry is one TTL-bounded cache slot.
type cacheEntry struct {
	value     interface{}
	ok        bool
	expiresAt time.Time
}

// CacheStats exposes hit/miss/eviction counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// methodCache is an RWMutex-guarded TTL map for one ModelProvider method.
// Entries expire lazily on lookup; there is no background sweeper.
type methodCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	stats   CacheStats
}

func newMethodCache(ttl time.Duration) *methodCache {
	return &methodCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

func (c *methodCache) get(key string) (interface{}, bool, bool) {
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()
	if !found {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.stats.Evictions++
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false, false
	}
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return entry.value, entry.ok, true
}

func (c *methodCache) put(key string, value interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, ok: ok, expiresAt: time.Now().Add(c.ttl)}
}

// CachedProvider wraps a Provider with a per-method TTL cache. Stable
// lookups (resource-type lists) use a longer TTL (10x).
// The cache does not retry on a miss-returning-error: the underlying
// provider's error surfaces directly from the method call.
type CachedProvider struct {
	underlying Provider
	ttl        time.Duration

	typeCache         *methodCache
	elementTypeCache  *methodCache
	choiceTypesCache  *methodCache
	unionTypesCache   *methodCache
	resourceTypeCache *methodCache // long-TTL
}

// NewCachedProvider wraps underlying with a cache using ttl for volatile
// lookups and 10*ttl for stable ones (resource/complex/primitive type lists).
func NewCachedProvider(underlying Provider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{
		underlying:        underlying,
		ttl:               ttl,
		typeCache:         newMethodCache(ttl),
		elementTypeCache:  newMethodCache(ttl),
		choiceTypesCache:  newMethodCache(ttl),
		unionTypesCache:   newMethodCache(ttl),
		resourceTypeCache: newMethodCache(ttl * 10),
	}
}

func (c *CachedProvider) GetType(name string) (TypeInfo, bool) {
	if v, ok, found := c.typeCache.get(name); found {
		if !ok {
			return TypeInfo{}, false
		}
		return v.(TypeInfo), true
	}
	v, ok := c.underlying.GetType(name)
	c.typeCache.put(name, v, ok)
	return v, ok
}

func (c *CachedProvider) GetElementType(parent, property string) (TypeInfo, bool) {
	key := parent + "." + property
	if v, ok, found := c.elementTypeCache.get(key); found {
		if !ok {
			return TypeInfo{}, false
		}
		return v.(TypeInfo), true
	}
	v, ok := c.underlying.GetElementType(parent, property)
	c.elementTypeCache.put(key, v, ok)
	return v, ok
}

func (c *CachedProvider) GetChoiceTypes(parent, base string) ([]ChoiceTypeInfo, bool) {
	key := parent + "." + base
	if v, ok, found := c.choiceTypesCache.get(key); found {
		if !ok {
			return nil, false
		}
		return v.([]ChoiceTypeInfo), true
	}
	v, ok := c.underlying.GetChoiceTypes(parent, base)
	c.choiceTypesCache.put(key, v, ok)
	return v, ok
}

func (c *CachedProvider) GetUnionTypes(typeName string) ([]TypeInfo, bool) {
	if v, ok, found := c.unionTypesCache.get(typeName); found {
		if !ok {
			return nil, false
		}
		return v.([]TypeInfo), true
	}
	v, ok := c.underlying.GetUnionTypes(typeName)
	c.unionTypesCache.put(typeName, v, ok)
	return v, ok
}

func (c *CachedProvider) GetElements(typeName string) []ElementInfo {
	return c.underlying.GetElements(typeName)
}

func (c *CachedProvider) GetResourceTypes() []string {
	if v, ok, found := c.resourceTypeCache.get("resource"); found && ok {
		return v.([]string)
	}
	v := c.underlying.GetResourceTypes()
	c.resourceTypeCache.put("resource", v, true)
	return v
}

func (c *CachedProvider) GetComplexTypes() []string {
	if v, ok, found := c.resourceTypeCache.get("complex"); found && ok {
		return v.([]string)
	}
	v := c.underlying.GetComplexTypes()
	c.resourceTypeCache.put("complex", v, true)
	return v
}

func (c *CachedProvider) GetPrimitiveTypes() []string {
	if v, ok, found := c.resourceTypeCache.get("primitive"); found && ok {
		return v.([]string)
	}
	v := c.underlying.GetPrimitiveTypes()
	c.resourceTypeCache.put("primitive", v, true)
	return v
}

func (c *CachedProvider) ValidateConformance(value interface{}, profileURL string) (ConformanceResult, error) {
	return c.underlying.ValidateConformance(value, profileURL)
}

func (c *CachedProvider) IsResourceType(name string) bool {
	return c.underlying.IsResourceType(name)
}

func (c *CachedProvider) IsSubtypeOf(child, parent string) bool {
	return c.underlying.IsSubtypeOf(child, parent)
}

// Stats aggregates cache counters across all per-method caches.
func (c *CachedProvider) Stats() CacheStats {
	var total CacheStats
	for _, mc := range []*methodCache{c.typeCache, c.elementTypeCache, c.choiceTypesCache, c.unionTypesCache, c.resourceTypeCache} {
		mc.mu.RLock()
		total.Hits += mc.stats.Hits
		total.Misses += mc.stats.Misses
		total.Evictions += mc.stats.Evictions
		mc.mu.RUnlock()
	}
	return total
}
