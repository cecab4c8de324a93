// Package ucum provides UCUM (Unified Code for Units of Measure) normalization
// for FHIR quantity search parameters.
//
// UCUM is the standard unit system used in FHIR for quantities.
// This package normalizes units to canonical base units to enable
// cross-unit search (e.g., 10mg = 0.01g).
//
// Reference: https://ucum.org/ucum.html
package ucum

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// NormalizedQuantity represents a quantity normalized to canonical UCUM units.
type NormalizedQuantity struct {
	Value float64 // Normalized value in canonical units
	Code  string  // Canonical unit code
}

// UnitConversion defines a conversion from a unit to its canonical form.
// Factor is kept as an apd.Decimal rather than a float64 so that the
// conversion coefficients themselves (many of which, like the avoirdupois
// pound or the Julian year, are exact rationals) aren't rounded before
// they're ever used.
type UnitConversion struct {
	CanonicalCode string       // The canonical unit code (e.g., "g" for mass)
	Factor        *apd.Decimal // Multiply original value by this to get canonical
}

func factor(s string) *apd.Decimal {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic("ucum: invalid conversion factor " + s)
	}
	return d
}

// canonicalUnits maps UCUM codes to their canonical conversions.
// Organized by dimension (mass, length, volume, time, etc.)
var canonicalUnits = map[string]UnitConversion{
	// === MASS (canonical: g) ===
	"kg":      {CanonicalCode: "g", Factor: factor("1000")},
	"g":       {CanonicalCode: "g", Factor: factor("1")},
	"mg":      {CanonicalCode: "g", Factor: factor("0.001")},
	"ug":      {CanonicalCode: "g", Factor: factor("0.000001")},
	"ng":      {CanonicalCode: "g", Factor: factor("0.000000001")},
	"pg":      {CanonicalCode: "g", Factor: factor("0.000000000001")},
	"lb":      {CanonicalCode: "g", Factor: factor("453.59237")},    // avoirdupois pound
	"oz":      {CanonicalCode: "g", Factor: factor("28.349523125")}, // avoirdupois ounce
	"[lb_av]": {CanonicalCode: "g", Factor: factor("453.59237")},
	"[oz_av]": {CanonicalCode: "g", Factor: factor("28.349523125")},

	// === LENGTH (canonical: m) ===
	"km":     {CanonicalCode: "m", Factor: factor("1000")},
	"m":      {CanonicalCode: "m", Factor: factor("1")},
	"dm":     {CanonicalCode: "m", Factor: factor("0.1")},
	"cm":     {CanonicalCode: "m", Factor: factor("0.01")},
	"mm":     {CanonicalCode: "m", Factor: factor("0.001")},
	"um":     {CanonicalCode: "m", Factor: factor("0.000001")},
	"nm":     {CanonicalCode: "m", Factor: factor("0.000000001")},
	"[in_i]": {CanonicalCode: "m", Factor: factor("0.0254")},   // international inch
	"[ft_i]": {CanonicalCode: "m", Factor: factor("0.3048")},   // international foot
	"[yd_i]": {CanonicalCode: "m", Factor: factor("0.9144")},   // international yard
	"[mi_i]": {CanonicalCode: "m", Factor: factor("1609.344")}, // international mile
	"in":     {CanonicalCode: "m", Factor: factor("0.0254")},
	"ft":     {CanonicalCode: "m", Factor: factor("0.3048")},

	// === VOLUME (canonical: L) ===
	"L":        {CanonicalCode: "L", Factor: factor("1")},
	"l":        {CanonicalCode: "L", Factor: factor("1")},
	"dL":       {CanonicalCode: "L", Factor: factor("0.1")},
	"dl":       {CanonicalCode: "L", Factor: factor("0.1")},
	"cL":       {CanonicalCode: "L", Factor: factor("0.01")},
	"cl":       {CanonicalCode: "L", Factor: factor("0.01")},
	"mL":       {CanonicalCode: "L", Factor: factor("0.001")},
	"ml":       {CanonicalCode: "L", Factor: factor("0.001")},
	"uL":       {CanonicalCode: "L", Factor: factor("0.000001")},
	"ul":       {CanonicalCode: "L", Factor: factor("0.000001")},
	"[gal_us]": {CanonicalCode: "L", Factor: factor("3.785411784")},
	"[qt_us]":  {CanonicalCode: "L", Factor: factor("0.946352946")},
	"[pt_us]":  {CanonicalCode: "L", Factor: factor("0.473176473")},
	"[foz_us]": {CanonicalCode: "L", Factor: factor("0.0295735295625")},

	// === TIME (canonical: s) ===
	"a":   {CanonicalCode: "s", Factor: factor("31557600")},    // Julian year
	"mo":  {CanonicalCode: "s", Factor: factor("2629800")},     // month (30.4375 days)
	"wk":  {CanonicalCode: "s", Factor: factor("604800")},      // week
	"d":   {CanonicalCode: "s", Factor: factor("86400")},       // day
	"h":   {CanonicalCode: "s", Factor: factor("3600")},        // hour
	"min": {CanonicalCode: "s", Factor: factor("60")},          // minute
	"s":   {CanonicalCode: "s", Factor: factor("1")},           // second
	"ms":  {CanonicalCode: "s", Factor: factor("0.001")},       // millisecond
	"us":  {CanonicalCode: "s", Factor: factor("0.000001")},    // microsecond
	"ns":  {CanonicalCode: "s", Factor: factor("0.000000001")}, // nanosecond

	// === TEMPERATURE (canonical: K) ===
	"K":      {CanonicalCode: "K", Factor: factor("1")},   // Kelvin
	"Cel":    {CanonicalCode: "Cel", Factor: factor("1")}, // Celsius (offset, not just scale - special handling needed)
	"[degF]": {CanonicalCode: "Cel", Factor: factor("1")}, // Fahrenheit (offset, not just scale - special handling needed)

	// === CONCENTRATION (mass/volume) ===
	"g/L":   {CanonicalCode: "g/L", Factor: factor("1")},
	"mg/L":  {CanonicalCode: "g/L", Factor: factor("0.001")},
	"ug/L":  {CanonicalCode: "g/L", Factor: factor("0.000001")},
	"ng/L":  {CanonicalCode: "g/L", Factor: factor("0.000000001")},
	"g/dL":  {CanonicalCode: "g/L", Factor: factor("10")},
	"mg/dL": {CanonicalCode: "g/L", Factor: factor("0.01")},
	"ug/dL": {CanonicalCode: "g/L", Factor: factor("0.00001")},
	"g/mL":  {CanonicalCode: "g/L", Factor: factor("1000")},
	"mg/mL": {CanonicalCode: "g/L", Factor: factor("1")},
	"ug/mL": {CanonicalCode: "g/L", Factor: factor("0.001")},

	// === MOLAR CONCENTRATION (canonical: mol/L) ===
	"mol/L":  {CanonicalCode: "mol/L", Factor: factor("1")},
	"mmol/L": {CanonicalCode: "mol/L", Factor: factor("0.001")},
	"umol/L": {CanonicalCode: "mol/L", Factor: factor("0.000001")},
	"nmol/L": {CanonicalCode: "mol/L", Factor: factor("0.000000001")},
	"pmol/L": {CanonicalCode: "mol/L", Factor: factor("0.000000000001")},

	// === PRESSURE (canonical: Pa) ===
	"Pa":     {CanonicalCode: "Pa", Factor: factor("1")},
	"kPa":    {CanonicalCode: "Pa", Factor: factor("1000")},
	"mm[Hg]": {CanonicalCode: "Pa", Factor: factor("133.322387415")},
	"[psi]":  {CanonicalCode: "Pa", Factor: factor("6894.757293168")},

	// === COUNT/CELLS ===
	"10*9/L":  {CanonicalCode: "10*9/L", Factor: factor("1")},        // billions per liter (common for WBC)
	"10*12/L": {CanonicalCode: "10*9/L", Factor: factor("1000")},     // trillions per liter (common for RBC)
	"10*6/L":  {CanonicalCode: "10*9/L", Factor: factor("0.001")},    // millions per liter
	"10*3/uL": {CanonicalCode: "10*9/L", Factor: factor("1")},        // thousands per microliter = billions per liter
	"/uL":     {CanonicalCode: "10*9/L", Factor: factor("0.001")},    // per microliter

	// === PERCENTAGE ===
	"%": {CanonicalCode: "%", Factor: factor("1")},

	// === RATE ===
	"/min": {CanonicalCode: "/min", Factor: factor("1")},       // per minute (heart rate, resp rate)
	"/h":   {CanonicalCode: "/min", Factor: factor("0.01666666666666666667")}, // per hour

	// === INTERNATIONAL UNITS ===
	"[IU]":     {CanonicalCode: "[IU]", Factor: factor("1")},
	"[IU]/L":   {CanonicalCode: "[IU]/L", Factor: factor("1")},
	"[IU]/mL":  {CanonicalCode: "[IU]/L", Factor: factor("1000")},
	"m[IU]/L":  {CanonicalCode: "[IU]/L", Factor: factor("0.001")},
	"m[IU]/mL": {CanonicalCode: "[IU]/L", Factor: factor("1")},
	"u[IU]/mL": {CanonicalCode: "[IU]/L", Factor: factor("0.001")},

	// === ENERGY ===
	"J":     {CanonicalCode: "J", Factor: factor("1")},
	"kJ":    {CanonicalCode: "J", Factor: factor("1000")},
	"cal":   {CanonicalCode: "J", Factor: factor("4.184")},
	"kcal":  {CanonicalCode: "J", Factor: factor("4184")},
	"[Cal]": {CanonicalCode: "J", Factor: factor("4184")},
}

func lookup(code string) (UnitConversion, bool) {
	if conv, ok := canonicalUnits[code]; ok {
		return conv, true
	}
	for ucumCode, conv := range canonicalUnits {
		if strings.EqualFold(ucumCode, code) {
			return conv, true
		}
	}
	return UnitConversion{}, false
}

// Normalize converts a quantity to its canonical UCUM form.
// Returns the original values if the unit is not recognized.
func Normalize(value float64, code string) NormalizedQuantity {
	conv, ok := lookup(code)
	if !ok {
		return NormalizedQuantity{Value: value, Code: code}
	}

	v, _, err := apd.NewFromString(strconv.FormatFloat(value, 'g', -1, 64))
	if err != nil {
		return NormalizedQuantity{Value: value, Code: code}
	}

	result := new(apd.Decimal)
	if _, err := apd.BaseContext.Mul(result, v, conv.Factor); err != nil {
		return NormalizedQuantity{Value: value, Code: code}
	}

	f, err := result.Float64()
	if err != nil {
		return NormalizedQuantity{Value: value, Code: code}
	}

	return NormalizedQuantity{Value: f, Code: conv.CanonicalCode}
}

// NormalizeWithSystem converts a quantity considering both system and code.
// For UCUM system (http://unitsofmeasure.org), it applies normalization.
// For other systems, it returns values unchanged.
func NormalizeWithSystem(value float64, system, code string) NormalizedQuantity {
	// Only normalize UCUM units
	if system != "" && system != "http://unitsofmeasure.org" {
		return NormalizedQuantity{
			Value: value,
			Code:  code,
		}
	}

	return Normalize(value, code)
}

// IsKnownUnit returns true if the unit code is recognized for normalization.
func IsKnownUnit(code string) bool {
	_, ok := lookup(code)
	return ok
}

// GetCanonicalUnit returns the canonical unit for a given code.
// Returns the original code if not found.
func GetCanonicalUnit(code string) string {
	conv, ok := lookup(code)
	if !ok {
		return code
	}
	return conv.CanonicalCode
}
