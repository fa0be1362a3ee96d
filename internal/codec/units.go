package codec

// Unit-of-measure mapping between local codes and UN/ECE Recommendation 20
// codes. Unknown codes fall back to piece in both directions; the fallback
// is deliberately lossy, not an error.

const (
	defaultUnitCode  = "H87"
	defaultUnitLocal = "buc"
)

var unitToUNECE = map[string]string{
	"buc":    "H87",
	"kg":     "KGM",
	"l":      "LTR",
	"m":      "MTR",
	"ora":    "HUR",
	"zi":     "DAY",
	"luna":   "MON",
	"set":    "SET",
	"pachet": "PK",
}

var unitFromUNECE = map[string]string{
	"H87": "buc",
	"KGM": "kg",
	"LTR": "l",
	"MTR": "m",
	"HUR": "ora",
	"DAY": "zi",
	"MON": "luna",
	"SET": "set",
	"PK":  "pachet",
}

// UnitCode converts a local unit to its UN/ECE code.
func UnitCode(local string) string {
	if code, ok := unitToUNECE[local]; ok {
		return code
	}
	return defaultUnitCode
}

// UnitLocal converts a UN/ECE code back to the local unit.
func UnitLocal(code string) string {
	if local, ok := unitFromUNECE[code]; ok {
		return local
	}
	return defaultUnitLocal
}
