package codec

import "strings"

// County codes per ISO 3166-2:RO. Incoming documents carry either the
// bare code, an RO- prefixed code, or the full county name; storage keeps
// the bare code.
var countyByName = map[string]string{
	"alba":            "AB",
	"arad":            "AR",
	"arges":           "AG",
	"bacau":           "BC",
	"bihor":           "BH",
	"bistrita-nasaud": "BN",
	"botosani":        "BT",
	"braila":          "BR",
	"brasov":          "BV",
	"bucuresti":       "B",
	"buzau":           "BZ",
	"calarasi":        "CL",
	"caras-severin":   "CS",
	"cluj":            "CJ",
	"constanta":       "CT",
	"covasna":         "CV",
	"dambovita":       "DB",
	"dolj":            "DJ",
	"galati":          "GL",
	"giurgiu":         "GR",
	"gorj":            "GJ",
	"harghita":        "HR",
	"hunedoara":       "HD",
	"ialomita":        "IL",
	"iasi":            "IS",
	"ilfov":           "IF",
	"maramures":       "MM",
	"mehedinti":       "MH",
	"mures":           "MS",
	"neamt":           "NT",
	"olt":             "OT",
	"prahova":         "PH",
	"salaj":           "SJ",
	"satu mare":       "SM",
	"sibiu":           "SB",
	"suceava":         "SV",
	"teleorman":       "TR",
	"timis":           "TM",
	"tulcea":          "TL",
	"valcea":          "VL",
	"vaslui":          "VS",
	"vrancea":         "VN",
}

// NormalizeCounty reduces a county identifier to its bare ISO code.
// Unknown values pass through unchanged.
func NormalizeCounty(county string) string {
	county = strings.TrimSpace(county)
	if county == "" {
		return ""
	}

	upper := strings.ToUpper(county)
	if strings.HasPrefix(upper, "RO-") {
		return upper[3:]
	}
	if len(upper) <= 2 {
		return upper
	}
	if code, ok := countyByName[strings.ToLower(county)]; ok {
		return code
	}
	return county
}
