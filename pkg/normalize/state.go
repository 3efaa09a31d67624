package normalize

import "strings"

// stateAliases maps squashed lower-case state spellings (abbreviations and
// common misspellings) to canonical names. Lookup keys are stripped of
// everything non-alphanumeric so "Tamil-Nadu", "tamil nadu" and "TAMILNADU"
// all resolve.
var stateAliases = map[string]string{
	// Abbreviations
	"ap": "Andhra Pradesh", "ar": "Arunachal Pradesh", "as": "Assam", "br": "Bihar",
	"cg": "Chhattisgarh", "ga": "Goa", "gj": "Gujarat", "hr": "Haryana", "hp": "Himachal Pradesh",
	"jk": "Jammu and Kashmir", "jh": "Jharkhand", "ka": "Karnataka", "kl": "Kerala",
	"mp": "Madhya Pradesh", "mh": "Maharashtra", "mn": "Manipur", "ml": "Meghalaya",
	"mz": "Mizoram", "nl": "Nagaland", "or": "Odisha", "pb": "Punjab", "rj": "Rajasthan",
	"sk": "Sikkim", "tn": "Tamil Nadu", "tg": "Telangana", "tr": "Tripura",
	"uk": "Uttarakhand", "up": "Uttar Pradesh", "wb": "West Bengal", "dl": "Delhi",

	// Full names and frequent misspellings, squashed
	"andhrapradesh":   "Andhra Pradesh",
	"aandhraapradesh": "Andhra Pradesh",
	"andhrapradhesh":  "Andhra Pradesh",
	"arunachalpradesh": "Arunachal Pradesh",
	"himachalpradesh":  "Himachal Pradesh",
	"jammuandkashmir":  "Jammu and Kashmir",
	"jammukashmir":     "Jammu and Kashmir",
	"madhyapradesh":    "Madhya Pradesh",
	"uttarpradesh":     "Uttar Pradesh",
	"uttaranchal":      "Uttarakhand",
	"westbengal":       "West Bengal",
	"tamilnadu":        "Tamil Nadu",
	"chandigarh":       "Chandigarh",
	"kerla":            "Kerala",
	"orissa":           "Odisha",
	"newdelhi":         "Delhi",
}

// State resolves a state value against the alias table. Unmatched values are
// cleaned and title-cased but otherwise passed through, so regional-script
// state names survive verbatim.
func State(val string) string {
	cleaned := Text(val)
	if cleaned == "" {
		return ""
	}

	var key strings.Builder
	for _, r := range strings.ToLower(cleaned) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			key.WriteRune(r)
		}
	}
	if canonical, ok := stateAliases[key.String()]; ok {
		return canonical
	}
	return City(cleaned)
}
