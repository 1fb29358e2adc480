package als

import "strings"

// countryTemplate is a brand-neutral civic-signal template for one country.
// Grounded on the original ALS template library: a timezone set, a civic
// keyword, a handful of rotating phrases, a formatting example, and a
// regulatory cue rendered in place of a weather line.
type countryTemplate struct {
	country      string
	timezones    []string
	civicKeyword string
	phrases      []string
	formatting   string
	regulatory   string
}

// templates is intentionally a small, representative set (not the full
// original library) — enough to exercise every code path of the builder
// deterministically.
var templates = map[string]countryTemplate{
	"DE": {
		country:      "Germany",
		timezones:    []string{"Europe/Berlin"},
		civicKeyword: "Bundesportal",
		phrases: []string{
			"Reisepass beantragen Termin",
			"Fuehrerschein umtauschen",
			"Anmeldung Buergeramt",
			"Kindergeld Antrag",
		},
		formatting: "10115 Berlin · +49 30 xxx xx xx · 12,90 €",
		regulatory: "MwSt. — allgemeine Auskuenfte",
	},
	"CH": {
		country:      "Switzerland",
		timezones:    []string{"Europe/Zurich"},
		civicKeyword: "Gemeinde",
		phrases: []string{
			"Wohnsitz ummelden Termin",
			"AHV Ausweis beantragen",
			"Strassenverkehrsamt Anmeldung",
		},
		formatting: "8001 Zuerich · +41 44 xxx xx xx · CHF 12.90",
		regulatory: "MWST — allgemeine Hinweise",
	},
	"US": {
		country:      "United States",
		timezones:    []string{"America/New_York", "America/Chicago", "America/Los_Angeles"},
		civicKeyword: "DMV",
		phrases: []string{
			"passport renewal appointment",
			"driver license renewal",
			"voter registration update",
		},
		formatting: "Springfield, IL 62701 · (555) 555-0100 · $12.90",
		regulatory: "sales tax varies by county",
	},
	"GB": {
		country:      "United Kingdom",
		timezones:    []string{"Europe/London"},
		civicKeyword: "GOV.UK portal",
		phrases: []string{
			"passport renewal appointment",
			"driving licence update",
			"council tax enquiry",
		},
		formatting: "SW1A 1AA · +44 20 xxxx xxxx · £12.90",
		regulatory: "VAT — general guidance",
	},
}

// canonicalizeCountry upper-cases a country code and maps legacy aliases
// (UK -> GB).
func canonicalizeCountry(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "UK" {
		return "GB"
	}
	return c
}

// SupportedCountries returns the canonical country codes the builder knows.
func SupportedCountries() []string {
	out := make([]string, 0, len(templates))
	for code := range templates {
		out = append(out, code)
	}
	return out
}
