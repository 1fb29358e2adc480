package als

import "strings"

// Validate checks a rendered ALS block for properties that would make it
// unsafe to send: excessive length, embedded URLs, or commercial/industry
// terms that don't belong in a brand-neutral civic signal. Supplements the
// core builder so deployments can sanity-check custom templates.
func Validate(block string) (ok bool, issues []string) {
	if len([]rune(block)) > maxChars {
		issues = append(issues, "block exceeds 350 characters")
	}

	lower := strings.ToLower(block)
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") || strings.Contains(lower, "www.") {
		issues = append(issues, "contains a URL")
	}

	for _, brand := range []string{"amazon", "google", "microsoft", "apple", "facebook"} {
		if strings.Contains(lower, brand) {
			issues = append(issues, "contains commercial brand: "+brand)
		}
	}
	for _, term := range []string{"supplement", "vitamin", "pharma", "drug", "medicine"} {
		if strings.Contains(lower, term) {
			issues = append(issues, "contains industry term: "+term)
		}
	}

	return len(issues) == 0, issues
}

var leakageSkipPhrases = map[string]bool{
	"do not": true, "not cite": true, "ambient context": true,
	"localization only": true, "local date": true,
}

// DetectLeakage reports ALS phrases (2-3 word n-grams) that reappear
// verbatim in the model's response — a sign the model echoed ambient
// context it was only meant to use for localization, not to cite.
func DetectLeakage(block, response string) []string {
	words := strings.Fields(strings.ToLower(strings.NewReplacer("\n", " ", "-", " ").Replace(block)))

	ngrams := make(map[string]bool)
	for i := 0; i < len(words)-1; i++ {
		ngrams[strings.Join(words[i:i+2], " ")] = true
		if i < len(words)-2 {
			ngrams[strings.Join(words[i:i+3], " ")] = true
		}
	}

	responseLower := strings.ToLower(response)
	var leaked []string
	for phrase := range ngrams {
		if leakageSkipPhrases[phrase] || len(phrase) < 6 {
			continue
		}
		if strings.Contains(responseLower, phrase) {
			leaked = append(leaked, phrase)
		}
	}
	return leaked
}
