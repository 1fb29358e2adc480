// Package citation implements the vendor-agnostic citation extractor:
// resolving, normalizing, deduplicating, and capping the grounding sources
// a vendor returns into the gateway's unified Citation shape.
package citation

import (
	"net/url"
	"strings"
)

// Citation is one extracted grounding source.
type Citation struct {
	URL      string
	Title    string
	Domain   string
	Anchored bool
	RawURI   string // original (pre-decode) URL, kept for provenance when a redirector was decoded
}

const maxCitations = 10
const maxPerDomain = 4

var redirectQueryParams = []string{"url", "u", "target", "q"}

// IsRedirector reports whether rawURL is a known grounding redirector that
// needs decoding before it points at the real source.
func IsRedirector(rawURL string) bool {
	return strings.Contains(rawURL, "vertexaisearch.cloud.google.com/grounding-api-redirect")
}

// ResolveRedirect decodes a known redirector URL into its real target.
// It tries known query parameters first, then falls back to the last path
// segment, applying up to 3 rounds of percent/plus decoding. If nothing
// decodes to a valid absolute URL, rawURL is returned unchanged.
func ResolveRedirect(rawURL string) string {
	if !IsRedirector(rawURL) {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	for _, key := range redirectQueryParams {
		if v := q.Get(key); v != "" {
			if decoded, ok := decodeCandidate(v); ok {
				return decoded
			}
		}
	}

	segments := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		if decoded, ok := decodeCandidate(last); ok {
			return decoded
		}
	}

	return rawURL
}

// decodeCandidate applies up to 3 rounds of percent/plus decoding and
// reports whether the result is a valid absolute URL.
func decodeCandidate(s string) (string, bool) {
	candidate := s
	for i := 0; i < 3; i++ {
		unescaped, err := url.QueryUnescape(strings.ReplaceAll(candidate, "+", "%20"))
		if err != nil {
			break
		}
		if unescaped == candidate {
			break
		}
		candidate = unescaped
		if isAbsoluteURL(candidate) {
			return candidate, true
		}
	}
	return candidate, isAbsoluteURL(candidate)
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}

// Normalize lowercases the host, drops the fragment, and strips utm_*
// query parameters while preserving path and remaining query.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// knownSecondLevelSuffixes covers the common public suffixes where the
// registrable domain needs three labels instead of two.
var knownSecondLevelSuffixes = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
	"co.jp": true, "ac.jp": true, "ne.jp": true,
	"com.au": true, "com.cn": true, "com.br": true,
}

// RegistrableDomain computes a simple registrable domain: strip "www.",
// and for known second-level public suffixes keep the last three labels
// instead of two.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if len(labels) >= 3 && knownSecondLevelSuffixes[lastTwo] {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// Source is one raw grounding source collected from vendor tool output or
// message annotations, before resolution/normalization.
type Source struct {
	URL      string
	Title    string
	Anchored bool
}

// Extract runs the full pipeline over a batch of raw sources: redirect
// resolution, normalization, registrable-domain computation, dedup by
// normalized URL, a per-domain cap, and finally the overall 10-citation cap.
// It returns (anchored, unlinked, rawCount) where
// rawCount is the pre-cap count for telemetry.
func Extract(sources []Source) (anchored, unlinked []Citation, rawCount int) {
	rawCount = len(sources)

	seen := make(map[string]bool)
	perDomain := make(map[string]int)
	var out []Citation

	for _, s := range sources {
		resolved := ResolveRedirect(s.URL)
		normalized := Normalize(resolved)
		if seen[normalized] {
			continue
		}

		u, err := url.Parse(normalized)
		if err != nil || u.Host == "" {
			continue
		}
		domain := RegistrableDomain(u.Host)
		if perDomain[domain] >= maxPerDomain {
			continue
		}

		seen[normalized] = true
		perDomain[domain]++
		out = append(out, Citation{
			URL: normalized, Title: s.Title, Domain: domain,
			Anchored: s.Anchored, RawURI: s.URL,
		})
	}

	if len(out) > maxCitations {
		out = out[:maxCitations]
	}

	for _, c := range out {
		if c.Anchored {
			anchored = append(anchored, c)
		} else {
			unlinked = append(unlinked, c)
		}
	}
	return anchored, unlinked, rawCount
}
