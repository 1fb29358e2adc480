package citation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRedirect_DecodesKnownQueryParam(t *testing.T) {
	raw := "https://vertexaisearch.cloud.google.com/grounding-api-redirect/abc?url=https%3A%2F%2Fexample.com%2Fpage"
	require.Equal(t, "https://example.com/page", ResolveRedirect(raw))
}

func TestResolveRedirect_NonRedirectorPassesThrough(t *testing.T) {
	raw := "https://example.com/page"
	require.Equal(t, raw, ResolveRedirect(raw))
}

func TestNormalize_StripsUTMAndFragmentLowercasesHost(t *testing.T) {
	raw := "https://WWW.Example.com/path?utm_source=x&keep=1#frag"
	got := Normalize(raw)
	require.Equal(t, "https://www.example.com/path?keep=1", got)
}

func TestRegistrableDomain(t *testing.T) {
	require.Equal(t, "example.com", RegistrableDomain("www.example.com"))
	require.Equal(t, "example.co.uk", RegistrableDomain("news.example.co.uk"))
	require.Equal(t, "example.com", RegistrableDomain("example.com"))
}

func TestExtract_DedupsAndCapsPerDomain(t *testing.T) {
	var sources []Source
	for i := 0; i < 6; i++ {
		sources = append(sources, Source{URL: "https://example.com/a" + string(rune('0'+i)), Anchored: true})
	}
	sources = append(sources, Source{URL: "https://example.com/a0", Anchored: true}) // duplicate

	anchored, unlinked, raw := Extract(sources)

	require.Equal(t, 7, raw)
	require.Empty(t, unlinked)
	require.LessOrEqual(t, len(anchored), 4) // per-domain cap
}

func TestExtract_OverallCapAtTen(t *testing.T) {
	var sources []Source
	domains := []string{"a.com", "b.com", "c.com"}
	for i := 0; i < 12; i++ {
		d := domains[i%len(domains)]
		sources = append(sources, Source{URL: "https://" + d + "/p" + string(rune('a'+i)), Anchored: false})
	}

	anchored, unlinked, _ := Extract(sources)
	require.Empty(t, anchored)
	require.LessOrEqual(t, len(unlinked), 10)
}
