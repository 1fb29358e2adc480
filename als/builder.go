// Package als implements the Ambient Location Signal builder: a
// deterministic, seed-keyed generator of a short civic-context block
// inserted ahead of the user's first message.
package als

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/agentflow/llmgateway/types"
)

const maxChars = 350

// Block is the ephemeral, re-derivable provenance record for one generated
// ALS block.
type Block struct {
	NFCText     string
	SHA256      [32]byte
	VariantID   string
	TemplateID  string
	SeedKeyID   string
	CountryCode string
	Locale      string
	NFCLength   int
}

// Builder derives ALS blocks from a fixed seed key. The seed key and its ID
// are deployment configuration, never request input, so a given
// (seedKeyID, templateID, countryCode) triple always renders the same block.
type Builder struct {
	seedKey   []byte
	seedKeyID string
}

func NewBuilder(seedKey []byte, seedKeyID string) *Builder {
	return &Builder{seedKey: seedKey, seedKeyID: seedKeyID}
}

// templateID is fixed for this builder version; bumping it invalidates any
// cached provenance that assumed the old rendering.
const templateID = "civic-v1"

// Build renders the ALS block for countryCode. It never truncates: a block
// that exceeds 350 NFC characters fails closed with ALS_BLOCK_TOO_LONG
// rather than silently losing provenance.
func (b *Builder) Build(countryCode, locale string) (*Block, *types.Error) {
	country := canonicalizeCountry(countryCode)
	tpl, ok := templates[country]
	if !ok {
		return nil, types.NewError(types.ErrInvalidRequest, "unsupported als country code: "+countryCode)
	}

	digest := b.digest(country)

	phraseIdx := int(binary.BigEndian.Uint64(digest[0:8]) % uint64(len(tpl.phrases)))
	tzIdx := int(binary.BigEndian.Uint32(digest[8:12]) % uint32(len(tpl.timezones)))

	rendered := render(tpl, phraseIdx, tzIdx)
	normalized := normalizeText(rendered)

	if len([]rune(normalized)) > maxChars {
		return nil, types.NewError(types.ErrALSBlockTooLong, "als block exceeds 350 nfc characters").
			WithProvider("als")
	}

	sum := sha256.Sum256([]byte(normalized))
	variantID := country + ":" + strconv.Itoa(phraseIdx) + ":" + strconv.Itoa(tzIdx)

	return &Block{
		NFCText:     normalized,
		SHA256:      sum,
		VariantID:   variantID,
		TemplateID:  templateID,
		SeedKeyID:   b.seedKeyID,
		CountryCode: country,
		Locale:      locale,
		NFCLength:   len([]rune(normalized)),
	}, nil
}

// digest computes HMAC(seed_key, seed_key_id || template_id || country_code).
func (b *Builder) digest(country string) []byte {
	mac := hmac.New(sha256.New, b.seedKey)
	mac.Write([]byte(b.seedKeyID))
	mac.Write([]byte(templateID))
	mac.Write([]byte(country))
	return mac.Sum(nil)
}

// render lays out the civic block using a fixed, regulatory-neutral date so
// the output never depends on wall-clock time.
func render(tpl countryTemplate, phraseIdx, tzIdx int) string {
	const fixedDate = "2026-01-15"
	tz := tpl.timezones[tzIdx]

	var sb strings.Builder
	sb.WriteString("- Local date: " + fixedDate + " (" + tz + ")\n")
	sb.WriteString("- Civic reference: " + tpl.civicKeyword + "\n")
	sb.WriteString("- Example task: " + tpl.phrases[phraseIdx] + "\n")
	sb.WriteString("- Formatting example: " + tpl.formatting + "\n")
	sb.WriteString("- " + tpl.regulatory)
	return sb.String()
}

// normalizeText applies NFC normalization, collapses CRLF to LF, and
// right-trims.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = norm.NFC.String(s)
	return strings.TrimRight(s, " \t\n")
}
