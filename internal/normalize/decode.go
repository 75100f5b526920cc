package normalize

import (
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxDecodeDepth bounds recursive payload unwrapping. Attackers hide
// destructive commands inside nested encodings; each layer is independently
// re-scanned by the calling detector.
const DefaultMaxDecodeDepth = 3

// maxLayers caps the total number of decoded layers returned across all
// depths, so a string packed with many decodable tokens cannot force
// unbounded re-scanning work.
const maxLayers = 24

// maxTokensPerLayer caps how many whitespace-separated tokens of a layer are
// probed for embedded encodings.
const maxTokensPerLayer = 32

// minEncodedLen is the shortest string worth attempting to decode. Shorter
// strings decode to noise and flood the layer list with false layers.
const minEncodedLen = 8

// UnwrapEncodings attempts, at each depth, to decode the input as base64,
// hex, or percent-encoding, recursively unwrapping successful decodes up to
// maxDepth. It returns the original string plus every successfully decoded
// layer. A layer that does not decode to plausible printable text terminates
// that branch, preventing unbounded expansion.
//
// Whole-string decoding alone misses payloads embedded in a carrier command
// ("echo cm0gLXJmIC8= | base64 -d"), so individual tokens are probed too.
func UnwrapEncodings(s string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDecodeDepth
	}

	layers := []string{s}
	seen := map[string]struct{}{s: {}}
	frontier := []string{s}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, dec := range decodeOnce(cur) {
				if _, dup := seen[dec]; dup {
					continue
				}
				seen[dec] = struct{}{}
				layers = append(layers, dec)
				next = append(next, dec)
				if len(layers) >= maxLayers {
					return layers
				}
			}
		}
		frontier = next
	}
	return layers
}

// decodeOnce produces every plausible single-step decode of s: the whole
// string as base64/hex/percent, plus each embedded token.
func decodeOnce(s string) []string {
	var out []string
	add := func(dec string) {
		if dec != "" && dec != s && plausibleText(dec) {
			out = append(out, dec)
		}
	}

	for _, dec := range decodeCandidates(s) {
		add(dec)
	}

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == '`'
	})
	if len(tokens) > maxTokensPerLayer {
		tokens = tokens[:maxTokensPerLayer]
	}
	if len(tokens) > 1 {
		for _, tok := range tokens {
			for _, dec := range decodeCandidates(tok) {
				add(dec)
			}
		}
	}
	return out
}

// decodeCandidates tries each supported encoding against exactly s.
func decodeCandidates(s string) []string {
	s = strings.TrimSpace(s)
	if len(s) < minEncodedLen {
		return nil
	}

	var out []string

	if dec, ok := decodeBase64(s); ok {
		out = append(out, dec)
	}
	if dec, ok := decodeHex(s); ok {
		out = append(out, dec)
	}
	if strings.Contains(s, "%") {
		if dec, err := url.QueryUnescape(s); err == nil && dec != s {
			out = append(out, dec)
		}
	}
	return out
}

// base64Charset matches the standard and URL-safe alphabets plus padding.
func isBase64Char(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
		(r >= '0' && r <= '9') || r == '+' || r == '/' || r == '-' || r == '_' || r == '='
}

func decodeBase64(s string) (string, bool) {
	for _, r := range s {
		if !isBase64Char(r) {
			return "", false
		}
	}
	// Require at least one letter: pure digit strings are more likely
	// literals (PIDs, ports) than encoded payloads.
	if !strings.ContainsFunc(s, unicode.IsLetter) {
		return "", false
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding,
		base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		raw, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		return string(raw), true
	}
	return "", false
}

func decodeHex(s string) (string, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) < minEncodedLen || len(s)%2 != 0 {
		return "", false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// plausibleText reports whether decoded bytes look like text worth
// re-scanning. Binary output terminates the decode branch.
func plausibleText(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return total > 0 && float64(printable)/float64(total) >= 0.9
}

// maxPercentRounds is a safety ceiling for iterative percent-decoding.
// The loop exits as soon as decoding produces no change, so the ceiling
// only matters for pathological inputs.
const maxPercentRounds = 20

// DecodePercent applies percent-decoding until the string stops changing or
// the safety ceiling is reached. Catches multi-layer encoding
// (%252e%252e → %2e%2e → ..). Undecodable input is returned as-is.
func DecodePercent(s string) string {
	for range maxPercentRounds {
		dec, err := url.QueryUnescape(s)
		if err != nil || dec == s {
			break
		}
		s = dec
	}
	return s
}
