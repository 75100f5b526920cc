// Package normalize provides the shared Unicode normalization and payload
// decoding used by every detector. All matching paths (command, file path,
// prompt, endpoint, MCP descriptor) run input through these pipelines to
// strip evasion techniques before pattern matching.
//
// This package is the single source of truth for normalization. Changes here
// propagate to all detectors automatically.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// InvisibleRanges defines Unicode ranges stripped from all matching paths.
// Consolidates zero-width characters, bidi controls, the Tags block, and
// variation selectors into a single source of truth.
var InvisibleRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space through RTL mark
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embedding controls
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner through invisible plus
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolate controls
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors 1-16
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM / ZWNBSP
		{Lo: 0xFFF9, Hi: 0xFFFB, Stride: 1}, // interlinear annotation anchors
	},
	R32: []unicode.Range32{
		{Lo: 0xE0000, Hi: 0xE007F, Stride: 1}, // Tags block
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// confusableMap maps Unicode characters from non-Latin scripts that are
// visually identical to Latin letters. NFKC normalization does NOT handle
// cross-script confusables: Cyrillic а (U+0430) stays as а, not Latin a.
// Attackers exploit this both in injection phrases ("ignоre") and in
// homograph hostnames ("gооgle.com").
//
// Covers Cyrillic, Greek, Armenian, Cherokee, and Latin Extended lookalikes.
// Not exhaustive, focused on characters that appear in English-language
// injection phrases and high-value domain names.
var confusableMap = map[rune]rune{
	// Cyrillic uppercase → Latin
	'А': 'A', // А
	'В': 'B', // В
	'С': 'C', // С
	'Е': 'E', // Е
	'Н': 'H', // Н
	'І': 'I', // І (Ukrainian)
	'Ј': 'J', // Ј (Serbian)
	'К': 'K', // К
	'М': 'M', // М
	'О': 'O', // О
	'Р': 'P', // Р
	'Ѕ': 'S', // Ѕ (Macedonian)
	'Т': 'T', // Т
	'Х': 'X', // Х

	// Cyrillic lowercase → Latin
	'а': 'a', // а
	'в': 'v', // в
	'е': 'e', // е
	'н': 'h', // н
	'і': 'i', // і (Ukrainian)
	'к': 'k', // к
	'м': 'm', // м
	'о': 'o', // о
	'р': 'p', // р
	'с': 'c', // с
	'т': 't', // т
	'у': 'y', // у
	'х': 'x', // х
	'ј': 'j', // ј (Serbian)
	'ѕ': 's', // ѕ (Macedonian)

	// Greek uppercase → Latin
	'Α': 'A', // Α
	'Β': 'B', // Β
	'Ε': 'E', // Ε
	'Ζ': 'Z', // Ζ
	'Η': 'H', // Η
	'Ι': 'I', // Ι
	'Κ': 'K', // Κ
	'Μ': 'M', // Μ
	'Ν': 'N', // Ν
	'Ο': 'O', // Ο
	'Ρ': 'P', // Ρ
	'Τ': 'T', // Τ
	'Υ': 'Y', // Υ
	'Χ': 'X', // Χ

	// Greek lowercase → Latin
	'α': 'a', // α
	'ε': 'e', // ε
	'ι': 'i', // ι
	'κ': 'k', // κ
	'ν': 'v', // ν (nu)
	'ο': 'o', // ο

	// Armenian → Latin
	'Օ': 'O', // Օ
	'օ': 'o', // օ
	'Ս': 'S', // Ս
	'ս': 's', // ս
	'հ': 'h', // հ
	'ո': 'n', // ո
	'ա': 'a', // ա

	// Latin Extended / IPA small caps that survive NFKC
	'ᴀ': 'A', // ᴀ
	'ᴄ': 'C', // ᴄ
	'ᴇ': 'E', // ᴇ
	'ᴏ': 'O', // ᴏ
	'ɪ': 'I', // ɪ
	'ʙ': 'B', // ʙ
}

// ReplaceInvisibleWithSpace replaces invisible/control characters with spaces
// instead of dropping them. Preserves word boundaries at invisible character
// positions: "ignore​all" becomes "ignore all" (detectable) instead of
// "ignoreall" (bypass).
func ReplaceInvisibleWithSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F && r != '\t' && r != '\n' && r != '\r' {
			return ' '
		}
		if r == 0x7F {
			return ' '
		}
		if r >= 0x80 && r <= 0x9F {
			return ' '
		}
		if unicode.Is(InvisibleRanges, r) {
			return ' '
		}
		return r
	}, s)
}

// StripInvisible removes ALL C0/C1 control characters, DEL, and Unicode
// zero-width/invisible characters, including whitespace controls. Used on
// hostnames and paths where ANY control character is evasion, not content.
func StripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F) {
			return -1
		}
		if unicode.Is(InvisibleRanges, r) {
			return -1
		}
		return r
	}, s)
}

// ConfusableToASCII maps visually identical non-Latin characters to their
// Latin equivalents. Applied after NFKC normalization to catch cross-script
// homoglyph attacks that NFKC does not handle.
func ConfusableToASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if mapped, ok := confusableMap[r]; ok {
			return mapped
		}
		return r
	}, s)
}

// StripCombiningMarks removes Unicode combining marks (category Mn) that
// survive NFKC normalization. NFD decomposition reverses NFKC composition
// (ñ → n + ̃) so the mark can be stripped. Must run after NFKC so
// composable sequences are composed first, not blindly stripped.
func StripCombiningMarks(s string) string {
	s = norm.NFD.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, s)
}

// collapseWhitespace folds Unicode whitespace that RE2's \s does not match
// into ASCII space and collapses runs of whitespace into a single space.
// Attackers break up keywords with repeated or exotic spaces.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		// U+180E (Mongolian vowel separator) lost its White_Space property
		// in Unicode 6.3 but still renders as a space in most fonts.
		if unicode.IsSpace(r) || r == '\u180E' {
			if !inRun {
				b.WriteRune(' ')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}

// Fold applies the standard matching pipeline for free-text inputs
// (commands, prompts, tool descriptors): invisible characters become spaces
// to preserve word boundaries, NFKC compatibility decomposition, confusable
// mapping, combining-mark removal, case folding, and whitespace collapsing.
// The result is what rule corpora match against; the original input is what
// evidence spans are reported from.
func Fold(s string) string {
	s = ReplaceInvisibleWithSpace(s)
	s = norm.NFKC.String(s)
	s = ConfusableToASCII(s)
	s = StripCombiningMarks(s)
	s = strings.ToLower(s)
	s = collapseWhitespace(s)
	return strings.TrimSpace(s)
}

// FoldTight is Fold with invisible characters dropped instead of spaced.
// The two variants trap complementary evasions: an invisible character
// inserted INSIDE a keyword ("ig​nore") only matches after dropping,
// one replacing a space ("ignore​all") only after spacing. Detectors
// match rule corpora against both.
func FoldTight(s string) string {
	s = StripInvisible(s)
	s = norm.NFKC.String(s)
	s = ConfusableToASCII(s)
	s = StripCombiningMarks(s)
	s = strings.ToLower(s)
	s = collapseWhitespace(s)
	return strings.TrimSpace(s)
}

// Skeleton reduces a hostname or label to its canonical ASCII confusable
// skeleton: strip invisibles, NFKC, confusable mapping, combining-mark
// removal, lowercase. Two names with equal skeletons are visually
// interchangeable for homograph purposes.
func Skeleton(s string) string {
	s = StripInvisible(s)
	s = norm.NFKC.String(s)
	s = ConfusableToASCII(s)
	s = StripCombiningMarks(s)
	return strings.ToLower(s)
}
