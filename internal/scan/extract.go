package scan

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>\` + "`" + `)\]}]+`)

// trailingPunct is stripped from extracted candidates: sentence punctuation
// that commonly trails a URL or path embedded in prose or code.
const trailingPunct = `.,;:!?'"` + "`"

// commandLine reports whether a line in a non-shell file carries a shell
// command: Dockerfile RUN instructions and Makefile recipe lines.
func commandLine(base, line string) bool {
	switch base {
	case "Dockerfile":
		return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "RUN ")
	case "Makefile":
		return strings.HasPrefix(line, "\t")
	default:
		return false
	}
}

// stripCommandPrefix removes the Dockerfile RUN keyword from a command line.
func stripCommandPrefix(line string) string {
	if len(line) > 4 && strings.EqualFold(line[:4], "RUN ") {
		return strings.TrimSpace(line[4:])
	}
	return line
}

// endpointCandidates extracts http(s) URLs from a line.
func endpointCandidates(line string) []string {
	matches := urlPattern.FindAllString(line, -1)
	out := matches[:0]
	for _, m := range matches {
		m = strings.TrimRight(m, trailingPunct)
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

func pathDelim(r rune) bool {
	switch r {
	case ' ', '\t', '"', '\'', '`', '=', ',', ';', '(', ')', '[', ']', '{', '}', '<', '>':
		return true
	}
	return false
}

// pathCandidates extracts file-path-shaped tokens: absolute paths, home
// paths, and anything with a parent-directory escape.
func pathCandidates(line string) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(line, pathDelim) {
		if strings.Contains(tok, "://") {
			continue // URL, handled by the endpoint extractor
		}
		tok = strings.TrimRight(tok, trailingPunct)
		if !pathShaped(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func pathShaped(tok string) bool {
	if len(tok) < 2 || strings.Trim(tok, "/\\") == "" {
		return false
	}
	if strings.Contains(tok, "../") || strings.Contains(tok, `..\`) {
		return true
	}
	return strings.HasPrefix(tok, "/") || strings.HasPrefix(tok, "~/") || strings.HasPrefix(tok, `~\`)
}
