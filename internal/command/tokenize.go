package command

import (
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// tokenized is the decomposition of one shell-like string: the flat list of
// simple commands split on chaining operators, and the inner text of every
// subshell/command-substitution span. Substitution spans are elevation
// vectors and are themselves recursively decomposed by the walker.
type tokenized struct {
	segments      []string
	substitutions []string
}

// maxSegments caps decomposition output so a pathological command chain
// cannot force unbounded rule evaluation.
const maxSegments = 128

// fallbackSplit approximates operator splitting when the shell parser
// rejects the input. Rejection is common on adversarial half-shell strings;
// the rules still run on the coarse pieces.
var fallbackSplit = regexp.MustCompile(`[;&|]+`)

// backtickSpan extracts legacy command substitutions in unparseable input.
var backtickSpan = regexp.MustCompile("`([^`]*)`|\\$\\(([^)]*)\\)")

// tokenize parses a shell-like string into chained sub-commands and
// substitution spans. It never fails: input the parser cannot handle
// degrades to operator splitting.
func tokenize(cmd string) tokenized {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return fallbackTokenize(cmd)
	}

	printer := syntax.NewPrinter()
	var tk tokenized

	printNode := func(node syntax.Node) string {
		var b strings.Builder
		if err := printer.Print(&b, node); err != nil {
			return ""
		}
		return strings.TrimSpace(b.String())
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		if len(tk.segments)+len(tk.substitutions) >= maxSegments {
			return false
		}
		switch n := node.(type) {
		case *syntax.CallExpr:
			if s := printNode(n); s != "" {
				tk.segments = append(tk.segments, s)
			}
		case *syntax.CmdSubst:
			// $( ... ) and backticks both parse to CmdSubst. Walk
			// continues into the children, so the inner commands also
			// land in segments.
			var parts []string
			for _, stmt := range n.Stmts {
				if s := printNode(stmt); s != "" {
					parts = append(parts, s)
				}
			}
			if span := strings.Join(parts, "; "); span != "" {
				tk.substitutions = append(tk.substitutions, span)
			}
		case *syntax.Subshell:
			var parts []string
			for _, stmt := range n.Stmts {
				if s := printNode(stmt); s != "" {
					parts = append(parts, s)
				}
			}
			if span := strings.Join(parts, "; "); span != "" {
				tk.substitutions = append(tk.substitutions, span)
			}
		}
		return true
	})

	if len(tk.segments) == 0 && len(tk.substitutions) == 0 {
		return fallbackTokenize(cmd)
	}
	return tk
}

func fallbackTokenize(cmd string) tokenized {
	var tk tokenized
	for _, m := range backtickSpan.FindAllStringSubmatch(cmd, maxSegments) {
		span := m[1]
		if span == "" {
			span = m[2]
		}
		if span = strings.TrimSpace(span); span != "" {
			tk.substitutions = append(tk.substitutions, span)
		}
	}
	for _, seg := range fallbackSplit.Split(cmd, maxSegments) {
		if seg = strings.TrimSpace(seg); seg != "" {
			tk.segments = append(tk.segments, seg)
		}
	}
	return tk
}
