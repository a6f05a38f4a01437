package evaluator

import (
	"strconv"
	"strings"
)

// methodRenames maps the spec's lowerCamel method-call surface (§4.1) to
// the exported Go method names that Wrap()'d values and the accessor
// namespaces (DateAccessor, UUIDAccessor) actually expose. expr-lang
// dispatches `.Method()` via reflection, so renaming the token in the
// source text ahead of compilation is all that's needed — no custom
// parser extension required.
var methodRenames = map[string]string{
	"contains":     "Contains",
	"toUpperCase":  "ToUpperCase",
	"toLowerCase":  "ToLowerCase",
	"length":       "Length",
	"size":         "Size",
	"isEmpty":      "IsEmpty",
	"now":          "Now",
	"plusHours":    "PlusHours",
	"plusDays":     "PlusDays",
	"isBefore":     "IsBefore",
	"isAfter":      "IsAfter",
	"generate":     "Generate",
}

// rewriteSigilsAndMethods strips the '#' variable sigil and renames known
// lowerCamel method calls to their exported Go equivalents, leaving
// string literals untouched. This is the first of three textual passes
// Preprocess applies before source reaches expr.Compile; see the doc
// comment on Preprocess for the full pipeline.
func rewriteSigilsAndMethods(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	n := len(src)
	var quote byte
	for i := 0; i < n; i++ {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < n {
				i++
				b.WriteByte(src[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '#':
			// drop the sigil; the identifier that follows is copied on
			// subsequent loop iterations exactly as written.
		case c == '.' && i+1 < n:
			// look ahead for a renameable method token following the dot
			j := i + 1
			start := j
			for j < n && isIdentByte(src[j]) {
				j++
			}
			token := src[start:j]
			if renamed, ok := methodRenames[token]; ok {
				b.WriteByte('.')
				b.WriteString(renamed)
				i = j - 1
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// convertSetLiterals turns SpEL-shaped set literals like {'A','B','C'}
// into expr-lang array literals ['A','B','C']. A brace span counts as a
// set (rather than a map) when it contains no top-level colon. Nested
// braces/brackets/parens are skipped over rather than recursed into —
// nested set literals are not supported, matching the spec's examples
// which are always flat.
func convertSetLiterals(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	n := len(src)
	var quote byte
	for i := 0; i < n; i++ {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < n {
				i++
				b.WriteByte(src[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			b.WriteByte(c)
			continue
		}
		if c != '{' {
			b.WriteByte(c)
			continue
		}
		end, hasColon := findMatchingBrace(src, i)
		if end < 0 || hasColon {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('[')
		b.WriteString(src[i+1 : end])
		b.WriteByte(']')
		i = end
	}
	return b.String()
}

// findMatchingBrace returns the index of the '}' matching the '{' at
// open, and whether a top-level ':' occurs within the span (signaling a
// map literal rather than a set literal). Returns -1 if unmatched.
func findMatchingBrace(src string, open int) (int, bool) {
	depth := 0
	hasColon := false
	var quote byte
	for i := open; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(src) {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, hasColon
			}
		case ':':
			if depth == 1 {
				hasColon = true
			}
		}
	}
	return -1, hasColon
}

// convertProjections rewrites the three SpEL-shaped collection operators
// (`.![body]` projection, `.?[body]` filter, `.^[body]` first-match) into
// method calls against the `__apex` helper bound in every evaluation
// environment (see helper.go's evalHelper). Routing through a bound
// value rather than a free function means the helper closes over the
// *current* call's environment, so concurrent Evaluate calls sharing one
// cached *vm.Program never see each other's variables. The receiver must
// be a simple dotted/indexed path immediately preceding the operator
// (e.g. `orders`, `customer.orders`, `rows['key']`) — arbitrary
// parenthesized receivers are not supported; route those through a
// calculation enrichment first.
func convertProjections(src string) string {
	type op struct {
		marker string
		fn     string
	}
	ops := []op{{".![", "__apex.Project"}, {".?[", "__apex.Filter"}, {".^[", "__apex.FirstMatch"}}

	out := src
	for {
		bestIdx := -1
		var bestOp op
		for _, o := range ops {
			if idx := indexOutsideQuotes(out, o.marker); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
				bestIdx = idx
				bestOp = o
			}
		}
		if bestIdx < 0 {
			return out
		}
		bracketOpen := bestIdx + len(bestOp.marker) - 1 // index of '['
		bracketClose := matchingBracket(out, bracketOpen)
		if bracketClose < 0 {
			return out // malformed; leave as-is, compiler will report the syntax error
		}
		body := out[bracketOpen+1 : bracketClose]
		receiverStart := receiverStart(out, bestIdx)
		receiver := out[receiverStart:bestIdx]
		call := bestOp.fn + "(" + receiver + ", " + strconv.Quote(body) + ")"
		out = out[:receiverStart] + call + out[bracketClose+1:]
	}
}

// indexOutsideQuotes finds the first occurrence of marker not inside a
// quoted string literal.
func indexOutsideQuotes(src, marker string) int {
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if strings.HasPrefix(src[i:], marker) {
			return i
		}
	}
	return -1
}

// matchingBracket returns the index of the ']' matching the '[' at open.
func matchingBracket(src string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// receiverStart walks backward from dotIdx over identifier/index/dot
// characters to find where the receiver expression begins.
func receiverStart(src string, dotIdx int) int {
	i := dotIdx
	for i > 0 {
		c := src[i-1]
		if isIdentByte(c) || c == '.' || c == '[' || c == ']' || c == '\'' || c == '"' {
			i--
			continue
		}
		break
	}
	return i
}

// Preprocess runs the full textual rewrite pipeline: sigil/method
// rewriting, then set-literal conversion, then projection/filter/
// first-match extraction. The result is valid expr-lang source.
func Preprocess(src string) string {
	src = rewriteSigilsAndMethods(src)
	src = convertSetLiterals(src)
	src = convertProjections(src)
	return src
}
