package auf1

import (
	"encoding/json"
	"regexp"
	"strings"
)

// payload.js ships the page state as a self-invoking function whose
// body references the call arguments by name. Recovering the metadata
// means splitting the argument list, mapping it onto the parameter
// names and rewriting the object literal into strict json.
var (
	payloadHrefPattern = regexp.MustCompile(`href="([^"]+/_?payload\.js)"`)
	payloadPattern     = regexp.MustCompile(
		`(?s)\(function\s*\(([^)]*)\)\s*\{\s*return\s*(\{.+\})\s*\}\s*\((.*)\)\)`)

	jsTokenPattern = regexp.MustCompile(
		`"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?|[a-zA-Z_$][a-zA-Z_$0-9]*|!+`)
	trailingCommaPattern = regexp.MustCompile(`("(?:\\.|[^"\\])*")|,(\s*[\]}])`)
)

// jsTokens splits an argument list the way a posix shell would, with
// commas and stray wrapper parens treated as whitespace. Every token
// that does not survive a json round trip gets quoted.
func jsTokens(values string) []string {
	const separators = ", \t\r\n()"
	var tokens []string
	var current strings.Builder
	started := false
	quote := rune(0)
	escaped := false

	flush := func() {
		if !started {
			return
		}
		token := current.String()
		if !json.Valid([]byte(token)) {
			quoted, _ := json.Marshal(token)
			token = string(quoted)
		}
		tokens = append(tokens, token)
		current.Reset()
		started = false
	}

	for _, r := range values {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '\\':
				escaped = true
			case '"':
				quote = 0
			default:
				current.WriteRune(r)
			}
		case r == '\\':
			escaped = true
		case r == '"' || r == '\'':
			quote = r
			started = true
		case strings.ContainsRune(separators, r):
			flush()
		default:
			current.WriteRune(r)
			started = true
		}
	}
	flush()
	return tokens
}

// jsToJSON rewrites a js object literal into json: keys get quoted,
// parameter references are substituted from vars, the !0 shorthand
// loses its bang and trailing commas disappear.
func jsToJSON(code string, vars map[string]string) string {
	out := jsTokenPattern.ReplaceAllStringFunc(code, func(token string) string {
		switch token {
		case "true", "false", "null":
			return token
		case "undefined":
			return "null"
		}
		switch token[0] {
		case '!':
			return ""
		case '"':
			return token
		case '\'':
			body := token[1 : len(token)-1]
			body = strings.ReplaceAll(body, `\'`, "'")
			body = strings.ReplaceAll(body, `"`, `\"`)
			return `"` + body + `"`
		}
		if value, ok := vars[token]; ok {
			return value
		}
		if c := token[0]; c == '-' || (c >= '0' && c <= '9') {
			return token
		}
		return `"` + token + `"`
	})
	return trailingCommaPattern.ReplaceAllString(out, "$1$2")
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 {
			return -1
		}
		return r
	}, s)
}
