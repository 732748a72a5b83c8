package cmcd

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Keys maps a CMCD key to its typed value. Values are always one of bool,
// int64, float64 or string.
type Keys map[string]any

var (
	integerPattern = regexp.MustCompile(`^-?\d+$`)
	floatPattern   = regexp.MustCompile(`^-?\d*\.\d+$`)
)

func isKeyChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// Parse tokenizes a CMCD string into Keys. It never fails: tokens that are
// not "key" or "key=value" contribute nothing, and a repeated key keeps its
// last value.
func Parse(input string) Keys {
	keys := make(Keys)
	for pos := 0; pos < len(input); {
		end := tokenEnd(input, pos)
		if key, value, ok := parseToken(strings.TrimSpace(input[pos:end])); ok {
			keys[key] = value
		}
		pos = end + 1
	}
	return keys
}

// tokenEnd returns the index of the comma terminating the token that starts
// at pos, or len(input). A quoted value may contain commas when its closing
// quote is directly followed by a comma or the end of input.
func tokenEnd(input string, pos int) int {
	comma := strings.IndexByte(input[pos:], ',')
	if comma < 0 {
		return len(input)
	}
	comma += pos

	eq := strings.IndexByte(input[pos:comma], '=')
	if eq < 0 {
		return comma
	}
	open := pos + eq + 1
	if input[open] != '"' {
		return comma
	}
	closing := strings.IndexByte(input[open+1:], '"')
	if closing < 0 {
		return comma
	}
	after := open + closing + 2
	if after == len(input) || input[after] == ',' {
		return after
	}
	return comma
}

func parseToken(token string) (string, any, bool) {
	if token == "" {
		return "", nil, false
	}

	i := 0
	for i < len(token) && isKeyChar(token[i]) {
		i++
	}
	if i == 0 {
		return "", nil, false
	}
	key := token[:i]

	if i == len(token) {
		return key, true, true
	}
	if token[i] != '=' {
		return "", nil, false
	}
	return key, inferValue(unquote(token[i+1:])), true
}

func unquote(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	return value
}

func inferValue(value string) any {
	if integerPattern.MatchString(value) {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	if floatPattern.MatchString(value) {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

// Format renders Keys as a CMCD string with keys in lexical order. Flags set
// to true are written as bare keys and strings containing a comma are quoted,
// so that Parse(Format(k)) reproduces k for any k returned by Parse.
func Format(keys Keys) string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)

		switch v := keys[name].(type) {
		case bool:
			if !v {
				b.WriteString("=false")
			}
		case int64:
			b.WriteByte('=')
			b.WriteString(strconv.FormatInt(v, 10))
		case float64:
			b.WriteByte('=')
			b.WriteString(formatFloat(v))
		case string:
			b.WriteByte('=')
			if needsQuotes(v) {
				b.WriteString(`"` + v + `"`)
			} else {
				b.WriteString(v)
			}
		default:
			b.WriteByte('=')
			b.WriteString(`"` + toString(v) + `"`)
		}
	}
	return b.String()
}

func needsQuotes(v string) bool {
	return v == "" ||
		strings.ContainsRune(v, ',') ||
		strings.TrimSpace(v) != v ||
		unquote(v) != v
}

// formatFloat always emits a decimal point so the value parses back as a
// float rather than an integer.
func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

func toString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}

// FromJSON converts a JSON object decoded with json.Decoder.UseNumber into
// Keys, typing numbers the same way Parse does. Nested arrays and objects are
// kept as decoded; CMCD does not define them but they are passed through.
func FromJSON(obj map[string]any) Keys {
	keys := make(Keys, len(obj))
	for k, v := range obj {
		keys[k] = fromJSONValue(v)
	}
	return keys
}

func fromJSONValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	default:
		return v
	}
}

// Float reports the numeric value of v as a float64 when v is an int64 or
// float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
