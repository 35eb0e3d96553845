package command

import (
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern splits on whitespace while keeping double-quoted runs intact.
var tokenPattern = regexp.MustCompile(`(?:[^\s"]+|"[^"]*")+`)

var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// safeValuePattern limits option values interpolated into shell commands.
var safeValuePattern = regexp.MustCompile(`^[A-Za-z0-9:._,+\-]*$`)

// Options holds typed option values: string, float64 or bool.
type Options map[string]any

// tokenize splits a command string the way the CLI user typed it.
func tokenize(s string) []string {
	return tokenPattern.FindAllString(s, -1)
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// parseValue converts numeric-looking values to float64 and true/false to bool.
func parseValue(raw string) any {
	v := unquote(raw)
	if numberPattern.MatchString(v) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// parseOptions reads --key=value tokens. --output= is returned separately.
// Tokens that are not options are ignored.
func parseOptions(tokens []string) (Options, string, error) {
	opts := Options{}
	var output string
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, "--") {
			continue
		}
		body := tok[2:]
		key, raw, hasValue := strings.Cut(body, "=")
		if key == "" {
			continue
		}
		if key == "output" {
			output = unquote(raw)
			continue
		}
		if !hasValue {
			opts[key] = true
			continue
		}
		v := parseValue(raw)
		if s, ok := v.(string); ok && !safeValuePattern.MatchString(s) {
			return nil, "", &ResolutionError{
				Code:    CodeInvalidOption,
				Message: "Option --" + key + " contains unsupported characters",
			}
		}
		opts[key] = v
	}
	return opts, output, nil
}

// String returns the option as a string, or def when unset or empty.
func (o Options) String(key, def string) string {
	switch v := o[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return def
}

// Number returns the option as a number, or def when unset or not numeric.
func (o Options) Number(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the option as a bool, or def when unset.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
