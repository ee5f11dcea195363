package server

import (
	"regexp"
	"strings"
)

// Validation wrapper markers. Upstream answer validators serialize their
// result as a "ValidationOutcome(...)" repr with the usable text inside a
// validated_output field, quoted either way and with escaped newlines and
// quotes. The cascade below peels that wrapper off; plain answers skip it.
const (
	validationMarker  = "ValidationOutcome"
	outputFieldSingle = "validated_output='"
	outputFieldEnd    = "',\n    reask="
	// extractParseError is returned verbatim when a wrapped answer cannot
	// be parsed by any tier of the cascade.
	extractParseError = "Error parsing validated output."
)

var (
	// doubleQuotedOutput matches validated_output="..." with escape-aware
	// content so embedded \" does not end the match early.
	doubleQuotedOutput = regexp.MustCompile(`validated_output="((?:[^"\\]|\\.)*)"`)
	// singleQuotedOutput matches validated_output='...' terminated by a
	// comma or space. The content class excludes single quotes, so answers
	// containing them fall through to the manual scan.
	singleQuotedOutput = regexp.MustCompile(`validated_output='([^']*)'[, ]`)
	// trailingNewlines strips any run of newlines at the end of the answer.
	trailingNewlines = regexp.MustCompile(`\n+$`)
)

// extractAnswer recovers the user-facing answer text from a raw workflow
// response. Wrapped responses go through a three-tier parse (double-quoted
// field, single-quoted field, manual scan between the field opener and the
// reask key); plain responses are cleaned of stray single quotes. Both paths
// end with trailing-newline removal and a final trim.
func extractAnswer(raw string) string {
	var answer string

	if strings.Contains(raw, validationMarker) {
		if m := doubleQuotedOutput.FindStringSubmatch(raw); m != nil {
			answer = strings.TrimSpace(unescape(m[1], false))
		} else if m := singleQuotedOutput.FindStringSubmatch(raw); m != nil {
			answer = strings.TrimSpace(unescape(m[1], true))
		} else {
			start := strings.Index(raw, outputFieldSingle) + len(outputFieldSingle)
			end := strings.Index(raw[start:], outputFieldEnd)
			if end != -1 {
				answer = strings.TrimSpace(unescape(raw[start:start+end], true))
			} else {
				answer = extractParseError
			}
		}
	} else {
		answer = strings.TrimSpace(strings.ReplaceAll(raw, "'", ""))
	}

	return strings.TrimSpace(trailingNewlines.ReplaceAllString(answer, ""))
}

// unescape reverses the repr escaping inside a validated_output field:
// \n and \" always, \' only for single-quoted fields.
func unescape(s string, singleQuoted bool) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)
	if singleQuoted {
		s = strings.ReplaceAll(s, `\'`, "'")
	}
	return s
}
