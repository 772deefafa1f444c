// Package strace reassembles strace output in which a call record was
// split into an "<unfinished ...>" line and a later
// "<... NAME resumed>" line.
package strace

import (
	"fmt"
	"regexp"
	"strings"
)

// Markers recognised in strace output.
const (
	UnfinishedMarker = "<unfinished ...>"
	ResumedOpen      = "<... "
	ResumedClose     = " resumed>"
	SpawnToken       = "clone"
)

var pidTagPattern = regexp.MustCompile(`^\[pid\s+(\d+)\]\s+`)

// Kind classifies a single trace line.
type Kind uint8

const (
	KindPlain     Kind = 0
	KindSpawn     Kind = 1
	KindInitiated Kind = 2
	KindResumed   Kind = 3
)

// String returns the human-readable name of the line kind.
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindSpawn:
		return "spawn"
	case KindInitiated:
		return "initiated"
	case KindResumed:
		return "resumed"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Tag is the optional process tag carried by lines traced with -f.
// The zero value is the absent tag.
type Tag struct {
	PID     string
	Present bool
}

// PIDTag returns a present tag for the given pid.
func PIDTag(pid string) Tag {
	return Tag{PID: pid, Present: true}
}

// String renders the tag as strace prints it, or "" when absent.
func (t Tag) String() string {
	if !t.Present {
		return ""
	}

	return "[pid " + t.PID + "]"
}

// Line is a classified trace line.
type Line struct {
	Raw  string
	Kind Kind
	Tag  Tag
	// Call is the syscall name for initiated and resumed lines.
	Call string
	// Text is the kept prefix of an initiated line or the kept
	// suffix of a resumed line. Empty for other kinds.
	Text string
	// Malformed is set when a marker was present but the line did
	// not have the expected layout; such lines are classified plain.
	Malformed bool
}

// Classify inspects a raw trace line. It never fails: lines carrying
// a marker in an unexpected layout come back as KindPlain with
// Malformed set.
func Classify(raw string) Line {
	tag, rest := splitTag(raw)
	line := Line{Raw: raw, Tag: tag}

	if strings.Contains(raw, SpawnToken) {
		line.Kind = KindSpawn

		return line
	}

	if idx := strings.Index(rest, UnfinishedMarker); idx >= 0 {
		call, ok := callBeforeParen(rest[:idx])
		if !ok {
			line.Malformed = true

			return line
		}

		line.Kind = KindInitiated
		line.Call = call
		line.Text = raw[:len(raw)-len(rest)+idx]

		return line
	}

	if strings.Contains(rest, ResumedClose) {
		call, suffix, ok := parseResumed(rest)
		if !ok {
			line.Malformed = true

			return line
		}

		line.Kind = KindResumed
		line.Call = call
		line.Text = suffix

		return line
	}

	return line
}

// splitTag strips a leading "[pid N] " and returns the tag with the
// remaining text.
func splitTag(raw string) (Tag, string) {
	m := pidTagPattern.FindStringSubmatchIndex(raw)
	if m == nil {
		return Tag{}, raw
	}

	return PIDTag(raw[m[2]:m[3]]), raw[m[1]:]
}

// callBeforeParen returns the token immediately preceding the first '('.
func callBeforeParen(head string) (string, bool) {
	paren := strings.IndexByte(head, '(')
	if paren <= 0 {
		return "", false
	}

	fields := strings.Fields(head[:paren])
	if len(fields) == 0 {
		return "", false
	}

	return fields[len(fields)-1], true
}

// parseResumed extracts NAME and the text following "<... NAME resumed>".
func parseResumed(rest string) (string, string, bool) {
	open := strings.Index(rest, ResumedOpen)
	if open < 0 {
		return "", "", false
	}

	after := rest[open+len(ResumedOpen):]

	end := strings.Index(after, ResumedClose)
	if end <= 0 {
		return "", "", false
	}

	call := after[:end]
	if strings.ContainsAny(call, " \t") {
		return "", "", false
	}

	return call, after[end+len(ResumedClose):], true
}
