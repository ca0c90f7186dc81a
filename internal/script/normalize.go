// Package script parses and normalizes speaker scripts before synthesis.
package script

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrEmptyInput is returned for empty or whitespace-only input.
	ErrEmptyInput = errors.New("input is empty")
	// ErrMultiSpeaker is returned when a script references more than one speaker index.
	ErrMultiSpeaker = errors.New("multi-speaker script is not supported (only one speaker id is allowed)")
	// ErrInvalidScript covers malformed speaker scripts that are neither
	// empty nor multi-speaker.
	ErrInvalidScript = errors.New("invalid script")
)

var (
	speakerLinePattern = regexp.MustCompile(`(?i)^\s*speaker\s*(\d+)\s*:\s*(.*)$`)
	// Tags buried mid-line still count as speaker turns, so "Speaker 0: hi
	// Speaker 1: there" on one line is a two-speaker script.
	inlineSpeakerPattern = regexp.MustCompile(`(?i)(\S[ \t]*)(speaker\s*\d+\s*:)`)
	cjkPattern           = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)

	commaRunPattern  = regexp.MustCompile(`\s*,\s*`)
	periodRunPattern = regexp.MustCompile(`\s*\.\s*`)
	multiComma       = regexp.MustCompile(`,{2,}`)
	multiPeriod      = regexp.MustCompile(`\.{2,}`)
)

// DefaultMaxLineChars is the default per-line length budget before splitting.
const DefaultMaxLineChars = 150

// Options control normalization behavior.
type Options struct {
	// CNPunctNormalize folds CJK/full-width punctuation on CJK lines.
	CNPunctNormalize bool
	// MaxLineChars splits overlong lines; zero or negative disables splitting.
	MaxLineChars int
}

// Normalize turns raw input into a single-speaker tagged script.
//
// Input with no speaker tag on its first non-empty line is wrapped as one
// Speaker 0 turn. Untagged lines after a tagged line continue the current
// speaker. A script that references two or more distinct speaker indices
// fails with ErrMultiSpeaker.
func Normalize(raw string, opts Options) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyInput
	}

	text := strings.TrimSpace(raw)
	if !LooksLikeSpeakerScript(text) {
		text = "Speaker 0: " + text
	}
	text = inlineSpeakerPattern.ReplaceAllString(text, "$1\n$2")

	var outLines []string
	seen := make(map[int]bool)
	currentSpeaker := -1

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		var speakerID int
		var body string
		if m := speakerLinePattern.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return "", fmt.Errorf("%w: bad speaker index %q", ErrInvalidScript, m[1])
			}
			speakerID = n
			body = strings.TrimSpace(m[2])
			currentSpeaker = n
		} else {
			if currentSpeaker < 0 {
				return "", fmt.Errorf("%w: line without speaker prefix: %s", ErrInvalidScript, line)
			}
			speakerID = currentSpeaker
			body = line
		}

		seen[speakerID] = true
		if len(seen) > 1 {
			return "", ErrMultiSpeaker
		}

		if opts.CNPunctNormalize && ContainsCJK(body) {
			body = FoldCJKPunctuation(body)
		}

		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		for _, part := range splitByMaxChars(body, opts.MaxLineChars) {
			outLines = append(outLines, fmt.Sprintf("Speaker %d: %s", speakerID, part))
		}
	}

	if len(outLines) == 0 {
		return "", fmt.Errorf("%w: no speakable content found in input", ErrInvalidScript)
	}
	return strings.Join(outLines, "\n"), nil
}

// LooksLikeSpeakerScript reports whether the first non-empty line carries a
// speaker tag (spaced or unspaced, any case).
func LooksLikeSpeakerScript(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return speakerLinePattern.MatchString(line)
	}
	return false
}

// ContainsCJK reports whether text contains CJK unified ideographs.
func ContainsCJK(text string) bool {
	return cjkPattern.MatchString(text)
}

var (
	periodLike = map[rune]bool{
		'。': true, '！': true, '？': true, '；': true, '…': true, '．': true,
		'!': true, '?': true, ';': true,
	}
	commaLike = map[rune]bool{
		'，': true, '、': true, '：': true, '—': true, '－': true, '～': true,
		':': true,
	}
	// Bracket and quote glyphs are dropped outright so they never become
	// spurious pauses in the synthesized speech.
	deleteLike = map[rune]bool{
		'（': true, '）': true, '(': true, ')': true,
		'【': true, '】': true, '[': true, ']': true, '{': true, '}': true,
		'「': true, '」': true, '『': true, '』': true, '《': true, '》': true,
		'“': true, '”': true, '‘': true, '’': true,
		'"': true, '\'': true,
	}
)

// FoldCJKPunctuation rewrites CJK and sentence punctuation to plain commas
// and periods. The transform is character-level, deterministic, and
// idempotent: folding already-folded text is a no-op.
func FoldCJKPunctuation(text string) string {
	if text == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case deleteLike[r]:
			continue
		case commaLike[r]:
			b.WriteByte(',')
		case periodLike[r]:
			b.WriteByte('.')
		case r == '\r' || r == '\n':
			b.WriteByte('.')
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	out = commaRunPattern.ReplaceAllString(out, ",")
	out = periodRunPattern.ReplaceAllString(out, ".")
	out = multiComma.ReplaceAllString(out, ",")
	out = multiPeriod.ReplaceAllString(out, ".")
	return out
}

// splitByMaxChars splits text into rune-bounded chunks, preferring to cut
// just after a period in the back half of the budget.
func splitByMaxChars(text string, maxChars int) []string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return []string{text}
	}

	var parts []string
	minCut := maxChars / 2
	if minCut < 1 {
		minCut = 1
	}

	for len(runes) > maxChars {
		cutAt := maxChars
		for i := maxChars - 1; i >= minCut; i-- {
			if runes[i] == '.' {
				cutAt = i + 1
				break
			}
		}

		head := strings.TrimSpace(string(runes[:cutAt]))
		if head != "" {
			parts = append(parts, head)
		}
		runes = []rune(strings.TrimSpace(string(runes[cutAt:])))
	}

	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
