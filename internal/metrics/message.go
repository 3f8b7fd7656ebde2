package metrics

import (
	"regexp"
	"strings"
)

var conventionalSubject = regexp.MustCompile(`^(feat|fix|docs|style|refactor|perf|test|build|ci|chore|revert)(\([\w./-]+\))?!?: \S`)

// Subjects that carry no information about the change.
var templatedSubjects = map[string]struct{}{
	"fix": {}, "fixes": {}, "fixed": {}, "wip": {}, "update": {}, "updates": {},
	"changes": {}, "misc": {}, "minor": {}, "test": {}, "tmp": {}, "temp": {},
	"stuff": {}, "cleanup": {}, "typo": {}, "asdf": {}, "commit": {}, ".": {},
}

// MessageScore rates a commit message from 0 to 100.
func MessageScore(message string) float64 {
	message = strings.TrimSpace(message)
	if message == "" {
		return 0
	}
	subject, body, _ := strings.Cut(message, "\n")
	subject = strings.TrimSpace(subject)

	key := strings.TrimRight(strings.ToLower(subject), ".! ")
	if _, ok := templatedSubjects[key]; ok || key == "" {
		return 10
	}

	score := 50.0
	switch n := len([]rune(subject)); {
	case n < 10:
		score -= 30
	case n <= 72:
		score += 10
	default:
		score -= 10
	}
	if conventionalSubject.MatchString(subject) {
		score += 30
	}
	if strings.TrimSpace(body) != "" {
		score += 10
	}
	return min(max(score, 0), 100)
}
