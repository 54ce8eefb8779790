package parser

import (
	"regexp"
	"strings"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// TimestampResolver finds a record's timestamp
type TimestampResolver struct {
	keys    []string
	pattern *regexp.Regexp
}

// NewTimestampResolver creates a resolver over the given keys and text pattern
func NewTimestampResolver(keys []string, pattern *regexp.Regexp) *TimestampResolver {
	return &TimestampResolver{keys: keys, pattern: pattern}
}

// Resolve returns the explicit timestamp field verbatim, else the leftmost
// timestamp-like substring of message with guessed set. An empty result means
// no timestamp could be found.
func (r *TimestampResolver) Resolve(entry Entry, message string) (ts string, guessed bool) {
	if v, ok := entry.String(r.keys...); ok {
		return v, false
	}
	if m := r.pattern.FindString(message); m != "" {
		return m, true
	}
	return "", false
}

// LevelResolver finds a record's severity level
type LevelResolver struct {
	keys         []string
	keywords     []levelMatcher
	defaultLevel string
}

type levelMatcher struct {
	pattern *regexp.Regexp
	level   string
}

// NewLevelResolver creates a resolver. Keywords are matched as whole words,
// case-insensitively, in the order given: "err" matches "err: eof" but not
// "terraform" or "stderr".
func NewLevelResolver(keys []string, keywords []LevelKeyword, defaultLevel string) *LevelResolver {
	matchers := make([]levelMatcher, len(keywords))
	for i, kw := range keywords {
		matchers[i] = levelMatcher{
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(kw.Keyword)) + `\b`),
			level:   kw.Level,
		}
	}
	return &LevelResolver{keys: keys, keywords: matchers, defaultLevel: defaultLevel}
}

// Resolve returns the normalized explicit level, else the level of the first
// keyword found in message with guessed set, else the default level.
func (r *LevelResolver) Resolve(entry Entry, message string) (level string, guessed bool) {
	if v, ok := entry.String(r.keys...); ok {
		return NormalizeLogLevel(v), false
	}
	lower := strings.ToLower(message)
	for _, kw := range r.keywords {
		if kw.pattern.MatchString(lower) {
			return kw.level, true
		}
	}
	if r.defaultLevel == "" {
		return types.LevelUnknown, false
	}
	return r.defaultLevel, false
}
