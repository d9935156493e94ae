// Package collector ingests the durable streams written by bots: it buffers
// transcript segments in the bus keyspace and promotes settled segments into
// the relational store.
package collector

import (
	"regexp"
	"strings"
)

// baseNonInformativePatterns match recognizer noise that is never worth
// storing: blank-audio markers, angle-bracket placeholders, bare chevrons.
var baseNonInformativePatterns = []string{
	`^\[BLANK_AUDIO\]$`,
	`^<no audio>$`,
	`^<inaudible>$`,
	`^<>$`,
	`^<3\s*$`,
	`^\s*<3\s*$`,
	`^\s*$`,
	`^>+$`,
	`^<+$`,
}

const (
	defaultMinChars     = 3
	defaultMinRealWords = 1
	realWordMinLength   = 3
)

// Filter decides whether a transcript segment carries enough signal to be
// persisted. Rejected segments are dropped entirely.
type Filter struct {
	patterns     []*regexp.Regexp
	minChars     int
	minRealWords int
	stopwords    map[string]map[string]struct{}
	custom       []func(text string) bool
}

// NewFilter creates a filter with the base pattern list and defaults.
func NewFilter() *Filter {
	f := &Filter{
		minChars:     defaultMinChars,
		minRealWords: defaultMinRealWords,
		stopwords:    make(map[string]map[string]struct{}),
	}
	for _, p := range baseNonInformativePatterns {
		f.patterns = append(f.patterns, regexp.MustCompile(p))
	}
	return f
}

// AddPattern registers an additional rejection pattern.
func (f *Filter) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	f.patterns = append(f.patterns, re)
	return nil
}

// AddStopwords registers stopwords for a language. Stopworded tokens do not
// count toward the real-word minimum.
func (f *Filter) AddStopwords(language string, words ...string) {
	set := f.stopwords[language]
	if set == nil {
		set = make(map[string]struct{})
		f.stopwords[language] = set
	}
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
}

// AddCustom registers a predicate; segments it returns false for are
// rejected.
func (f *Filter) AddCustom(fn func(text string) bool) {
	f.custom = append(f.custom, fn)
}

// Keep reports whether a segment passes all filters. Language selects the
// stopword set and defaults to "en".
func (f *Filter) Keep(text, language string) bool {
	text = strings.TrimSpace(text)
	if len(text) < f.minChars {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return false
		}
	}
	if language == "" {
		language = "en"
	}
	realWords := 0
	for _, w := range strings.Fields(text) {
		if len(w) < realWordMinLength {
			continue
		}
		if strings.HasPrefix(w, "<") || strings.HasPrefix(w, "[") {
			continue
		}
		if f.isStopword(w, language) {
			continue
		}
		realWords++
	}
	if realWords < f.minRealWords {
		return false
	}
	for _, fn := range f.custom {
		if !fn(text) {
			return false
		}
	}
	return true
}

func (f *Filter) isStopword(word, language string) bool {
	set, ok := f.stopwords[language]
	if !ok {
		return false
	}
	_, found := set[strings.ToLower(word)]
	return found
}
