package chat

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/adamavenir/inbox/internal/types"
)

// Filter matches conversations by a case-insensitive glob against name, id
// and channel. A pattern without wildcards matches as a substring.
type Filter struct {
	pattern string
	matcher glob.Glob
}

func NewFilter(pattern string) (*Filter, error) {
	term := strings.ToLower(strings.TrimSpace(pattern))
	if term == "" {
		return &Filter{}, nil
	}
	if !strings.ContainsAny(term, "*?[{") {
		term = "*" + term + "*"
	}
	matcher, err := glob.Compile(term)
	if err != nil {
		return nil, err
	}
	return &Filter{pattern: term, matcher: matcher}, nil
}

func (f *Filter) Match(conv types.Conversation) bool {
	if f == nil || f.matcher == nil {
		return true
	}
	for _, field := range []string{conv.Name, conv.ID, string(conv.Channel)} {
		if field != "" && f.matcher.Match(strings.ToLower(field)) {
			return true
		}
	}
	return false
}

// Apply returns the indexes of convs that match.
func (f *Filter) Apply(convs []types.Conversation) []int {
	matches := make([]int, 0, len(convs))
	for i, conv := range convs {
		if f.Match(conv) {
			matches = append(matches, i)
		}
	}
	return matches
}
