package plugins

import (
	"fmt"
	"net/url"
	"regexp"
)

// Rules is an ordered list of URL patterns
type Rules []*regexp.Regexp

// CompileRules compiles case-insensitive URL patterns
func CompileRules(patterns ...string) (Rules, error) {
	rules := make(Rules, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid rule %q: %w", pattern, err)
		}
		rules = append(rules, re)
	}
	return rules, nil
}

// MustCompileRules is CompileRules for built-in patterns
func MustCompileRules(patterns ...string) Rules {
	rules, err := CompileRules(patterns...)
	if err != nil {
		panic(err)
	}
	return rules
}

// Match reports whether any rule matches the full URL
func (r Rules) Match(u *url.URL) bool {
	if u == nil {
		return false
	}
	s := u.String()
	for _, re := range r {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Strings returns the source patterns
func (r Rules) Strings() []string {
	out := make([]string, len(r))
	for i, re := range r {
		out[i] = re.String()
	}
	return out
}
