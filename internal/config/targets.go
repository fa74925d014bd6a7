package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var browserPattern = regexp.MustCompile(`^([a-z]+)(\d+(?:\.\d+){0,2})$`)

// BrowserNames lists the browsers accepted in styles.browsers.
var BrowserNames = []string{"chrome", "edge", "firefox", "ie", "ios", "opera", "safari"}

// ScriptTargets lists the accepted scripts.target values.
var ScriptTargets = []string{
	"es5", "es2015", "es2016", "es2017", "es2018",
	"es2019", "es2020", "es2021", "es2022", "esnext",
}

// Browser is one entry of the stylesheet support matrix.
type Browser struct {
	Name    string
	Version string
}

// ParseBrowsers parses targets like "chrome58" or "ios10.3".
func ParseBrowsers(browsers []string) ([]Browser, error) {
	out := make([]Browser, 0, len(browsers))
	for _, b := range browsers {
		m := browserPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(b)))
		if m == nil {
			return nil, fmt.Errorf("invalid browser target %q", b)
		}
		if !slices.Contains(BrowserNames, m[1]) {
			return nil, fmt.Errorf("unknown browser %q", m[1])
		}
		out = append(out, Browser{Name: m[1], Version: m[2]})
	}
	return out, nil
}

// ValidScriptTarget reports whether target names a supported ECMAScript level.
func ValidScriptTarget(target string) bool {
	return slices.Contains(ScriptTargets, strings.ToLower(target))
}

// Warnings lists settings that are valid but likely not what the user
// wants.
func (c *Config) Warnings() []string {
	var out []string
	target := strings.ToLower(c.Scripts.Target)
	if target == "es5" {
		return out
	}
	browsers, _ := ParseBrowsers(c.Styles.Browsers)
	for _, b := range browsers {
		if b.Name == "ie" {
			out = append(out, fmt.Sprintf("styles.browsers lists %s%s but scripts.target is %s; the bundle will not run there", b.Name, b.Version, target))
			break
		}
	}
	return out
}
