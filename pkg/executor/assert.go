package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// evalBodyAssertions checks the contains/notContains/regex assertion
// kinds against a response body, returning the first failure message or
// "" if every assertion passed.
func evalBodyAssertions(body string, assertions []Assertion) string {
	for _, a := range assertions {
		switch a.Kind {
		case "contains":
			if !strings.Contains(body, a.Expected) {
				return fmt.Sprintf("expected body to contain %q", a.Expected)
			}
		case "notContains":
			if strings.Contains(body, a.Expected) {
				return fmt.Sprintf("expected body not to contain %q", a.Expected)
			}
		case "regex":
			re, err := regexp.Compile(a.Expected)
			if err != nil {
				return fmt.Sprintf("invalid regex assertion %q: %v", a.Expected, err)
			}
			if !re.MatchString(body) {
				return fmt.Sprintf("expected body to match regex %q", a.Expected)
			}
		}
	}
	return ""
}

func configString(cfg map[string]interface{}, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func configInt(cfg map[string]interface{}, key string, fallback int) int {
	if cfg == nil {
		return fallback
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func configBool(cfg map[string]interface{}, key string) bool {
	if cfg == nil {
		return false
	}
	b, _ := cfg[key].(bool)
	return b
}
