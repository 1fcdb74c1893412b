// Package health fetches the monitored page and decides whether it is being
// served correctly.
package health

import (
	"fmt"
	"strings"
)

// ContentChecker verifies that a page contains every required substring.
type ContentChecker struct {
	required []string
}

// NewContentChecker returns a checker for the given substrings, checked in
// order.
func NewContentChecker(required []string) *ContentChecker {
	return &ContentChecker{required: append([]string(nil), required...)}
}

// Check reports whether content contains every required substring. reason
// names the first missing one.
func (c *ContentChecker) Check(content []byte) (ok bool, reason string) {
	page := string(content)
	for _, needle := range c.required {
		if !strings.Contains(page, needle) {
			return false, fmt.Sprintf("Missing string %q in page content.", needle)
		}
	}
	return true, "Success"
}
