// Package utils provides small, generic helpers used by the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// BoundedInt parses s as an int and clamps it into [lo, hi].
// Empty or unparseable input yields def.
//
//	n := utils.BoundedInt("500", 50, 1, 200) // 200
//	n = utils.BoundedInt("", 50, 1, 200)     // 50
func BoundedInt(s string, def, lo, hi int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
