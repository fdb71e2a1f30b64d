package utils

import (
	"os"
	"strings"
)

// IsDebugEnabled reports whether debug diagnostics should be on: the log
// level is debug and GIN_MODE is not release.
func IsDebugEnabled(logLevel string) bool {
	return strings.EqualFold(logLevel, "debug") && os.Getenv("GIN_MODE") != "release"
}
