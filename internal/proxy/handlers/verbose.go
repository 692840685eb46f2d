package handlers

import (
	"github.com/airelay/gemini-relay/internal/util"
)

// IsVerbose checks if the RELAY_VERBOSE environment variable is set.
// This re-exports util.IsVerbose for the handler package.
func IsVerbose() bool {
	return util.IsVerbose()
}
