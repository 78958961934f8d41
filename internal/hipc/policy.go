package hipc

import (
	"fmt"
	"strings"

	"github.com/danmuck/capipc/internal/logging"
)

// Policy decides what happens when a command or service cannot be resolved.
type Policy string

const (
	// PolicyIgnore answers success with no effect.
	PolicyIgnore Policy = "ignore"
	// PolicyFatal aborts the process.
	PolicyFatal Policy = "fatal"
	// PolicyError returns a typed result code to the caller.
	PolicyError Policy = "error"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case PolicyIgnore, PolicyFatal, PolicyError:
		return p, nil
	case "":
		return PolicyError, nil
	default:
		return "", fmt.Errorf("hipc: unknown policy %q", raw)
	}
}

// AbortFunc terminates the process on a fatal policy violation. When it
// returns (tests), the request fails as if PolicyError applied.
type AbortFunc func(err error)

func defaultAbort(err error) {
	logging.Fatalf("hipc.abort err=%v", err)
}
