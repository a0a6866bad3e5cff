// Package idgen generates and validates the identifier formats defined in
// SPEC_FULL.md §6: RunId, CrpId, VcrId, and sanitized external
// session/workspace identifiers.
package idgen

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	runIDPattern     = regexp.MustCompile(`^run-\d{14}$`)
	crpIDPattern     = regexp.MustCompile(`^crp-[A-Za-z0-9_-]{1,60}$`)
	vcrIDPattern     = regexp.MustCompile(`^vcr-[A-Za-z0-9_-]{1,60}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// NewRunID returns the current UTC timestamp formatted run-YYYYMMDDHHMMSS.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run-%s", now.UTC().Format("20060102150405"))
}

// ValidRunID reports whether id matches the fixed RunId pattern.
func ValidRunID(id string) bool { return runIDPattern.MatchString(id) }

// NewCRPID returns a fresh crp-<uuid-suffix> identifier, short enough to
// satisfy the <=64 total length bound.
func NewCRPID() string {
	return "crp-" + shortUUID()
}

// NewVCRID returns a fresh vcr-<uuid-suffix> identifier.
func NewVCRID() string {
	return "vcr-" + shortUUID()
}

// shortUUID returns a UUIDv4 with hyphens stripped, long enough to be
// collision-free but short enough to fit the 60-char suffix budget.
func shortUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
}

// ValidCRPID reports whether id matches the CrpId pattern (and total length).
func ValidCRPID(id string) bool { return len(id) <= 64 && crpIDPattern.MatchString(id) }

// ValidVCRID reports whether id matches the VcrId pattern.
func ValidVCRID(id string) bool { return vcrIDPattern.MatchString(id) }

// SanitizeSessionID validates an externally supplied session/workspace
// identifier against the [A-Za-z0-9_-]{1,64} bound.
func SanitizeSessionID(id string) (string, bool) {
	if !sessionIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}
