// Package policy decides whether a newer firmware is known for a device,
// based on the operator-maintained version table.
//
// RutOS firmware strings look like RUT9_R_00.07.06.11: a device-family
// prefix, the release marker, and a four-part numeric version. Devices in
// one family share a prefix, so the table is keyed by prefix.
package policy

import (
	"regexp"
	"strconv"
	"strings"

	"fotad.sh/internal/ferrors"
)

var (
	// PrefixPattern validates device-family prefixes in the version table.
	PrefixPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

	// VersionPattern validates full firmware version strings in the table.
	VersionPattern = regexp.MustCompile(`^[A-Z0-9]+_R_\d+\.\d+\.\d+\.\d+$`)

	prefixRe      = regexp.MustCompile(`^([A-Z0-9]+)_`)
	numericTailRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)\.(\d+)$`)
)

// Result is the outcome of a policy check. LatestVersion is filled whenever
// the table knows the family, even when no update is due.
type Result struct {
	Available     bool   `json:"available"`
	LatestVersion string `json:"latest_version,omitempty"`
}

// ExtractPrefix returns the device-family prefix of a firmware string.
func ExtractPrefix(firmware string) (string, bool) {
	m := prefixRe.FindStringSubmatch(firmware)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// numericTail extracts the four numeric components at the end of a version
// string.
func numericTail(version string) ([4]int, bool) {
	var tail [4]int
	m := numericTailRe.FindStringSubmatch(version)
	if m == nil {
		return tail, false
	}
	for i := 0; i < 4; i++ {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return tail, false
		}
		tail[i] = n
	}
	return tail, true
}

// Compare orders two firmware strings. When both carry a four-part numeric
// tail the comparison is numeric, component by component; otherwise it falls
// back to plain string ordering. The result is negative when a < b, zero
// when equal, positive when a > b.
func Compare(a, b string) int {
	ta, okA := numericTail(a)
	tb, okB := numericTail(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	for i := 0; i < 4; i++ {
		if ta[i] != tb[i] {
			if ta[i] < tb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Evaluate checks the current firmware of one device against the version
// table. lookup resolves a device-family prefix to the latest approved
// version; it returns false when the family is unknown.
//
// When either version lacks a numeric tail the decision degrades to plain
// inequality: any difference from the approved version counts as an update.
func Evaluate(current string, lookup func(prefix string) (string, bool)) Result {
	prefix, ok := ExtractPrefix(current)
	if !ok {
		return Result{}
	}
	latest, ok := lookup(prefix)
	if !ok {
		return Result{}
	}

	tc, okC := numericTail(current)
	tl, okL := numericTail(latest)
	if !okC || !okL {
		return Result{Available: latest != current, LatestVersion: latest}
	}

	for i := 0; i < 4; i++ {
		if tl[i] != tc[i] {
			return Result{Available: tl[i] > tc[i], LatestVersion: latest}
		}
	}
	return Result{Available: false, LatestVersion: latest}
}

// ValidateEntry checks an operator-submitted version-table row.
func ValidateEntry(devicePrefix, latestVersion string) error {
	if !PrefixPattern.MatchString(devicePrefix) {
		return ferrors.Newf(ferrors.ErrCodeValidation,
			"device prefix %q must match %s", devicePrefix, PrefixPattern.String())
	}
	if !VersionPattern.MatchString(latestVersion) {
		return ferrors.Newf(ferrors.ErrCodeValidation,
			"latest version %q must match %s", latestVersion, VersionPattern.String())
	}
	return nil
}
