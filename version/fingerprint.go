package version

import (
	"fmt"
)

// Single character encoding of a version component: 0-9 then A-Z.
func versionChar(v int) byte {
	switch {
	case v < 0 || v >= 36:
		panic(fmt.Sprintf("version component out of range: %v", v))
	case v < 10:
		return byte('0' + v)
	default:
		return byte('A' + v - 10)
	}
}

// Fingerprint returns an Azureus-style BEP 20 peer ID prefix, like "-PH0100-" for ("PH", 0, 1, 0).
func Fingerprint(client string, major, minor, patch int) string {
	if len(client) != 2 {
		panic(fmt.Sprintf("client code must be two characters: %q", client))
	}
	return fmt.Sprintf("-%s%c%c%c0-", client, versionChar(major), versionChar(minor), versionChar(patch))
}
