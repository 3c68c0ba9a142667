// v1
// internal/model/sourceid.go
package model

import "strings"

const sourceIDSeparator = ":"

// SourceID derives the deterministic source identifier for a canonical event
// from its routing fields. Identical inputs always yield the identical id.
// Separator characters occurring inside a field are escaped so two different
// field tuples can never collide on the joined form.
func SourceID(tenantID, lineID, process, deviceType, metric string) string {
	parts := []string{tenantID, lineID, process, deviceType, metric}
	escaped := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ReplaceAll(p, `\`, `\\`)
		escaped[i] = strings.ReplaceAll(p, sourceIDSeparator, `\`+sourceIDSeparator)
	}
	return strings.Join(escaped, sourceIDSeparator)
}
