// Package replica implements the replicated store: a content-addressed
// key→blob map backed by a git working tree, with verified import,
// commit, post-commit rollback, and the key-derivation and blob-format
// rules. Fetch, merge and push are done by package merge.
package replica

import "strings"

// BlobFileName is the name every record blob is written under, inside
// the directory its key derives.
const BlobFileName = "record"

// RangeKeyPath derives the repository-relative directory for a range
// starting at start (canonical "+<digits>" form). The digits (leading
// "+" stripped) are split into 3-digit groups joined by "/"; a "this"
// suffix is appended when the digit count is an exact multiple of 3,
// so that "123456" (-> "123/456/this") never collides with the
// directory holding "1234567" (-> "123/456/7") the way a bare
// "123/456" would.
func RangeKeyPath(start string) string {
	digits := strings.TrimPrefix(start, "+")

	var groups []string
	i := 0
	for ; i+3 <= len(digits); i += 3 {
		groups = append(groups, digits[i:i+3])
	}
	if rem := digits[i:]; rem == "" {
		groups = append(groups, "this")
	} else {
		groups = append(groups, rem)
	}
	return strings.Join(groups, "/")
}
