package merge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/freeconet/numbex/record"
	"github.com/freeconet/numbex/replica"
)

const (
	oursMarker   = "<<<<<<<"
	baseMarker   = "|||||||"
	theirsMarker = "======="
	endMarker    = ">>>>>>>"
)

// conflictSections splits a file carrying a single git conflict into its
// "ours" and "theirs" byte sections. A diff3-style common-ancestor
// section (between "|||||||" and "=======") is skipped if present; this
// engine only needs the two content variants, not the ancestor text.
func conflictSections(data []byte) (ours, theirs []byte, err error) {
	lines := bytes.Split(data, []byte("\n"))

	var oursLines, theirsLines [][]byte
	state := "before"
	for _, line := range lines {
		trimmed := strings.TrimRight(string(line), "\r")
		switch {
		case strings.HasPrefix(trimmed, oursMarker):
			state = "ours"
			continue
		case strings.HasPrefix(trimmed, baseMarker):
			state = "base"
			continue
		case strings.HasPrefix(trimmed, theirsMarker):
			state = "theirs"
			continue
		case strings.HasPrefix(trimmed, endMarker):
			state = "after"
			continue
		}
		switch state {
		case "ours":
			oursLines = append(oursLines, line)
		case "theirs":
			theirsLines = append(theirsLines, line)
		}
	}
	if oursLines == nil || theirsLines == nil {
		return nil, nil, fmt.Errorf("%w: no conflict markers found", ErrMergeConflict)
	}
	return bytes.Join(oursLines, []byte("\n")), bytes.Join(theirsLines, []byte("\n")), nil
}

// ResolveConflict parses a conflicted record blob, verifies both
// variants' signatures, requires matching owners, and returns the
// variant with the strictly greater mdate. On an exact mdate tie, ours
// (the self side) wins.
func ResolveConflict(data []byte, keys KeyRegistry) (record.Record, error) {
	oursData, theirsData, err := conflictSections(data)
	if err != nil {
		return record.Record{}, err
	}
	ours, err := replica.DecodeBlob(oursData)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: decoding ours: %v", ErrMergeConflict, err)
	}
	theirs, err := replica.DecodeBlob(theirsData)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: decoding theirs: %v", ErrMergeConflict, err)
	}

	if err := verifyOne(ours, keys); err != nil {
		return record.Record{}, err
	}
	if err := verifyOne(theirs, keys); err != nil {
		return record.Record{}, err
	}
	if ours.Owner != theirs.Owner {
		return record.Record{}, fmt.Errorf("%w: %s vs %s", ErrOwnerMismatch, ours.Owner, theirs.Owner)
	}

	if theirs.Mdate.After(ours.Mdate) {
		return theirs, nil
	}
	return ours, nil
}

// KeyRegistry resolves an owner's registered public keys. Satisfied by
// localstore.Store and replica.KeyRegistry implementations alike.
type KeyRegistry interface {
	PublicKeys(owner string) ([]string, error)
}

func verifyOne(r record.Record, keys KeyRegistry) error {
	pems, err := keys.PublicKeys(r.Owner)
	if err != nil {
		return err
	}
	ok := false
	for _, pem := range pems {
		pub, err := record.ParsePublicKey([]byte(pem))
		if err != nil {
			continue
		}
		if record.VerifyRecord(pub, r) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadSignature, r.Start)
	}
	return nil
}
