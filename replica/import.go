package replica

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/freeconet/numbex/record"
)

// KeyRegistry resolves an owner's registered DSA public keys, in PEM
// form, for signature verification during import. localstore.Store
// satisfies this interface.
type KeyRegistry interface {
	PublicKeys(owner string) ([]string, error)
}

// Import verifies every record's signature against keys, applies the
// optional deletions, upserts each record's blob (skipping writes whose
// content is byte-identical), and commits. The whole batch is verified
// before any write: a single bad signature aborts import without
// touching storage. After commit it re-checks the whole
// repository for overlaps; if any are found, the branch head is rolled
// back to its immediate parent, so import atomically succeeds or
// atomically reverts.
func (s *Store) Import(records []record.Record, deletions []string, keys KeyRegistry) (bool, error) {
	for _, r := range records {
		if r.Sig == "" {
			return false, fmt.Errorf("%w: %s", ErrUnsigned, r.Start)
		}
		pems, err := keys.PublicKeys(r.Owner)
		if err != nil {
			return false, err
		}
		ok, err := verifyAgainstPEMs(pems, r)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrBadSignature, r.Start)
		}
	}

	parent, err := s.headHash()
	if err != nil {
		return false, err
	}

	for _, key := range deletions {
		if err := s.deleteKey(key); err != nil {
			return false, err
		}
	}

	anyChanged := false
	for _, r := range records {
		path := s.blobPath(r.Start)
		changed, err := writeFileIfDifferent(path, EncodeBlob(r))
		if err != nil {
			return false, err
		}
		anyChanged = anyChanged || changed
	}

	if !anyChanged && len(deletions) == 0 {
		return true, nil
	}

	if err := s.commitAll("numbex: import records"); err != nil {
		return false, err
	}

	overlaps, err := s.CheckOverlaps()
	if err != nil {
		return false, err
	}
	if len(overlaps) > 0 {
		if err := s.resetTo(parent); err != nil {
			return false, fmt.Errorf("%w: rollback also failed: %v", ErrOverlapPostImport, err)
		}
		return false, ErrOverlapPostImport
	}
	return true, nil
}

func verifyAgainstPEMs(pems []string, r record.Record) (bool, error) {
	for _, pem := range pems {
		pub, err := record.ParsePublicKey([]byte(pem))
		if err != nil {
			continue
		}
		if record.VerifyRecord(pub, r) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) deleteKey(key string) error {
	err := os.Remove(s.blobPath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) commitAll(message string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return err
	}
	if _, err := wt.Add("."); err != nil {
		return err
	}
	status, err := wt.Status()
	if err != nil {
		return err
	}
	if status.IsClean() {
		return nil
	}
	_, err = wt.Commit(message, &git.CommitOptions{Author: signatureFor(s.Cfg)})
	return err
}

func (s *Store) resetTo(hash plumbing.Hash) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset})
}
