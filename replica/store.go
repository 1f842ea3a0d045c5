package replica

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/freeconet/numbex/interval"
	"github.com/freeconet/numbex/record"
)

// Config holds replicated-store configuration.
type Config struct {
	// Dir is the working tree root for the repository backing this
	// store — one clone per local peer identity.
	Dir string
	// CommitterName/Email identify the author of every commit this
	// process makes to the repository.
	CommitterName  string
	CommitterEmail string
}

// Store is the replicated store (component D): a git working tree whose
// paths are derived by RangeKeyPath and whose files are the blob format
// of EncodeBlob/DecodeBlob.
type Store struct {
	Cfg Config
	Log *zap.SugaredLogger

	repo *git.Repository
}

// Open opens the repository at cfg.Dir, initializing it (with an empty
// initial commit) if absent.
func Open(cfg Config, log *zap.SugaredLogger) (*Store, error) {
	repo, err := git.PlainOpen(cfg.Dir)
	if err == git.ErrRepositoryNotExists {
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating replicated store directory: %w", err)
		}
		repo, err = git.PlainInit(cfg.Dir, false)
		if err != nil {
			return nil, fmt.Errorf("initializing replicated store: %w", err)
		}
		if err := initialCommit(repo, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening replicated store: %w", err)
	}
	return &Store{Cfg: cfg, Log: log, repo: repo}, nil
}

func initialCommit(repo *git.Repository, cfg Config) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	_, err = wt.Commit("numbex: initialize replicated store", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signatureFor(cfg),
	})
	return err
}

func signatureFor(cfg Config) *object.Signature {
	return &object.Signature{Name: cfg.CommitterName, Email: cfg.CommitterEmail, When: time.Now()}
}

func (s *Store) blobPath(start string) string {
	return filepath.Join(s.Cfg.Dir, filepath.FromSlash(RangeKeyPath(start)), BlobFileName)
}

// GetRange returns the record stored under start's derived key, or
// (Record{}, false) if no blob exists there.
func (s *Store) GetRange(start string) (record.Record, bool, error) {
	data, err := os.ReadFile(s.blobPath(start))
	if os.IsNotExist(err) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, err
	}
	r, err := DecodeBlob(data)
	if err != nil {
		return record.Record{}, false, err
	}
	return r, true, nil
}

// ExportAll returns every stored record ordered by int(start).
func (s *Store) ExportAll() ([]record.Record, error) {
	return s.exportFiltered(func(record.Record) bool { return true })
}

// ExportSince returns every stored record with mdate >= t, ordered by
// int(start).
func (s *Store) ExportSince(t time.Time) ([]record.Record, error) {
	return s.exportFiltered(func(r record.Record) bool { return !r.Mdate.Before(t) })
}

func (s *Store) exportFiltered(keep func(record.Record) bool) ([]record.Record, error) {
	var out []record.Record
	err := filepath.WalkDir(s.Cfg.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != BlobFileName {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		r, err := DecodeBlob(data)
		if err != nil {
			return fmt.Errorf("decoding blob %s: %w", path, err)
		}
		if keep(r) {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		si, _ := out[i].StartInt()
		sj, _ := out[j].StartInt()
		return si < sj
	})
	return out, nil
}

// CheckOverlaps builds an interval tree over every stored record and
// returns, for each record whose extent intersects another, the list of
// keys (textual starts) it intersects. An empty map means the no-overlap
// invariant holds.
func (s *Store) CheckOverlaps() (map[string][]string, error) {
	all, err := s.ExportAll()
	if err != nil {
		return nil, err
	}
	tree := interval.New()
	for _, r := range all {
		lo, err := r.StartInt()
		if err != nil {
			return nil, err
		}
		hi, err := r.EndInt()
		if err != nil {
			return nil, err
		}
		tree.Insert(lo, hi, r)
	}

	out := map[string][]string{}
	for _, r := range all {
		lo, _ := r.StartInt()
		hi, _ := r.EndInt()
		var others []string
		for _, e := range tree.Query(lo, hi) {
			o := e.Payload.(record.Record)
			if o.Start == r.Start {
				continue
			}
			others = append(others, o.Start)
		}
		if len(others) > 0 {
			out[r.Start] = others
		}
	}
	return out, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}

func writeFileIfDifferent(path string, data []byte) (changed bool, err error) {
	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == string(data) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	if err := ensureDir(path); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, err
	}
	return true, nil
}

// headHash returns the current HEAD commit hash, used so a post-commit
// overlap check can roll back to the immediate parent.
func (s *Store) headHash() (plumbing.Hash, error) {
	ref, err := s.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}
