package merge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/freeconet/numbex/record"
	"github.com/freeconet/numbex/replica"
)

// Config holds merge-engine configuration.
type Config struct {
	CommitterName  string
	CommitterEmail string
}

// Engine drives one peer integration: clone into an isolated temporary
// working directory, run the pre/post overlap-aware steps around the
// substrate's textual merge, and push the result back only if every
// step succeeds.
type Engine struct {
	Cfg  Config
	Log  *zap.SugaredLogger
	Keys KeyRegistry
}

// New returns an Engine ready to drive merges.
func New(cfg Config, log *zap.SugaredLogger, keys KeyRegistry) *Engine {
	return &Engine{Cfg: cfg, Log: log, Keys: keys}
}

// Integrate merges peerBranch from peerURL into repoDir's current
// branch, entirely inside a throwaway clone so concurrent readers of
// repoDir keep working. It returns (true, nil) only if the merge,
// every conflict resolution, and the post-merge fix-up all succeeded
// and were pushed back; on any failure the temporary directory is
// discarded and repoDir is left exactly as it was.
func (e *Engine) Integrate(ctx context.Context, repoDir, peerName, peerURL, peerBranch string) (bool, error) {
	tmpDir, err := os.MkdirTemp("", "numbex-merge-*")
	if err != nil {
		return false, err
	}
	defer os.RemoveAll(tmpDir)

	repo, err := git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{URL: repoDir})
	if err != nil {
		return false, fmt.Errorf("cloning into isolation worktree: %w", err)
	}

	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: peerName, URLs: []string{peerURL}}); err != nil {
		return false, fmt.Errorf("adding peer remote: %w", err)
	}
	if err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: peerName}); err != nil && err != git.NoErrAlreadyUpToDate {
		return false, fmt.Errorf("fetching peer: %w", err)
	}

	selfRecords, err := recordsAtRef(repo, plumbing.HEAD)
	if err != nil {
		return false, err
	}
	peerRef := plumbing.NewRemoteReferenceName(peerName, peerBranch)
	peerRecords, err := recordsAtRef(repo, peerRef)
	if err != nil {
		return false, err
	}

	if err := PreMergeSanity(selfRecords, peerRecords); err != nil {
		return false, err
	}
	plan, err := BuildPlan(selfRecords, peerRecords)
	if err != nil {
		return false, err
	}
	for _, w := range plan.Warnings {
		if e.Log != nil {
			e.Log.Warnw(w)
		}
	}

	if err := e.textualMerge(ctx, tmpDir, peerName, peerBranch); err != nil {
		return false, err
	}

	store, err := replica.Open(replica.Config{
		Dir: tmpDir, CommitterName: e.Cfg.CommitterName, CommitterEmail: e.Cfg.CommitterEmail,
	}, e.Log)
	if err != nil {
		return false, err
	}

	resolved, err := Fixup(plan.NeedsFix, store)
	if err != nil {
		return false, err
	}
	if len(resolved) > 0 {
		if err := e.commitFixup(tmpDir, resolved); err != nil {
			return false, err
		}
	}

	if err := pushBack(ctx, tmpDir, repoDir); err != nil {
		return false, fmt.Errorf("pushing merge result back: %w", err)
	}
	return true, nil
}

// textualMerge invokes the real git binary for the merge step. The
// DVCS substrate's merge mechanics are explicitly opaque to this
// engine (only its diff3-style conflict report matters), and go-git's
// library-level merge does not produce editable conflict-marker files
// the way the CLI does, so the actual merge attempt shells out — the
// direct analogue of gitdb.py's subprocess git calls.
func (e *Engine) textualMerge(ctx context.Context, dir, peerName, peerBranch string) error {
	cmd := exec.CommandContext(ctx, "git", "merge", "--no-commit", "--no-ff",
		fmt.Sprintf("%s/%s", peerName, peerBranch))
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	conflicted, err := conflictedFiles(dir)
	if err != nil {
		return err
	}
	if runErr == nil && len(conflicted) == 0 {
		return commitCLI(dir, "numbex: merge peer branch")
	}
	if len(conflicted) == 0 {
		return fmt.Errorf("%w: %s", ErrMergeConflict, stderr.String())
	}

	for _, path := range conflicted {
		full := filepath.Join(dir, path)
		data, err := os.ReadFile(full)
		if err != nil {
			return err
		}
		resolved, err := ResolveConflict(data, e.Keys)
		if err != nil {
			return err
		}
		if err := os.WriteFile(full, replica.EncodeBlob(resolved), 0o600); err != nil {
			return err
		}
		if err := addCLI(dir, path); err != nil {
			return err
		}
	}
	return commitCLI(dir, "numbex: merge peer branch, resolved conflicts")
}

func (e *Engine) commitFixup(dir string, resolved []ResolvedFix) error {
	any := false
	for _, r := range resolved {
		for _, d := range r.Deleted {
			path := filepath.Join(dir, filepath.FromSlash(replica.RangeKeyPath(d.Start)), replica.BlobFileName)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			any = true
		}
	}
	if !any {
		return nil
	}
	if err := addCLI(dir, "."); err != nil {
		return err
	}
	return commitCLI(dir, "numbex: post-merge overlap fix-up")
}

func conflictedFiles(dir string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", "--diff-filter=U")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing conflicted files: %w", err)
	}
	var files []string
	for _, line := range bytes.Split(bytes.TrimSpace(out), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		files = append(files, string(line))
	}
	return files, nil
}

func addCLI(dir, path string) error {
	cmd := exec.Command("git", "add", path)
	cmd.Dir = dir
	return cmd.Run()
}

func commitCLI(dir, message string) error {
	cmd := exec.Command("git", "commit", "--allow-empty", "-m", message)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("committing merge result: %s: %w", stderr.String(), err)
	}
	return nil
}

func pushBack(ctx context.Context, tmpDir, repoDir string) error {
	repo, err := git.PlainOpen(tmpDir)
	if err != nil {
		return err
	}
	head, err := repo.Head()
	if err != nil {
		return err
	}
	refspec := fmt.Sprintf("%s:%s", head.Name(), head.Name())
	return repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{config.RefSpec(refspec)},
	})
}

func recordsAtRef(repo *git.Repository, refName plumbing.ReferenceName) ([]record.Record, error) {
	ref, err := repo.Reference(refName, true)
	if err != nil {
		return nil, fmt.Errorf("resolving ref %s: %w", refName, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	var out []record.Record
	err = tree.Files().ForEach(func(f *object.File) error {
		if filepath.Base(f.Name) != replica.BlobFileName {
			return nil
		}
		content, err := f.Contents()
		if err != nil {
			return err
		}
		r, err := replica.DecodeBlob([]byte(content))
		if err != nil {
			return fmt.Errorf("decoding blob %s: %w", f.Name, err)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}
