package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/site"
)

const (
	// publishedFileMode is the mode files get in the pages worktree.
	publishedFileMode = 0o644

	// commitAuthorName and commitAuthorEmail identify publish commits.
	commitAuthorName  = "pagehaul"
	commitAuthorEmail = "pagehaul@localhost"
)

// publishPages replaces the content of the pages branch with the asset
// tree. The branch is cloned into memory, its worktree wiped, the tree
// copied in, committed and pushed.
func publishPages(ctx context.Context, tree *site.Tree, cfg *config.PagesConfig) error {
	var (
		storage    = memory.NewStorage()
		worktreeFS = memfs.New()
		branchRef  = plumbing.NewBranchReferenceName(cfg.Branch)
		auth       = pagesAuth(cfg)
	)

	repo, err := git.CloneContext(ctx, storage, worktreeFS, &git.CloneOptions{
		URL:           cfg.Remote,
		Auth:          auth,
		ReferenceName: branchRef,
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		if !isMissingBranch(err) {
			return fmt.Errorf("clone pages branch: %w", err)
		}

		// First publish: the branch (or the whole repository) is empty.
		repo, err = initPagesRepo(storage, worktreeFS, cfg.Remote, branchRef)
		if err != nil {
			return err
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	if err = wipeWorktree(worktreeFS); err != nil {
		return err
	}

	if err = copyTree(tree, worktreeFS); err != nil {
		return err
	}

	if err = worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage published content: %w", err)
	}

	commit, err := worktree.Commit("publish site content", &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return fmt.Errorf("commit published content: %w", err)
	}

	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(branchRef + ":" + branchRef),
		},
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push pages branch: %w", err)
	}

	logger.InfoKV(ctx, "Replaced pages branch content",
		"branch", cfg.Branch, "commit", commit.String())

	return nil
}

// initPagesRepo prepares an in-memory repository for the first publish to
// an empty remote or a remote without the pages branch.
func initPagesRepo(
	storage *memory.Storage,
	worktreeFS billy.Filesystem,
	remote string,
	branchRef plumbing.ReferenceName,
) (*git.Repository, error) {
	repo, err := git.Init(storage, worktreeFS)
	if err != nil {
		return nil, fmt.Errorf("initialize pages repository: %w", err)
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{remote},
	})
	if err != nil {
		return nil, fmt.Errorf("configure pages remote: %w", err)
	}

	// Point HEAD at the pages branch so the first commit lands there.
	if err = storage.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return nil, fmt.Errorf("select pages branch: %w", err)
	}

	return repo, nil
}

// isMissingBranch reports whether a clone failed because the remote or
// the requested branch does not exist yet.
func isMissingBranch(err error) bool {
	return errors.Is(err, transport.ErrEmptyRemoteRepository) ||
		errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, git.NoMatchingRefSpecError{})
}

// pagesAuth returns HTTPS token auth when a token is configured.
func pagesAuth(cfg *config.PagesConfig) transport.AuthMethod {
	if cfg.Token == "" {
		return nil
	}

	// The username is ignored by token-authenticated remotes but must
	// be non-empty.
	return &githttp.BasicAuth{
		Username: commitAuthorName,
		Password: cfg.Token,
	}
}

// wipeWorktree removes everything from the worktree filesystem.
func wipeWorktree(worktreeFS billy.Filesystem) error {
	entries, err := worktreeFS.ReadDir("/")
	if err != nil {
		return fmt.Errorf("list worktree: %w", err)
	}

	for _, entry := range entries {
		if err = util.RemoveAll(worktreeFS, entry.Name()); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// copyTree writes every file of the asset tree into the worktree.
func copyTree(tree *site.Tree, worktreeFS billy.Filesystem) error {
	files, err := tree.Files()
	if err != nil {
		return err
	}

	for _, name := range files {
		contents, err := tree.ReadFile(name)
		if err != nil {
			return err
		}

		if err = util.WriteFile(worktreeFS, name, contents, publishedFileMode); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	return nil
}
