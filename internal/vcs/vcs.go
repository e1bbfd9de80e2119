// Package vcs resolves the revision of the asset tree's enclosing git
// repository. The revision becomes the immutable image tag.
package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
)

// ErrNoRepository is returned when the path is not inside a git repository.
var ErrNoRepository = errors.New("no git repository found")

// HeadRevision returns the full commit hash of HEAD for the repository
// enclosing the provided path.
func HeadRevision(path string) (string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", fmt.Errorf("%s: %w", path, ErrNoRepository)
		}

		return "", fmt.Errorf("open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}

	return head.Hash().String(), nil
}
