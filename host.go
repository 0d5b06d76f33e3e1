package mergegate

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// HostClient pushes a branch and opens or updates the pull request for it.
// Implementations raise on any failure (auth, network, conflicting branch);
// Git wire internals are out of scope for the gateway.
type HostClient interface {
	PushBranch(ctx context.Context, branch, attestationPath, title, body string) error
}

// GitClient is a HostClient that shells out to git and the GitHub CLI.
type GitClient struct {
	RepoDir string
	Remote  string
}

// NewGitClient creates a GitClient for the repository at repoDir, pushing
// to the origin remote.
func NewGitClient(repoDir string) *GitClient {
	return &GitClient{
		RepoDir: repoDir,
		Remote:  "origin",
	}
}

// PushBranch pushes HEAD to the named branch and creates the pull request,
// falling back to updating an existing one. The attestation path is linked
// in the PR body.
func (c *GitClient) PushBranch(ctx context.Context, branch, attestationPath, title, body string) error {
	if branch == "" {
		return errors.New("branch name is required for push")
	}

	if attestationPath != "" {
		if body != "" {
			body += "\n\n"
		}
		body += fmt.Sprintf("Attestation: `%s`", attestationPath)
	}

	if err := c.run(ctx, "git", "push", "-u", c.Remote, "HEAD:"+branch); err != nil {
		return err
	}

	createErr := c.run(ctx, "gh", "pr", "create", "--head", branch, "--title", title, "--body", body)
	if createErr == nil {
		return nil
	}

	// A PR may already exist for the branch; try updating it instead.
	if editErr := c.run(ctx, "gh", "pr", "edit", branch, "--title", title, "--body", body); editErr != nil {
		return fmt.Errorf("failed to create or update pull request: %w", createErr)
	}

	return nil
}

func (c *GitClient) run(ctx context.Context, name string, args ...string) error {
	var cmd = exec.CommandContext(ctx, name, args...)
	cmd.Dir = c.RepoDir

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %s failed: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}

	return nil
}
