package mergegate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGitClient(t *testing.T) {
	t.Run("should default to the origin remote", func(t *testing.T) {
		// Act
		var sut = NewGitClient("/tmp/repo")

		// Assert
		assert.Equal(t, "/tmp/repo", sut.RepoDir)
		assert.Equal(t, "origin", sut.Remote)
	})

	t.Run("should require a branch name", func(t *testing.T) {
		// Arrange
		var sut = NewGitClient(t.TempDir())

		// Act
		var err = sut.PushBranch(context.Background(), "", "a.json", "title", "body")

		// Assert
		assert.Error(t, err)
	})
}
