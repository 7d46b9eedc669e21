package wt

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repo with one commit so worktrees can branch off it.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(dir, 0755))

	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0644))
	run("add", ".")
	run("commit", "-m", "init")
	return dir
}

func TestEpicBranch(t *testing.T) {
	assert.Equal(t, "epic/01hx2abc-fix-the-login-flow",
		EpicBranch("01HX2ABCDEF", "Fix the Login Flow!"))
	assert.Equal(t, "epic/short", EpicBranch("short", ""))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "hello-world", Slugify("Hello,  World"))
	assert.Equal(t, "", Slugify("!!!"))
	assert.Equal(t, "a-b", Slugify("--a--b--"))
}

func TestEnsureForEpicCreatesAndIsIdempotent(t *testing.T) {
	repo := initRepo(t)
	c := NewClient(repo)

	wt, err := c.EnsureForEpic("01HX2ABCDEF", "Login Flow")
	require.NoError(t, err)
	assert.Equal(t, "epic/01hx2abc-login-flow", wt.Branch)
	assert.DirExists(t, wt.Path)

	again, err := c.EnsureForEpic("01HX2ABCDEF", "Login Flow")
	require.NoError(t, err)
	assert.Equal(t, wt.Path, again.Path)

	list, err := c.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEnsureForEpicReusesExistingBranch(t *testing.T) {
	repo := initRepo(t)
	c := NewClient(repo)

	wt, err := c.EnsureForEpic("EPIC1234", "payments")
	require.NoError(t, err)
	require.NoError(t, c.Remove(wt.Path, true))

	exists, err := c.BranchExists(wt.Branch)
	require.NoError(t, err)
	assert.True(t, exists)

	again, err := c.EnsureForEpic("EPIC1234", "payments")
	require.NoError(t, err)
	assert.Equal(t, wt.Branch, again.Branch)
}

func TestIsDirty(t *testing.T) {
	repo := initRepo(t)
	c := NewClient(repo)

	wt, err := c.EnsureForEpic("EPIC1", "dirty check")
	require.NoError(t, err)

	dirty, err := c.IsDirty(wt.Path)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(wt.Path, "new.txt"), []byte("x"), 0644))
	dirty, err = c.IsDirty(wt.Path)
	require.NoError(t, err)
	assert.True(t, dirty)
}
