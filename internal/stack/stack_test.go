package stack

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/gitexec"
	"github.com/arittr/spectacular-codex/internal/testutil"
)

func TestNew(t *testing.T) {
	exec := testutil.NewMockExecutor()

	b, err := New(KindGitSpice, "", exec)
	require.NoError(t, err)
	assert.Equal(t, KindGitSpice, b.Name())

	b, err = New("REBASE", "", exec)
	require.NoError(t, err)
	assert.Equal(t, KindRebase, b.Name())

	_, err = New("graphite", "", exec)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestBackends_EmptyInputIsNoop(t *testing.T) {
	for _, kind := range []string{KindGitSpice, KindRebase} {
		t.Run(kind, func(t *testing.T) {
			exec := testutil.NewMockExecutor()
			b, err := New(kind, "", exec)
			require.NoError(t, err)

			require.NoError(t, b.Stack(context.Background(), nil, "base", "/wt"))
			assert.Empty(t, exec.Calls())
		})
	}
}

func TestRebase_StackOrder(t *testing.T) {
	exec := testutil.NewMockExecutor()
	r := NewRebase(exec)

	err := r.Stack(context.Background(), []string{"b0", "b1", "b2"}, "base", "/wt")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"git rebase --onto base base b0",
		"git rebase --onto b0 base b1",
		"git rebase --onto b1 base b2",
		"git checkout --detach",
	}, exec.CommandLines())
}

func TestRebase_Conflict(t *testing.T) {
	exec := testutil.NewMockExecutor().
		On("git rebase --onto b0", "CONFLICT (content): Merge conflict in main.go\n", errors.New("exit status 1")).
		On("git diff --name-only", "main.go\n", nil)
	r := NewRebase(exec)

	err := r.Stack(context.Background(), []string{"b0", "b1", "b2"}, "base", "/wt")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "b1", conflict.Branch)
	assert.Equal(t, "b0", conflict.Onto)
	assert.Equal(t, []string{"main.go"}, conflict.Files)
	assert.Equal(t, 1, exec.CountPrefix("git rebase --abort"))
	assert.Zero(t, exec.CountPrefix("git rebase --onto b1"), "later branches must not be attempted")
}

func TestRebase_Detect(t *testing.T) {
	exec := testutil.NewMockExecutor().On("git --version", "", errors.New("not found"))
	err := NewRebase(exec).Detect(context.Background(), "/wt")
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
}

func TestGitSpice_Stack(t *testing.T) {
	exec := testutil.NewMockExecutor()
	g := NewGitSpice("", exec)

	require.NoError(t, g.Detect(context.Background(), "/wt"))
	require.NoError(t, g.Stack(context.Background(), []string{"b0", "b1"}, "main", "/wt"))

	assert.Equal(t, []string{
		"gs --version",
		"gs branch track --base main b0",
		"gs branch track --base b0 b1",
		"gs upstack restack --branch b0",
	}, exec.CommandLines())
}

func TestGitSpice_DetectMissing(t *testing.T) {
	exec := testutil.NewMockExecutor().On("git-spice --version", "", errors.New("executable file not found"))
	err := NewGitSpice("git-spice", exec).Detect(context.Background(), "/wt")
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
}

func TestGitSpice_TrackFailure(t *testing.T) {
	exec := testutil.NewMockExecutor().On("gs branch track --base b0", "error: not tracked", errors.New("exit status 1"))
	err := NewGitSpice("", exec).Stack(context.Background(), []string{"b0", "b1"}, "main", "/wt")

	var gitErr *errors.GitError
	require.ErrorAs(t, err, &gitErr)
	assert.Equal(t, "b1", gitErr.Branch)
	assert.Zero(t, exec.CountPrefix("gs upstack"))
}

func TestRebase_Integration(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repo := testutil.SetupTestRepo(t)
	base := testutil.Git(t, repo, "rev-parse", "main")
	testutil.CreateBranchWithCommits(t, repo, "a1b2c3-task-1-1-api", 1)
	testutil.CreateBranchWithCommits(t, repo, "a1b2c3-task-1-2-ui", 2)
	testutil.Git(t, repo, "checkout", "--detach")

	r := NewRebase(gitexec.Serialize(gitexec.NewCLICommandExecutor()))
	require.NoError(t, r.Stack(context.Background(), []string{"a1b2c3-task-1-1-api", "a1b2c3-task-1-2-ui"}, base, repo))

	// The second branch now contains the first.
	log := testutil.Git(t, repo, "log", "--format=%s", base+"..a1b2c3-task-1-2-ui")
	assert.Len(t, strings.Split(log, "\n"), 3)
	parent := testutil.Git(t, repo, "rev-parse", "a1b2c3-task-1-2-ui~2")
	assert.Equal(t, testutil.Git(t, repo, "rev-parse", "a1b2c3-task-1-1-api"), parent)
}
