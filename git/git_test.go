package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func assertSamePath(t *testing.T, label, got, want string) {
	t.Helper()

	gotClean := filepath.Clean(got)
	wantClean := filepath.Clean(want)

	gotInfo, gotErr := os.Stat(gotClean)
	wantInfo, wantErr := os.Stat(wantClean)
	if gotErr == nil && wantErr == nil {
		if !os.SameFile(gotInfo, wantInfo) {
			t.Errorf("%s = %q, want same location as %q", label, got, want)
		}
		return
	}

	if runtime.GOOS == "windows" {
		if !strings.EqualFold(gotClean, wantClean) {
			t.Errorf("%s = %q, want %q", label, got, want)
		}
		return
	}

	if gotClean != wantClean {
		t.Errorf("%s = %q, want %q", label, got, want)
	}
}

// setupGitRepo initializes a git repo in the given directory with an empty commit.
func setupGitRepo(t *testing.T, path string) {
	t.Helper()

	// Check if git is available
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	// Initialize repo
	cmd := exec.Command("git", "init", path)
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}

	// Configure user
	configEmail := exec.Command("git", "-C", path, "config", "user.email", "test@test.com")
	if err := configEmail.Run(); err != nil {
		t.Fatalf("failed to set git user.email: %v", err)
	}

	configName := exec.Command("git", "-C", path, "config", "user.name", "Test")
	if err := configName.Run(); err != nil {
		t.Fatalf("failed to set git user.name: %v", err)
	}

	// Create empty commit
	commit := exec.Command("git", "-C", path, "commit", "--allow-empty", "-m", "init")
	if err := commit.Run(); err != nil {
		t.Fatalf("failed to create initial commit: %v", err)
	}
}

func TestDetect_MainRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	info, err := Detect(repoPath)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Root should be the repo path
	assertSamePath(t, "Root", info.Root, repoPath)

	// IsWorktree should be false for main repo
	if info.IsWorktree {
		t.Error("IsWorktree = true, want false for main repo")
	}

	// CommonDir should end with /.git
	expectedGitDir := filepath.Join(repoPath, ".git")
	assertSamePath(t, "CommonDir", info.CommonDir, expectedGitDir)

	// MainWorktree should be the repo path
	assertSamePath(t, "MainWorktree", info.MainWorktree, repoPath)
}

func TestDetect_LinkedWorktree(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	mainRepo := t.TempDir()
	setupGitRepo(t, mainRepo)

	// Create a linked worktree
	worktreePath := filepath.Join(t.TempDir(), "worktree")
	addWorktree := exec.Command("git", "-C", mainRepo, "worktree", "add", worktreePath, "-b", "test-branch")
	if err := addWorktree.Run(); err != nil {
		t.Fatalf("failed to add worktree: %v", err)
	}

	// Detect worktree
	wtInfo, err := Detect(worktreePath)
	if err != nil {
		t.Fatalf("Detect worktree failed: %v", err)
	}

	// Root should be the worktree path
	assertSamePath(t, "worktree Root", wtInfo.Root, worktreePath)

	// IsWorktree should be true
	if !wtInfo.IsWorktree {
		t.Error("worktree IsWorktree = false, want true")
	}

	// CommonDir should point to main repo's .git
	expectedGitDir := filepath.Join(mainRepo, ".git")
	assertSamePath(t, "worktree CommonDir", wtInfo.CommonDir, expectedGitDir)

	// MainWorktree should be the main repo path
	assertSamePath(t, "worktree MainWorktree", wtInfo.MainWorktree, mainRepo)
}

func TestDetect_NotGitRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	notARepo := t.TempDir()

	_, err := Detect(notARepo)
	if err == nil {
		t.Fatal("Detect should fail on non-git directory")
	}
}

func TestDetect_NonexistentPath(t *testing.T) {
	notARepo := filepath.Join(t.TempDir(), "missing")

	// If git IS installed, this will fail with "not a git repository"
	// If git is NOT installed, it should fail with a different error
	_, err := Detect(notARepo)
	if err == nil {
		t.Fatal("Detect should fail")
	}
}

func TestDetect_Subdirectory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repoPath := t.TempDir()
	setupGitRepo(t, repoPath)

	sub := filepath.Join(repoPath, "src", "pkg")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}

	info, err := Detect(sub)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	assertSamePath(t, "Root", info.Root, repoPath)
	assertSamePath(t, "MainWorktree", info.MainWorktree, repoPath)
	assertSamePath(t, "CommonDir", info.CommonDir, filepath.Join(repoPath, ".git"))
	if info.IsWorktree {
		t.Error("a subdirectory of the main checkout is not a linked worktree")
	}
}

