package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLockAcquisition(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(stateDir, LockFileName)
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
	want := fmt.Sprintf("pid=%d\n", os.Getpid())
	if string(content) != want {
		t.Errorf("lock file content = %q, want %q", string(content), want)
	}
}

func TestLockConflict(t *testing.T) {
	stateDir := t.TempDir()

	lock1, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(stateDir)
	if err == nil {
		lock2.Release()
		t.Fatal("second acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockError, got %T", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Another GrievanceFlow instance is already running") {
		t.Errorf("error should name the conflicting instance: %s", msg)
	}
	if !strings.Contains(msg, stateDir) {
		t.Errorf("error should contain the lock path: %s", msg)
	}
	// the holder is this test process, so it must be reported as running
	if !strings.Contains(msg, fmt.Sprintf("PID %d (running)", os.Getpid())) {
		t.Errorf("error should report the running holder: %s", msg)
	}
}

func TestLockRelease(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)

	if err := lock.Release(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after release: %s", lockPath)
	}

	// repeated release is a no-op
	if err := lock.Release(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLockReacquisition(t *testing.T) {
	stateDir := t.TempDir()

	lock1, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lock1.Release()

	lock2, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("failed to reacquire after release: %v", err)
	}
	defer lock2.Release()
}

func TestExtractPIDFromLockInfo(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{"valid pid", "pid=12345\n", 12345},
		{"pid with extra content", "pid=67890\nother=info", 67890},
		{"no pid", "other=info", 0},
		{"empty content", "", 0},
		{"invalid pid", "pid=abc", 0},
		{"no equals", "pid12345", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPIDFromLockInfo(tt.content); got != tt.expected {
				t.Errorf("extractPIDFromLockInfo(%q) = %d, want %d", tt.content, got, tt.expected)
			}
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("our own process should be detected as running")
	}
	if isProcessRunning(999999) {
		t.Log("high PID detected as running (unexpected but not necessarily wrong)")
	}
}

func TestNonExistentDirectory(t *testing.T) {
	stateDir := filepath.Join(os.TempDir(), fmt.Sprintf("grievanceflow_lock_%d", time.Now().UnixNano()))
	defer os.RemoveAll(stateDir)

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("should create the directory and acquire the lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		t.Errorf("state directory should have been created: %s", stateDir)
	}
}
