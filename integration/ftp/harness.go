//go:build integration

package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/savesync/internal/remote"
)

const (
	defaultImage    = "delfer/alpine-ftp-server:latest"
	ftpUser         = "savesync"
	ftpPassword     = "savesync"
	ftpPort         = "2121"
	passivePorts    = "21000-21010"
	readyTimeout    = 30 * time.Second
	defaultTimeout  = 2 * time.Minute
	serverHomeDir   = "/ftp/" + ftpUser
	keepContainerEV = "SAVESYNC_KEEP_CONTAINER"
)

// Harness provides an FTP server for integration tests. It either points at
// an existing server given by SAVESYNC_FTP_ADDR or starts a throwaway
// container.
type Harness struct {
	t           *testing.T
	containerID string
	image       string
	keepOnFail  bool

	Addr     string
	User     string
	Password string
}

// NewHarness creates a new test harness. The test is skipped when neither a
// server address nor docker is available.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	h := &Harness{
		t:          t,
		image:      defaultImage,
		keepOnFail: os.Getenv(keepContainerEV) == "1",
	}
	if image := os.Getenv("SAVESYNC_FTP_IMAGE"); image != "" {
		h.image = image
	}

	if addr := os.Getenv("SAVESYNC_FTP_ADDR"); addr != "" {
		h.Addr = addr
		h.User = os.Getenv("SAVESYNC_FTP_USER")
		h.Password = os.Getenv("SAVESYNC_FTP_PASSWORD")
		if h.User == "" {
			h.User, h.Password = "anonymous", "anonymous@"
		}
		return h
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("SAVESYNC_FTP_ADDR not set and docker not available")
	}
	h.Addr = "127.0.0.1:" + ftpPort
	h.User, h.Password = ftpUser, ftpPassword
	return h
}

// Managed reports whether the harness runs its own server container
func (h *Harness) Managed() bool {
	return os.Getenv("SAVESYNC_FTP_ADDR") == ""
}

// Start launches the server container, if any, and waits until it accepts
// logins
func (h *Harness) Start(ctx context.Context) error {
	h.t.Helper()
	if !h.Managed() {
		return h.waitReady(ctx)
	}

	h.t.Logf("Starting FTP server from %s", h.image)
	cmd := exec.CommandContext(ctx,
		"docker", "run",
		"-d",
		"--rm",
		"-p", ftpPort+":21",
		"-p", passivePorts+":"+passivePorts,
		"-e", fmt.Sprintf("USERS=%s|%s", ftpUser, ftpPassword),
		"-e", "ADDRESS=127.0.0.1",
		h.image,
	)
	cmd.Stderr = &testWriter{t: h.t, prefix: "[docker] "}

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("docker run: %w", err)
	}

	h.containerID = strings.TrimSpace(string(out))
	h.t.Logf("Container started: %s", h.containerID)
	return h.waitReady(ctx)
}

// waitReady polls until a login succeeds
func (h *Harness) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)
	for {
		client, err := remote.DialFTP(ctx, h.Addr, h.User, h.Password, 2*time.Second)
		if err == nil {
			_ = client.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ftp server %s not ready: %w", h.Addr, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Dial opens a replica connection to the server
func (h *Harness) Dial(ctx context.Context, id string) (*remote.Replica, error) {
	client, err := remote.DialFTP(ctx, h.Addr, h.User, h.Password, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &remote.Replica{ID: id, DisplayName: "FTP " + h.Addr, Client: client}, nil
}

// Cleanup stops and removes the container
func (h *Harness) Cleanup(ctx context.Context) {
	h.t.Helper()
	if h.containerID == "" {
		return
	}

	if h.keepOnFail && h.t.Failed() {
		h.t.Logf("Test failed and %s=1, keeping container %s", keepContainerEV, h.containerID)
		h.t.Logf("To inspect: docker exec -it %s /bin/sh", h.containerID)
		h.t.Logf("To cleanup: docker stop %s", h.containerID)
		return
	}

	h.t.Logf("Stopping container %s", h.containerID)
	cmd := exec.CommandContext(ctx, "docker", "stop", h.containerID)
	if err := cmd.Run(); err != nil {
		h.t.Logf("Warning: failed to stop container: %v", err)
	}
}

// Exec executes a command in the container
func (h *Harness) Exec(ctx context.Context, cmd ...string) (string, string, int, error) {
	h.t.Helper()
	if h.containerID == "" {
		return "", "", 0, fmt.Errorf("container not started")
	}

	args := append([]string{"exec", h.containerID}, cmd...)
	execCmd := exec.CommandContext(ctx, "docker", args...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// Seed writes a file straight into the server's storage, bypassing FTP. p is
// the path as seen by the FTP user.
func (h *Harness) Seed(ctx context.Context, p, content string) error {
	h.t.Helper()
	if h.containerID == "" {
		return fmt.Errorf("container not started")
	}
	full := path.Join(serverHomeDir, p)

	if _, _, code, err := h.Exec(ctx, "mkdir", "-p", path.Dir(full)); err != nil || code != 0 {
		return fmt.Errorf("mkdir parent: exit %d: %v", code, err)
	}

	cmd := exec.CommandContext(ctx,
		"docker", "exec", "-i", h.containerID,
		"sh", "-c", fmt.Sprintf("cat > '%s' && chown -R %s '%s'", full, ftpUser, serverHomeDir),
	)
	cmd.Stdin = strings.NewReader(content)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ReadFile reads a file from the server's storage. p is the path as seen by
// the FTP user.
func (h *Harness) ReadFile(ctx context.Context, p string) (string, error) {
	h.t.Helper()
	stdout, _, exitCode, err := h.Exec(ctx, "cat", path.Join(serverHomeDir, p))
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", fmt.Errorf("cat failed with exit code %d", exitCode)
	}
	return stdout, nil
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
