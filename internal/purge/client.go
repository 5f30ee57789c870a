package purge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

const defaultTimeout = 30 * time.Second

type ClientInterface interface {
	PurgeAuthor(ctx context.Context, authorID string) error
}

// Client runs the external purge hook that removes a banned author's
// entries and comments from the backend.
type Client struct {
	executablePath string
	configPath     string
	timeout        time.Duration
}

var _ ClientInterface = (*Client)(nil)

func NewClient(executablePath, configPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		executablePath: executablePath,
		configPath:     configPath,
		timeout:        timeout,
	}
}

// Enabled reports whether a hook executable is configured.
func (c *Client) Enabled() bool { return c.executablePath != "" }

// PurgeAuthor calls `<hook> [--config=<path>] --author=<id>`. It is a no-op
// when no hook is configured.
func (c *Client) PurgeAuthor(ctx context.Context, authorID string) error {
	if !c.Enabled() {
		slog.Debug("Purge hook not configured, skipping", "author_id", authorID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var args []string
	if c.configPath != "" {
		args = append(args, "--config="+c.configPath)
	}
	args = append(args, "--author="+authorID)

	cmd := exec.CommandContext(ctx, c.executablePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Info("Executing purge hook", "author_id", authorID, "command", cmd.String())

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("purge command failed: %w, stderr: %s", err, stderr.String())
	}

	slog.Info("Successfully purged content for author", "author_id", authorID)
	return nil
}
