package purge

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeHook(t *testing.T, body string) (hook, out string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell hook not available on windows")
	}
	dir := t.TempDir()
	out = filepath.Join(dir, "args.txt")
	hook = filepath.Join(dir, "hook.sh")
	script := "#!/bin/sh\n" + strings.ReplaceAll(body, "$OUT", out) + "\n"
	require.NoError(t, os.WriteFile(hook, []byte(script), 0o700))
	return hook, out
}

func TestClient_PurgeAuthor(t *testing.T) {
	hook, out := writeHook(t, `echo "$@" > "$OUT"`)
	c := NewClient(hook, "/etc/researchlog.conf", time.Second)
	require.True(t, c.Enabled())

	require.NoError(t, c.PurgeAuthor(context.Background(), "trainer-1"))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "--config=/etc/researchlog.conf --author=trainer-1", strings.TrimSpace(string(got)))
}

func TestClient_PurgeAuthorFailure(t *testing.T) {
	hook, _ := writeHook(t, `echo "backend unreachable" >&2; exit 3`)
	c := NewClient(hook, "", time.Second)

	err := c.PurgeAuthor(context.Background(), "trainer-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend unreachable")
}

func TestClient_Disabled(t *testing.T) {
	c := NewClient("", "", 0)
	require.False(t, c.Enabled())
	require.NoError(t, c.PurgeAuthor(context.Background(), "trainer-1"))
}
