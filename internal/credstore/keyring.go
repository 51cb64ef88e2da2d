package credstore

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/j-veylop/quotameter/internal/logger"
)

// keyringTimeout bounds shell-outs to the OS secret store. The macOS
// security agent can hang waiting for user interaction; expiry is
// treated as "not found", not as a failure.
const keyringTimeout = 5 * time.Second

// ReadKeyringSecret returns the secret stored under (service, account)
// in the OS keyring, or "" when the entry does not exist, the platform
// has no supported secret store, or the lookup timed out.
func ReadKeyringSecret(service, account string) string {
	ctx, cancel := context.WithTimeout(context.Background(), keyringTimeout)
	defer cancel()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "security", "find-generic-password",
			"-s", service, "-a", account, "-w")
	case "linux":
		cmd = exec.CommandContext(ctx, "secret-tool", "lookup",
			"service", service, "account", account)
	default:
		return ""
	}

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			logger.Warn("keyring lookup timed out", "service", service)
		}
		return ""
	}

	return strings.TrimSpace(string(out))
}

// WriteKeyringSecret stores a secret under (service, account) in the
// OS keyring, replacing any existing entry. Returns false when the
// platform has no supported secret store or the write failed.
func WriteKeyringSecret(service, account, value string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), keyringTimeout)
	defer cancel()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		// -U updates in place if the item already exists.
		cmd = exec.CommandContext(ctx, "security", "add-generic-password",
			"-U", "-s", service, "-a", account, "-w", value)
	case "linux":
		cmd = exec.CommandContext(ctx, "secret-tool", "store",
			"--label="+service, "service", service, "account", account)
		cmd.Stdin = strings.NewReader(value)
	default:
		return false
	}

	if err := cmd.Run(); err != nil {
		logger.Error("keyring write failed", "service", service, "error", err)
		return false
	}

	return true
}
