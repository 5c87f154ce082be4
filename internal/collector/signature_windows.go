package collector

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const sigPathEnv = "NETWATCH_SIG_PATH"

// verifySignature asks PowerShell for the Authenticode status. The path goes
// through the environment so it is never interpolated into the script.
func verifySignature(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command",
		"(Get-AuthenticodeSignature -LiteralPath $env:"+sigPathEnv+").Status")
	cmd.Env = append(os.Environ(), sigPathEnv+"="+path)
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("authenticode %s: %w", path, err)
	}
	return strings.EqualFold(strings.TrimSpace(string(out)), "Valid"), nil
}
