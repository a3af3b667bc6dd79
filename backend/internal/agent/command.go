package agent

import (
	"context"
	"os/exec"
)

// DefaultCommandFactory returns a CommandFactory that spawns binary with
// the streaming-input flags the coding-assistant CLI expects: working
// directory, permission mode "default", and either "--resume <id>" or
// "--session-id <id>" depending on Options (spec §4.A start()).
func DefaultCommandFactory(binary string) CommandFactory {
	return func(ctx context.Context, opts Options) *exec.Cmd {
		args := []string{
			"--input-format", "stream-json",
			"--output-format", "stream-json",
			"--permission-mode", "default",
		}
		if opts.Resume != "" {
			args = append(args, "--resume", opts.Resume)
		} else if opts.NewSessionID != "" {
			args = append(args, "--session-id", opts.NewSessionID)
		}
		cmd := exec.CommandContext(ctx, binary, args...)
		cmd.Dir = opts.WorkingDir
		return cmd
	}
}
