// Package prep adapts external prepare programs to the runtime's task
// contract. The runtime treats the resulting function as an opaque unit of
// work; what the program does to the media is its own business.
package prep

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// outputTail bounds how much subprocess output is kept for error messages.
const outputTail = 2048

// Command returns a run function that executes argv with the task payload on
// stdin. The subprocess inherits the task's context, so hard timeouts and
// shutdown cancellation kill it.
func Command(argv []string, logger *slog.Logger) func(ctx context.Context, payload []byte) error {
	return func(ctx context.Context, payload []byte) error {
		if len(argv) == 0 {
			return fmt.Errorf("no command configured")
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = bytes.NewReader(payload)

		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		logger.Debug("running prepare command", "command", argv[0])
		if err := cmd.Run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("prepare command %s failed: %w (output: %s)",
				argv[0], err, tail(out.Bytes()))
		}
		return nil
	}
}

func tail(b []byte) string {
	if len(b) > outputTail {
		b = b[len(b)-outputTail:]
	}
	return string(bytes.TrimSpace(b))
}
