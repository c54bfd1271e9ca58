package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

var commandContext = exec.CommandContext

// Command runs a stage as a subprocess, streaming its output through.
// prefix arguments come before the per-run arguments, which lets the
// preprocess stage re-enter this binary through its subcommand.
type Command struct {
	binary string
	prefix []string
}

// NewCommand builds a subprocess stage.
func NewCommand(binary string, prefix ...string) (*Command, error) {
	if binary == "" {
		return nil, errors.New("stage binary required")
	}
	return &Command{binary: binary, prefix: prefix}, nil
}

// Run executes the stage and waits for it to finish.
func (c *Command) Run(ctx context.Context, args []string) error {
	full := append(append([]string(nil), c.prefix...), args...)
	logrus.WithFields(logrus.Fields{
		"binary": c.binary,
		"args":   strings.Join(full, " "),
	}).Info("running stage")

	cmd := commandContext(ctx, c.binary, full...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("stage %s: %w", c.binary, err)
	}
	return nil
}

var _ Stage = (*Command)(nil)
