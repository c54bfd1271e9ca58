// Package registration wraps the external rigid-registration tool
// behind a capability interface so the preprocessing pipeline can be
// exercised with deterministic fakes.
package registration

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

var commandContext = exec.CommandContext

// Request names the four paths of one rigid alignment: the fixed
// reference volume, the moving volume, and where the registered volume
// and transform should be written. Both inputs must already live on the
// same lattice.
type Request struct {
	Fixed     string
	Moving    string
	OutVolume string
	OutTfm    string
}

// Registrar performs one rigid registration. A non-nil error means the
// alignment failed and the whole run must stop: a silently broken
// alignment would corrupt the fusion downstream.
type Registrar interface {
	Register(ctx context.Context, req Request) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default registration binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI invokes crlRigidRegistration with a fixed rigid transform type.
type CLI struct {
	binary string
}

// NewCLI constructs a client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "crlRigidRegistration"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Register runs the external tool and waits for it to finish. Success
// is exit status zero; any failure reports the full command line.
func (c *CLI) Register(ctx context.Context, req Request) error {
	if req.Fixed == "" || req.Moving == "" {
		return errors.New("fixed and moving volume paths required")
	}
	if req.OutVolume == "" || req.OutTfm == "" {
		return errors.New("output volume and transform paths required")
	}

	args := []string{"-t", "2", req.Fixed, req.Moving, req.OutVolume, req.OutTfm}
	logrus.WithFields(logrus.Fields{
		"binary": c.binary,
		"moving": req.Moving,
	}).Debug("running rigid registration")

	cmd := commandContext(ctx, c.binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("registration command %q failed: %w",
			c.binary+" "+strings.Join(args, " "), commandError(err, out))
	}
	return nil
}

func commandError(err error, output []byte) error {
	if msg := strings.TrimSpace(string(output)); msg != "" {
		return fmt.Errorf("%v: %s", err, msg)
	}
	return err
}

var _ Registrar = (*CLI)(nil)
