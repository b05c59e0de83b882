package ca

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// GatewayError reports a failed issuer script invocation. Stderr is kept for
// diagnostics and must not be shown to end users.
type GatewayError struct {
	Op        string
	ClientID  string
	ExitCode  int
	Stderr    string
	Timeout   bool
	Cancelled bool
	Err       error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s %s: timed out", e.Op, e.ClientID)
	case e.Cancelled:
		return fmt.Sprintf("%s %s: cancelled", e.Op, e.ClientID)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.ClientID, e.Err)
	default:
		return fmt.Sprintf("%s %s: exit status %d", e.Op, e.ClientID, e.ExitCode)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Indeterminate reports whether the script was stopped before it finished,
// in which case it may already have changed the CA state.
func (e *GatewayError) Indeterminate() bool { return e.Timeout || e.Cancelled }

// Gateway drives the external certificate authority scripts. Each call runs
// the script at most once; retrying is up to the caller.
type Gateway struct {
	runner       ProcessRunner
	createScript string
	revokeScript string
	timeout      time.Duration
	log          logrus.FieldLogger
}

// NewGateway creates an issuer gateway
func NewGateway(runner ProcessRunner, createScript, revokeScript string, timeout time.Duration, log logrus.FieldLogger) *Gateway {
	return &Gateway{
		runner:       runner,
		createScript: createScript,
		revokeScript: revokeScript,
		timeout:      timeout,
		log:          log,
	}
}

// MintClient creates key material for the client
func (g *Gateway) MintClient(ctx context.Context, clientID string) error {
	return g.run(ctx, "mint", g.createScript, clientID)
}

// RevokeClient revokes the client's key material
func (g *Gateway) RevokeClient(ctx context.Context, clientID string) error {
	return g.run(ctx, "revoke", g.revokeScript, clientID)
}

func (g *Gateway) run(ctx context.Context, op, script, clientID string) error {
	if !clientIDPattern.MatchString(clientID) {
		return &GatewayError{Op: op, ClientID: clientID, ExitCode: -1, Err: errors.New("invalid client identifier")}
	}

	log := g.log.WithFields(logrus.Fields{"op": op, "client_id": clientID})
	start := time.Now()

	res, err := g.runner.Run(ctx, Command{
		Path:    script,
		Args:    []string{clientID},
		Timeout: g.timeout,
	})
	if errors.Is(err, ErrTimeout) {
		log.WithField("timeout", g.timeout).Error("issuer script timed out")
		return &GatewayError{Op: op, ClientID: clientID, ExitCode: -1, Timeout: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		log.Warn("issuer script cancelled before it finished")
		return &GatewayError{Op: op, ClientID: clientID, ExitCode: -1, Cancelled: true, Err: err}
	}
	if err != nil {
		log.WithError(err).Error("issuer script failed to run")
		return &GatewayError{Op: op, ClientID: clientID, ExitCode: -1, Err: err}
	}

	if res.ExitCode != 0 {
		log.WithFields(logrus.Fields{
			"exit_code": res.ExitCode,
			"stderr":    res.Stderr,
		}).Error("issuer script exited with failure")
		return &GatewayError{Op: op, ClientID: clientID, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	log.WithField("duration", time.Since(start)).Info("issuer script succeeded")
	return nil
}
