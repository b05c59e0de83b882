package ca

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/vpnaccess/internal/logs"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []Command
	res   *Result
	err   error
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	return f.res, f.err
}

func newTestGateway(r ProcessRunner) *Gateway {
	return NewGateway(r, "/opt/ca/create.sh", "/opt/ca/revoke.sh", 5*time.Second, logs.Discard())
}

func TestGateway_MintClient(t *testing.T) {
	r := &fakeRunner{res: &Result{ExitCode: 0}}
	g := newTestGateway(r)

	require.NoError(t, g.MintClient(context.Background(), "user42"))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "/opt/ca/create.sh", r.calls[0].Path)
	assert.Equal(t, []string{"user42"}, r.calls[0].Args)
	assert.Equal(t, 5*time.Second, r.calls[0].Timeout)
}

func TestGateway_RevokeClient(t *testing.T) {
	r := &fakeRunner{res: &Result{ExitCode: 0}}
	g := newTestGateway(r)

	require.NoError(t, g.RevokeClient(context.Background(), "user42"))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "/opt/ca/revoke.sh", r.calls[0].Path)
}

func TestGateway_Failures(t *testing.T) {
	tests := []struct {
		name          string
		runner        *fakeRunner
		wantTimeout   bool
		wantCancelled bool
		wantExit      int
	}{
		{
			name:     "non-zero exit",
			runner:   &fakeRunner{res: &Result{ExitCode: 2, Stderr: "index.txt locked"}},
			wantExit: 2,
		},
		{
			name:     "spawn failure",
			runner:   &fakeRunner{err: errors.New("exec: no such file")},
			wantExit: -1,
		},
		{
			name:        "timeout",
			runner:      &fakeRunner{err: fmt.Errorf("create.sh: %w", ErrTimeout)},
			wantTimeout: true,
			wantExit:    -1,
		},
		{
			name:          "cancelled",
			runner:        &fakeRunner{err: fmt.Errorf("create.sh: %w", context.Canceled)},
			wantCancelled: true,
			wantExit:      -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestGateway(tt.runner).MintClient(context.Background(), "user42")

			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.wantTimeout, gwErr.Timeout)
			assert.Equal(t, tt.wantCancelled, gwErr.Cancelled)
			assert.Equal(t, tt.wantTimeout || tt.wantCancelled, gwErr.Indeterminate())
			assert.Equal(t, tt.wantExit, gwErr.ExitCode)
			assert.Len(t, tt.runner.calls, 1, "no retries")
			assert.NotContains(t, gwErr.Error(), "index.txt", "stderr stays out of the message")
		})
	}
}

func TestGateway_RejectsUnsafeClientID(t *testing.T) {
	r := &fakeRunner{res: &Result{}}
	g := newTestGateway(r)

	for _, id := range []string{"", "user 1", "user;rm -rf /", "../etc"} {
		err := g.MintClient(context.Background(), id)
		var gwErr *GatewayError
		assert.ErrorAs(t, err, &gwErr, "client id %q", id)
	}
	assert.Empty(t, r.calls)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecRunner_Success(t *testing.T) {
	script := writeScript(t, `echo "created $1"`)

	res, err := ExecRunner{}.Run(context.Background(), Command{Path: script, Args: []string{"user42"}, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "created user42\n", res.Stdout)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "boom" >&2; exit 3`)

	res, err := ExecRunner{}.Run(context.Background(), Command{Path: script, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", res.Stderr)
}

func TestExecRunner_Timeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)

	_, err := ExecRunner{}.Run(context.Background(), Command{Path: script, Timeout: 100 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Command{Path: filepath.Join(t.TempDir(), "missing.sh")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestExecRunner_Cancelled(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := ExecRunner{}.Run(ctx, Command{Path: script, Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestGateway_CancelledScriptIsIndeterminate(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	g := NewGateway(ExecRunner{}, script, script, 5*time.Second, logs.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err := g.RevokeClient(ctx, "user42")

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, gwErr.Cancelled)
	assert.True(t, gwErr.Indeterminate())
	assert.ErrorIs(t, err, context.Canceled)
}
