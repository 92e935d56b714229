package sshutil

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"

	"fleetwatch/internal/errors"
)

// Exec runs a command on the remote host and returns the output.
// Returns stdout, stderr, exit code, and any error.
// Exit code is -1 if the command couldn't be executed at all.
// A non-zero exit code with nil error means the command ran but failed.
func (c *Client) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	exitCode = 0
	err = session.Run(cmd)
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
			err = nil // Command ran, just had non-zero exit
		} else {
			return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Failed to execute command: %s", cmd),
				"Check if the command exists on the remote host.")
		}
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitCode, nil
}

// execResult carries one command's outcome across the goroutine boundary.
type execResult struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	err      error
}

// ExecContext runs a command like Exec but honors context cancellation.
// When the context expires the session is closed to unblock the remote
// command; the connection itself may be left in an unusable state and
// should be discarded by the caller.
func (c *Client) ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	resultCh := make(chan execResult, 1)
	go func() {
		runErr := session.Run(cmd)
		code := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				code = exitErr.ExitStatus()
				runErr = nil
			} else {
				code = -1
				runErr = errors.WrapWithCode(runErr, errors.ErrSSH,
					fmt.Sprintf("Failed to execute command: %s", cmd),
					"Check if the command exists on the remote host.")
			}
		}
		resultCh <- execResult{
			stdout:   stdoutBuf.Bytes(),
			stderr:   stderrBuf.Bytes(),
			exitCode: code,
			err:      runErr,
		}
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, nil, -1, errors.WrapWithCode(ctx.Err(), errors.ErrSSH,
			fmt.Sprintf("Command timed out: %s", cmd),
			"The host may be overloaded or unreachable.")
	case r := <-resultCh:
		_ = session.Close()
		return r.stdout, r.stderr, r.exitCode, r.err
	}
}
