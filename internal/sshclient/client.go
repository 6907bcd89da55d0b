// Package sshclient executes single commands on remote routers over SSH.
//
// Every call dials a fresh connection. The devices this daemon manages drop
// their connections on reboot and on firmware flash, so held sessions buy
// nothing and hide stale state. Auth is password only; the fleet's routers
// expose no other method.
package sshclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"fotad.sh/internal/ferrors"
)

// DefaultPort is used when a target does not name a port.
const DefaultPort = 22

// Target identifies one router and the credentials to reach it.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Runner executes one command on a remote target. The probe depends on this
// interface rather than Client so tests can substitute a fake device.
type Runner interface {
	Run(ctx context.Context, target Target, command string, timeout time.Duration) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, target Target, command string, timeout time.Duration) (string, error)

func (f RunnerFunc) Run(ctx context.Context, target Target, command string, timeout time.Duration) (string, error) {
	return f(ctx, target, command, timeout)
}

// Client dials routers and runs commands through one-shot SSH sessions.
type Client struct {
	connectTimeout time.Duration
	logger         *slog.Logger
}

// New returns a client whose dials and handshakes are bounded by
// connectTimeout. Zero means no bound.
func New(connectTimeout time.Duration) *Client {
	return &Client{
		connectTimeout: connectTimeout,
		logger:         slog.With("component", "sshclient"),
	}
}

// Run executes command on the target and returns its stdout with surrounding
// whitespace trimmed. timeout bounds the command itself, not the dial. A
// non-zero exit comes back as ErrCodeCommandFailed with stdout still
// populated, because several RutOS tools print usable output and then exit
// non-zero.
func (c *Client) Run(ctx context.Context, target Target, command string, timeout time.Duration) (string, error) {
	start := time.Now()

	client, err := c.dial(ctx, target)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", classifyRunErr(err, "")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(command) }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err = <-runErr:
	case <-timeoutCh:
		// Closing the client unblocks session.Run.
		client.Close()
		<-runErr
		c.logger.Debug("command timed out",
			"host", target.Host, "command", command, "timeout", timeout)
		return strings.TrimSpace(stdout.String()), ferrors.Newf(ferrors.ErrCodeTimeout,
			"command timed out after %s", timeout)
	case <-ctx.Done():
		client.Close()
		<-runErr
		return strings.TrimSpace(stdout.String()), ferrors.Wrapf(ctx.Err(), ferrors.ErrCodeTimeout,
			"command aborted")
	}

	c.logger.Debug("command finished",
		"host", target.Host, "command", command,
		"duration", time.Since(start), "failed", err != nil)

	if err != nil {
		return strings.TrimSpace(stdout.String()), classifyRunErr(err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *Client) dial(ctx context.Context, target Target) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.connectTimeout,
	}
	// Older RutOS builds still negotiate SHA-1 era algorithms. Extend the
	// library defaults rather than replace them so current firmware keeps
	// current crypto.
	cfg.SetDefaults()
	cfg.KeyExchanges = append(cfg.KeyExchanges, "diffie-hellman-group1-sha1")
	cfg.Ciphers = append(cfg.Ciphers, "3des-cbc")
	cfg.MACs = append(cfg.MACs, "hmac-sha1")
	cfg.HostKeyAlgorithms = []string{
		ssh.KeyAlgoED25519,
		ssh.KeyAlgoECDSA256,
		ssh.KeyAlgoECDSA384,
		ssh.KeyAlgoECDSA521,
		ssh.KeyAlgoRSASHA512,
		ssh.KeyAlgoRSASHA256,
		ssh.KeyAlgoRSA,
	}

	addr := target.Addr()
	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialErr(err, addr)
	}

	// The SSH handshake takes no context; a deadline on the raw connection
	// bounds it instead.
	if c.connectTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.connectTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeErr(err, addr)
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func classifyDialErr(err error, addr string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ferrors.Wrapf(err, ferrors.ErrCodeConnectRefused,
			"connection refused by %s", addr)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ferrors.Wrapf(err, ferrors.ErrCodeTimeout, "connect to %s aborted", addr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ferrors.Wrapf(err, ferrors.ErrCodeTimeout, "connect to %s timed out", addr)
	}
	return ferrors.Wrapf(err, ferrors.ErrCodeUnreachable, "failed to reach %s", addr)
}

func classifyHandshakeErr(err error, addr string) error {
	// x/crypto/ssh reports rejected auth as a plain string; there is no
	// typed error to match.
	if strings.Contains(err.Error(), "unable to authenticate") {
		return ferrors.Wrapf(err, ferrors.ErrCodeAuthFailed,
			"authentication rejected by %s", addr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ferrors.Wrapf(err, ferrors.ErrCodeTimeout,
			"ssh handshake with %s timed out", addr)
	}
	return ferrors.Wrapf(err, ferrors.ErrCodeUnreachable,
		"ssh handshake with %s failed", addr)
}

func classifyRunErr(err error, stderr string) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		e := ferrors.Newf(ferrors.ErrCodeCommandFailed,
			"command exited with status %d", exitErr.ExitStatus()).
			WithMetadata("exit_status", exitErr.ExitStatus())
		if stderr != "" {
			e = e.WithMetadata("stderr", stderr)
		}
		return e
	}

	var missing *ssh.ExitMissingError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return ferrors.Wrapf(err, ferrors.ErrCodeConnectionClosed,
			"connection closed during command")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ferrors.Wrapf(err, ferrors.ErrCodeTimeout, "command timed out")
	}

	// Unrecognized failures stay command failures so the flash step cannot
	// mistake them for the expected reboot disconnect.
	return ferrors.Wrapf(err, ferrors.ErrCodeCommandFailed, "command failed")
}
