// Package remote runs plan commands on the managed host over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/joescharf/opsassist/internal/executor"
	"github.com/joescharf/opsassist/internal/models"
)

// Config describes how to reach the managed host.
type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSHTransport implements executor.Transport. It connects lazily and opens
// one SSH session per command.
type SSHTransport struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	client *ssh.Client
}

var _ executor.Transport = (*SSHTransport)(nil)

// NewSSHTransport returns a transport for cfg. No connection is made until
// the first command.
func NewSSHTransport(cfg Config, logger *zap.Logger) *SSHTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &SSHTransport{cfg: cfg, logger: logger}
}

func (t *SSHTransport) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if t.cfg.KeyFile != "" {
		key, err := os.ReadFile(t.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if t.cfg.Password != "" {
		auth = append(auth, ssh.Password(t.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh credentials configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if t.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(t.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		hostKey = cb
	} else {
		t.logger.Warn("ssh host key verification disabled", zap.String("host", t.cfg.Host))
	}

	return &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         t.cfg.DialTimeout,
	}, nil
}

func (t *SSHTransport) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	cc, err := t.clientConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", models.ErrTransport, t.cfg.addr(), err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, t.cfg.addr(), cc)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake %s: %v", models.ErrTransport, t.cfg.addr(), err)
	}
	t.client = ssh.NewClient(c, chans, reqs)
	t.logger.Info("ssh connected", zap.String("addr", t.cfg.addr()), zap.String("user", t.cfg.User))
	return t.client, nil
}

// drop discards a client that failed, so the next command reconnects.
func (t *SSHTransport) drop(c *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == c {
		t.client.Close()
		t.client = nil
	}
}

func (t *SSHTransport) session(ctx context.Context) (*ssh.Session, error) {
	for attempt := 0; ; attempt++ {
		c, err := t.connect(ctx)
		if err != nil {
			return nil, err
		}
		s, err := c.NewSession()
		if err == nil {
			return s, nil
		}
		t.drop(c)
		if attempt > 0 {
			return nil, fmt.Errorf("%w: open session: %v", models.ErrTransport, err)
		}
		t.logger.Debug("ssh session failed, reconnecting", zap.Error(err))
	}
}

// Execute runs command and reports its output and exit status. A non-zero
// exit is an Outcome, not an error. Exceeding timeout returns an error
// wrapping models.ErrTimeoutExceeded.
func (t *SSHTransport) Execute(ctx context.Context, command string, timeout time.Duration) (executor.Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s, err := t.session(ctx)
	if err != nil {
		return executor.Outcome{}, err
	}
	defer s.Close()

	var stdout, stderr bytes.Buffer
	s.Stdout = &stdout
	s.Stderr = &stderr

	if err := s.Start(command); err != nil {
		return executor.Outcome{}, fmt.Errorf("%w: start: %v", models.ErrTransport, err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = s.Signal(ssh.SIGKILL)
		s.Close()
		<-done
		out := executor.Outcome{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%q: %w", command, models.ErrTimeoutExceeded)
		}
		return out, ctx.Err()
	}

	out := executor.Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
		return out, nil
	}
	return out, fmt.Errorf("%w: %v", models.ErrTransport, err)
}

// Close drops the connection.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
