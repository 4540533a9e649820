package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes an SSH hop in front of a receiver whose control port
// is not reachable directly, e.g. a unit on a remote site network.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
	Timeout  time.Duration
}

// SSHTunnel dials the receiver's control port through an SSH hop. Its Dial
// method satisfies the transport DialFunc, so it slots straight into
// TCPOptions.Dial.
type SSHTunnel struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHTunnel validates configuration and prepares a tunnel instance. The
// SSH connection itself is established lazily on the first Dial.
func NewSSHTunnel(cfg SSHConfig) (*SSHTunnel, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Password == "" && cfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh password or key path is required")
	}
	return &SSHTunnel{cfg: cfg}, nil
}

// Dial opens a forwarded connection to addr through the SSH hop.
func (t *SSHTunnel) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", addr, err)
	}
	return conn, nil
}

// Close shuts down the SSH hop. Forwarded connections die with it.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *SSHTunnel) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	auth, err := t.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User: t.cfg.User,
		Auth: auth,
		// Receivers live on closed site networks with unmanaged host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.cfg.Timeout,
	}

	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))
	d := net.Dialer{Timeout: t.cfg.Timeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh host %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(raw, addr, config)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	t.client = ssh.NewClient(sshConn, chans, reqs)
	return t.client, nil
}

func (t *SSHTunnel) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if t.cfg.KeyPath != "" {
		key, err := os.ReadFile(t.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.cfg.Password != "" {
		methods = append(methods, ssh.Password(t.cfg.Password))
	}
	return methods, nil
}
