package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/types"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ConnectOptions fills in what the inventory host leaves unset.
type ConnectOptions struct {
	User     string
	Password string
	KeyPath  string
	Timeout  time.Duration
}

// Connect opens an SSH connection using user/password or user/key auth.
// Host values win over opts. The default key and the SSH agent are tried
// as well.
func Connect(ctx context.Context, host types.Host, opts ConnectOptions, log *logger.Logger) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod

	password := host.Password
	if password == "" {
		password = opts.Password
	}
	if password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}

	keyPath := host.KeyPath
	if keyPath == "" {
		keyPath = opts.KeyPath
	}
	if keyPath != "" {
		signer, err := loadSigner(keyPath)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	// Always try to use the default SSH key if no key path is provided
	if keyPath == "" {
		if defaultKeyPath, err := defaultKey(); err == nil {
			if signer, err := loadSigner(defaultKeyPath); err == nil {
				authMethods = append(authMethods, ssh.PublicKeys(signer))
				log.Debugf("using default SSH key %s", defaultKeyPath)
			} else {
				log.Tracef("default SSH key not used: %v", err)
			}
		}
	}

	// Always try to use the SSH agent
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if sshAgent, err := net.Dial("unix", sock); err == nil {
			// The agent is only consulted during the handshake below.
			defer sshAgent.Close()
			authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(sshAgent).Signers))
			log.Debugf("using SSH agent")
		} else {
			log.Tracef("failed to connect to SSH agent: %v", err)
		}
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	remoteUser := host.User
	if remoteUser == "" {
		remoteUser = opts.User
	}

	config := &ssh.ClientConfig{
		User:            remoteUser,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: verify against known_hosts once inventories carry host keys
		Timeout:         opts.Timeout,
	}

	port := host.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host.Addr(), strconv.Itoa(port))

	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	if opts.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func defaultKey() (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join(usr.HomeDir, ".ssh", "id_rsa"), nil
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	return signer, nil
}

// NewSFTP opens an SFTP session over an existing SSH connection.
func NewSFTP(sshClient *ssh.Client) (*sftp.Client, error) {
	c, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp: %w", err)
	}
	return c, nil
}

// UploadBytes uses SFTP to copy in-memory bytes to a remote file.
func UploadBytes(sftpClient *sftp.Client, data []byte, remotePath string, perm os.FileMode) error {
	dstFile, err := sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := dstFile.Write(data); err != nil {
		return err
	}
	if perm != 0 {
		return sftpClient.Chmod(remotePath, perm)
	}
	return nil
}

// RunCommand executes a command on the remote host via SSH and returns
// stdout, stderr and the exit status. A non-zero exit status is not an
// error; err is only set when the command could not be run.
func RunCommand(ctx context.Context, sshClient *ssh.Client, cmd string) (string, string, int, error) {
	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", -1, err
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return "", "", -1, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return "", "", -1, err
	}

	if err := session.Start(cmd); err != nil {
		return "", "", -1, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
			_ = session.Close()
		case <-done:
		}
	}()

	// drain both pipes before Wait, or a full buffer blocks the remote side
	errCh := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(stderr)
		errCh <- b
	}()
	outBytes, _ := io.ReadAll(stdout)
	errBytes := <-errCh

	if err := session.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return string(outBytes), string(errBytes), exitErr.ExitStatus(), nil
		}
		return string(outBytes), string(errBytes), -1, err
	}
	return string(outBytes), string(errBytes), 0, nil
}
