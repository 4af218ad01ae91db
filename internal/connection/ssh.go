package connection

import (
	"context"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/eniac111/plumbapi/internal/ssh"
	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
)

type sshConn struct {
	client *cryptossh.Client

	once    sync.Once
	sftp    *sftp.Client
	sftpErr error
}

// NewSSH wraps an established SSH client.
func NewSSH(client *cryptossh.Client) Connection {
	return &sshConn{client: client}
}

func (c *sshConn) Exec(ctx context.Context, cmd string) (ExecResult, error) {
	stdout, stderr, rc, err := ssh.RunCommand(ctx, c.client, cmd)
	return ExecResult{Stdout: stdout, Stderr: stderr, RC: rc}, err
}

// FS starts one SFTP session on first use and reuses it.
func (c *sshConn) FS() (Filesystem, error) {
	c.once.Do(func() {
		c.sftp, c.sftpErr = ssh.NewSFTP(c.client)
	})
	if c.sftpErr != nil {
		return nil, c.sftpErr
	}
	return sftpFS{c.sftp}, nil
}

func (c *sshConn) Close() error {
	if c.sftp != nil {
		_ = c.sftp.Close()
	}
	return c.client.Close()
}

type sftpFS struct {
	c *sftp.Client
}

func (f sftpFS) Lstat(path string) (fs.FileInfo, error) { return f.c.Lstat(path) }

func (f sftpFS) ReadFile(path string) ([]byte, error) {
	file, err := f.c.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (f sftpFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return ssh.UploadBytes(f.c, data, path, perm)
}

func (f sftpFS) MkdirAll(path string) error { return f.c.MkdirAll(path) }

func (f sftpFS) RemoveAll(path string) error { return f.c.RemoveAll(path) }

func (f sftpFS) Symlink(oldname, newname string) error { return f.c.Symlink(oldname, newname) }

func (f sftpFS) Link(oldname, newname string) error { return f.c.Link(oldname, newname) }

func (f sftpFS) Chmod(path string, mode fs.FileMode) error { return f.c.Chmod(path, mode) }

func (f sftpFS) Chtimes(path string, atime, mtime time.Time) error {
	return f.c.Chtimes(path, atime, mtime)
}
