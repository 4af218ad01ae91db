package connection

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"time"
)

type localConn struct{}

// Local returns a connection that runs everything on this machine.
func Local() Connection {
	return localConn{}
}

func (localConn) Exec(ctx context.Context, cmd string) (ExecResult, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	var outBuf, errBuf bytes.Buffer
	c.Stdout = &outBuf
	c.Stderr = &errBuf

	err := c.Run()
	res := ExecResult{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.RC = exitErr.ExitCode()
			return res, nil
		}
		res.RC = -1
		return res, err
	}
	return res, nil
}

func (localConn) FS() (Filesystem, error) {
	return osFS{}, nil
}

func (localConn) Close() error {
	return nil
}

// osFS is the local filesystem.
type osFS struct{}

func (osFS) Lstat(path string) (fs.FileInfo, error) { return os.Lstat(path) }

func (osFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (osFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}
	// WriteFile leaves the mode of an existing file alone
	return os.Chmod(path, perm)
}

func (osFS) MkdirAll(path string) error { return os.MkdirAll(path, 0o755) }

func (osFS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (osFS) Symlink(oldname, newname string) error { return os.Symlink(oldname, newname) }

func (osFS) Link(oldname, newname string) error { return os.Link(oldname, newname) }

func (osFS) Chmod(path string, mode fs.FileMode) error { return os.Chmod(path, mode) }

func (osFS) Chtimes(path string, atime, mtime time.Time) error {
	return os.Chtimes(path, atime, mtime)
}
