// Package connection abstracts how modules reach a host: command execution
// plus a small filesystem surface.
package connection

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/ssh"
	"github.com/eniac111/plumbapi/internal/types"
)

// ExecResult is the outcome of one command.
type ExecResult struct {
	Stdout string
	Stderr string
	RC     int
}

// Filesystem is the file surface the file and copy modules need.
type Filesystem interface {
	Lstat(path string) (fs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	MkdirAll(path string) error
	RemoveAll(path string) error
	Symlink(oldname, newname string) error
	Link(oldname, newname string) error
	Chmod(path string, mode fs.FileMode) error
	Chtimes(path string, atime, mtime time.Time) error
}

// Connection is an open channel to one host.
type Connection interface {
	// Exec runs cmd through the host's shell. A non-zero exit status is
	// reported in ExecResult.RC, not as an error.
	Exec(ctx context.Context, cmd string) (ExecResult, error)
	FS() (Filesystem, error)
	Close() error
}

// Options are the run-level connection defaults.
type Options struct {
	Connection string // default transport, "local" or "ssh"
	RemoteUser string
	KeyPath    string
	Password   string
	Timeout    time.Duration
}

// Opener opens a connection to a host. The executor depends on this
// signature so tests can substitute their own transport.
type Opener func(ctx context.Context, host types.Host, opts Options, log *logger.Logger) (Connection, error)

// Open picks the transport from the host, falling back to opts.Connection.
func Open(ctx context.Context, host types.Host, opts Options, log *logger.Logger) (Connection, error) {
	kind := host.Connection
	if kind == "" {
		kind = opts.Connection
	}

	switch kind {
	case "", "local":
		return Local(), nil
	case "ssh":
		client, err := ssh.Connect(ctx, host, ssh.ConnectOptions{
			User:     opts.RemoteUser,
			Password: opts.Password,
			KeyPath:  opts.KeyPath,
			Timeout:  opts.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return &sshConn{client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported connection type %q", kind)
	}
}
