// Package sshtest runs an in-process SSH server for transport tests.
//
// Commands are executed on the local machine through "sh -c" and the sftp
// subsystem is served from the local filesystem.
package sshtest

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os/exec"
	"strconv"
	"testing"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/pkg/sftp"
)

// Server is a running test server.
type Server struct {
	Host     string
	Port     int
	User     string
	Password string

	srv *gliderssh.Server
}

// Start listens on a loopback port and accepts password auth for
// user/password. The server is closed when the test ends.
func Start(t testing.TB, user, password string) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &gliderssh.Server{
		Handler: handleExec,
		PasswordHandler: func(ctx gliderssh.Context, pass string) bool {
			return ctx.User() == user && pass == password
		},
		SubsystemHandlers: map[string]gliderssh.SubsystemHandler{
			"sftp": handleSFTP,
		},
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &Server{Host: host, Port: port, User: user, Password: password, srv: srv}
}

func handleExec(sess gliderssh.Session) {
	cmd := exec.Command("sh", "-c", sess.RawCommand())
	var stderr bytes.Buffer
	cmd.Stdout = sess
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = 255
		}
	}
	_, _ = io.Copy(sess.Stderr(), &stderr)
	_ = sess.Exit(code)
}

func handleSFTP(sess gliderssh.Session) {
	server, err := sftp.NewServer(sess)
	if err != nil {
		_ = sess.Exit(1)
		return
	}
	if err := server.Serve(); err == io.EOF {
		_ = server.Close()
	}
}
