// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/telnetd/internal/connection"
	"github.com/holomush/telnetd/internal/session"
	"github.com/holomush/telnetd/internal/telnet"
	"github.com/holomush/telnetd/internal/terminal"
	"github.com/holomush/telnetd/pkg/errutil"
)

var refuseAll = []byte{
	telnet.IAC, telnet.DONT, telnet.OptEcho,
	telnet.IAC, telnet.WONT, telnet.OptNAWS,
	telnet.IAC, telnet.WONT, telnet.OptTerminalType,
}

// serve starts a manager running bridge and returns a negotiated client.
func serve(t *testing.T, bridge *session.Bridge) net.Conn {
	t.Helper()
	m, err := connection.NewManager(connection.Config{
		MaxConnections:     4,
		NegotiationTimeout: 50 * time.Millisecond,
		DisconnectTimeout:  2 * time.Second,
	}, bridge)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = ln.Close()
	}()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	server, ok := <-accepted
	require.True(t, ok)
	require.NoError(t, m.Admit(server))

	_, err = client.Write(refuseAll)
	require.NoError(t, err)
	return client
}

func readUntil(t *testing.T, conn net.Conn, want string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got []byte
	buf := make([]byte, 256)
	for !bytes.Contains(got, []byte(want)) {
		n, err := conn.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			t.Fatalf("reading for %q: %v (got %q)", want, err, got)
		}
	}
	return string(got)
}

func readToEOF(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(data)
}

type staticAuth map[string]string

func (a staticAuth) Authenticate(_ context.Context, user, password string) error {
	if want, ok := a[user]; ok && want == password {
		return nil
	}
	return errors.New("bad credentials")
}

func TestNewBridge_RequiresShell(t *testing.T) {
	_, err := session.NewBridge(session.Options{})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestBridge_RunsShellOverConnection(t *testing.T) {
	shell := session.ShellFunc(func(_ context.Context, sc session.Context, stdin io.Reader, stdout, _ io.Writer, args []string) error {
		v, ok := sc.Variable(session.VarTerminal)
		if !ok || v.(*terminal.Terminal) != sc.Terminal() {
			return errors.New("terminal variable not set")
		}
		fmt.Fprintf(stdout, "args=%s\n", strings.Join(args, ","))
		lr := terminal.NewLineReader(sc.Terminal())
		for {
			line, err := lr.ReadLine()
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "> %s\n", line)
		}
	})
	b, err := session.NewBridge(session.Options{Shell: shell, Args: []string{"-l", "x"}})
	require.NoError(t, err)

	client := serve(t, b)
	got := readUntil(t, client, "args=-l,x\r\n")
	assert.Contains(t, got, "args=-l,x\r\n")

	_, err = client.Write([]byte("status\r\n"))
	require.NoError(t, err)
	readUntil(t, client, "> status\r\n")
}

func TestContext_PropertyPrecedence(t *testing.T) {
	t.Setenv("TELNETD_TEST_PROP", "from-process")
	t.Setenv("TELNETD_TEST_SHADOWED", "from-process")

	shell := session.ShellFunc(func(_ context.Context, sc session.Context, _ io.Reader, stdout, _ io.Writer, _ []string) error {
		for _, name := range []string{"TELNETD_TEST_SHADOWED", "TERM", "COLUMNS", "TELNETD_TEST_PROP", "MISSING_PROP_X"} {
			v, ok := sc.Property(name)
			fmt.Fprintf(stdout, "%s=%s/%t\n", name, v, ok)
		}
		return nil
	})
	b, err := session.NewBridge(session.Options{
		Shell:      shell,
		Properties: map[string]string{"TELNETD_TEST_SHADOWED": "configured"},
	})
	require.NoError(t, err)

	got := readToEOF(t, serve(t, b))
	assert.Contains(t, got, "TELNETD_TEST_SHADOWED=configured/true")
	assert.Contains(t, got, "TERM=unknown/true")
	assert.Contains(t, got, "COLUMNS=80/true")
	assert.Contains(t, got, "TELNETD_TEST_PROP=from-process/true")
	assert.Contains(t, got, "MISSING_PROP_X=/false")
}

func TestContext_ExitClosesConnection(t *testing.T) {
	shell := session.ShellFunc(func(_ context.Context, sc session.Context, stdin io.Reader, stdout, _ io.Writer, _ []string) error {
		fmt.Fprintln(stdout, "bye")
		sc.Exit()
		_, err := io.Copy(io.Discard, stdin)
		return err
	})
	b, err := session.NewBridge(session.Options{Shell: shell})
	require.NoError(t, err)

	got := readToEOF(t, serve(t, b))
	assert.Contains(t, got, "bye\r\n")
}

func TestBridge_LoginSucceeds(t *testing.T) {
	shell := session.ShellFunc(func(_ context.Context, sc session.Context, _ io.Reader, stdout, _ io.Writer, _ []string) error {
		user, _ := sc.Property("USER")
		fmt.Fprintf(stdout, "welcome %s (%s)\n", sc.User(), user)
		return nil
	})
	b, err := session.NewBridge(session.Options{
		Shell:         shell,
		Authenticator: staticAuth{"alice": "secret"},
	})
	require.NoError(t, err)

	client := serve(t, b)
	readUntil(t, client, "login: ")
	_, err = client.Write([]byte("alice\r\n"))
	require.NoError(t, err)
	readUntil(t, client, "Password: ")
	_, err = client.Write([]byte("secret\r\n"))
	require.NoError(t, err)

	got := readToEOF(t, client)
	assert.Contains(t, got, "welcome alice (alice)")
	assert.NotContains(t, got, "secret")
}

func TestBridge_LoginFailuresCloseConnection(t *testing.T) {
	ran := make(chan struct{}, 1)
	shell := session.ShellFunc(func(context.Context, session.Context, io.Reader, io.Writer, io.Writer, []string) error {
		ran <- struct{}{}
		return nil
	})
	b, err := session.NewBridge(session.Options{
		Shell:         shell,
		Authenticator: staticAuth{"alice": "secret"},
		MaxAttempts:   2,
	})
	require.NoError(t, err)

	client := serve(t, b)
	_, err = client.Write([]byte("alice\r\nwrong\r\nbob\r\nsecret\r\n"))
	require.NoError(t, err)

	got := readToEOF(t, client)
	assert.Equal(t, 2, strings.Count(got, "Login incorrect\r\n"))
	assert.Contains(t, got, "Too many login failures\r\n")
	select {
	case <-ran:
		t.Fatal("shell ran after failed login")
	default:
	}
}

func TestBridge_BlankNamesUseUpAttempts(t *testing.T) {
	ran := make(chan struct{}, 1)
	shell := session.ShellFunc(func(context.Context, session.Context, io.Reader, io.Writer, io.Writer, []string) error {
		ran <- struct{}{}
		return nil
	})
	b, err := session.NewBridge(session.Options{
		Shell:         shell,
		Authenticator: staticAuth{"alice": "secret"},
		MaxAttempts:   2,
	})
	require.NoError(t, err)

	client := serve(t, b)
	_, err = client.Write([]byte("\r\n  \r\nalice\r\n"))
	require.NoError(t, err)

	got := readToEOF(t, client)
	assert.Equal(t, 2, strings.Count(got, "login: "))
	assert.NotContains(t, got, "Password: ")
	assert.Contains(t, got, "Too many login failures\r\n")
	select {
	case <-ran:
		t.Fatal("shell ran after blank logins")
	default:
	}
}

func TestBridge_LoginInterruptedEndsQuietly(t *testing.T) {
	b, err := session.NewBridge(session.Options{
		Shell:         session.ShellFunc(func(context.Context, session.Context, io.Reader, io.Writer, io.Writer, []string) error { return nil }),
		Authenticator: staticAuth{},
	})
	require.NoError(t, err)

	client := serve(t, b)
	readUntil(t, client, "login: ")
	_, err = client.Write([]byte{0x03})
	require.NoError(t, err)

	got := readToEOF(t, client)
	assert.NotContains(t, got, "Login incorrect")
}

func TestBridge_ShellErrorEndsSession(t *testing.T) {
	shell := session.ShellFunc(func(context.Context, session.Context, io.Reader, io.Writer, io.Writer, []string) error {
		return errors.New("shell exploded")
	})
	b, err := session.NewBridge(session.Options{Shell: shell})
	require.NoError(t, err)

	readToEOF(t, serve(t, b))
}
