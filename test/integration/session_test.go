// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/telnetd/internal/auth"
	"github.com/holomush/telnetd/internal/connection"
	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/internal/session"
	"github.com/holomush/telnetd/internal/shell"
	"github.com/holomush/telnetd/internal/telnet"
)

const greetScript = `
commands = {}
commands.greet = {
  help = "say hello",
  run = function(args)
    return "hello, " .. (args[1] or session.user())
  end,
}
`

// client is a scripted telnet peer.
type client struct {
	conn net.Conn
	seen []byte
}

func dial(st daemon.Status) *client {
	conn, err := net.Dial("tcp", net.JoinHostPort(st.IP, strconv.Itoa(st.Port)))
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = conn.Close() })
	return &client{conn: conn}
}

func (c *client) send(p ...byte) {
	_, err := c.conn.Write(p)
	Expect(err).NotTo(HaveOccurred())
}

func (c *client) line(s string) {
	c.send([]byte(s + "\r\n")...)
}

// negotiate answers the server's opening offers with a 100x40 xterm.
func (c *client) negotiate() {
	c.send(telnet.IAC, telnet.DO, telnet.OptEcho,
		telnet.IAC, telnet.DO, telnet.OptSuppressGoAhead,
		telnet.IAC, telnet.WILL, telnet.OptNAWS,
		telnet.IAC, telnet.SB, telnet.OptNAWS, 0, 100, 0, 40, telnet.IAC, telnet.SE,
		telnet.IAC, telnet.WILL, telnet.OptTerminalType)
	c.send(append(append([]byte{telnet.IAC, telnet.SB, telnet.OptTerminalType, 0}, "xterm"...), telnet.IAC, telnet.SE)...)
}

// expect reads until want has been seen since the last call.
func (c *client) expect(want string) {
	Expect(c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	buf := make([]byte, 512)
	for !bytes.Contains(c.seen, []byte(want)) {
		n, err := c.conn.Read(buf)
		c.seen = append(c.seen, buf[:n]...)
		Expect(err).NotTo(HaveOccurred(), "waiting for %q, got %q", want, c.seen)
	}
	i := bytes.Index(c.seen, []byte(want))
	c.seen = c.seen[i+len(want):]
}

// drain reads to EOF and returns everything not yet consumed.
func (c *client) drain() string {
	Expect(c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	rest, err := io.ReadAll(c.conn)
	Expect(err).NotTo(HaveOccurred())
	return string(append(c.seen, rest...))
}

func startDaemon(cfg connection.Config, authenticator session.Authenticator) *daemon.Controller {
	logger := slog.New(slog.DiscardHandler)

	registry := shell.NewRegistry(logger)
	Expect(shell.RegisterBuiltins(registry)).To(Succeed())
	script, err := shell.CompileScript("greet.lua", []byte(greetScript))
	Expect(err).NotTo(HaveOccurred())
	Expect(script.Register(context.Background(), registry)).To(Succeed())
	gosh, err := shell.New(shell.Options{Registry: registry, Logger: logger})
	Expect(err).NotTo(HaveOccurred())

	bridge, err := session.NewBridge(session.Options{
		Shell:         gosh,
		Authenticator: authenticator,
		Logger:        logger,
	})
	Expect(err).NotTo(HaveOccurred())

	ctrl, err := daemon.New(daemon.Options{Connections: cfg, Handler: bridge, Logger: logger})
	Expect(err).NotTo(HaveOccurred())
	Expect(ctrl.Start(context.Background(), "127.0.0.1", 0)).To(Succeed())
	DeferCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Stop(ctx)
	})
	return ctrl
}

var _ = Describe("telnet sessions", func() {
	var users map[string]string

	BeforeEach(func() {
		hash, err := auth.NewArgon2idHasher().Hash("secret")
		Expect(err).NotTo(HaveOccurred())
		users = map[string]string{"alice": hash}
	})

	Describe("with a login", func() {
		var ctrl *daemon.Controller

		BeforeEach(func() {
			authenticator, err := auth.NewStatic(users, auth.StaticOptions{})
			Expect(err).NotTo(HaveOccurred())
			ctrl = startDaemon(connection.DefaultConfig(), authenticator)
		})

		It("negotiates the terminal and runs builtin and script commands", func() {
			c := dial(ctrl.Status())
			c.negotiate()

			c.expect("login: ")
			c.line("alice")
			c.expect("Password: ")
			c.line("secret")
			c.expect("g! ")

			c.line("size")
			c.expect("100x40\r\n")
			c.line("term")
			c.expect("xterm\r\n")
			c.line("greet")
			c.expect("hello, alice\r\n")
			c.line(`echo "two words" again`)
			c.expect("two words again\r\n")

			c.line("exit")
			Expect(c.drain()).NotTo(ContainSubstring("g! "))
		})

		It("gives up after repeated failures", func() {
			c := dial(ctrl.Status())
			c.negotiate()
			for range session.DefaultMaxAttempts {
				c.expect("login: ")
				c.line("alice")
				c.expect("Password: ")
				c.line("wrong")
			}
			Expect(c.drain()).To(ContainSubstring("Too many login failures"))
		})
	})

	Describe("without negotiation", func() {
		It("falls back to defaults once the deadline passes", func() {
			cfg := connection.DefaultConfig()
			cfg.NegotiationTimeout = 100 * time.Millisecond
			ctrl := startDaemon(cfg, nil)

			c := dial(ctrl.Status())
			c.expect("g! ")
			c.line("size")
			c.expect("80x24\r\n")
			c.line("term")
			c.expect("unknown\r\n")
		})
	})

	Describe("idle connections", func() {
		It("closes a silent client after the disconnect timeout", func() {
			cfg := connection.DefaultConfig()
			cfg.NegotiationTimeout = 50 * time.Millisecond
			cfg.WarningTimeout = 100 * time.Millisecond
			cfg.DisconnectTimeout = 300 * time.Millisecond
			cfg.HousekeepingInterval = 20 * time.Millisecond
			ctrl := startDaemon(cfg, nil)

			c := dial(ctrl.Status())
			start := time.Now()
			c.drain()
			Expect(time.Since(start)).To(BeNumerically("<", 3*time.Second))
		})
	})

	Describe("admission", func() {
		It("turns away clients beyond the connection limit", func() {
			cfg := connection.DefaultConfig()
			cfg.MaxConnections = 1
			ctrl := startDaemon(cfg, nil)

			first := dial(ctrl.Status())
			first.negotiate()
			first.expect("g! ")

			second := dial(ctrl.Status())
			Expect(second.drain()).To(ContainSubstring("server busy"))
		})
	})
})
