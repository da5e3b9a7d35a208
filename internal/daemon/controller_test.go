// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package daemon_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"gopkg.in/yaml.v3"

	"github.com/holomush/telnetd/internal/connection"
	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/internal/telnet"
	"github.com/holomush/telnetd/internal/terminal"
	"github.com/holomush/telnetd/pkg/errutil"
)

// echoHandler repeats every line back to the client.
var echoHandler = connection.HandlerFuncs{
	Serve: func(_ context.Context, c *connection.Connection) error {
		lr := terminal.NewLineReader(c.Terminal())
		for {
			line, err := lr.ReadLine()
			if err != nil {
				return err
			}
			if _, err := c.Stream().WriteString("echo: " + line + "\n"); err != nil {
				return err
			}
			if err := c.Stream().Flush(); err != nil {
				return err
			}
		}
	},
}

func testOptions() daemon.Options {
	return daemon.Options{
		Handler: echoHandler,
		Connections: connection.Config{
			MaxConnections:     4,
			NegotiationTimeout: 50 * time.Millisecond,
			DisconnectTimeout:  2 * time.Second,
		},
	}
}

var _ = Describe("Controller", func() {
	var (
		ctx  context.Context
		ctrl *daemon.Controller
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		ctrl, err = daemon.New(testOptions())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if ctrl.Status().Running() {
			Expect(ctrl.Stop(ctx)).To(Succeed())
		}
	})

	Describe("New", func() {
		It("requires a session handler", func() {
			_, err := daemon.New(daemon.Options{})
			Expect(errutil.Code(err)).To(Equal(daemon.CodeUsage))
		})
	})

	Describe("Start", func() {
		It("starts on the default endpoint", func() {
			err := ctrl.Start(ctx, "", daemon.DefaultPort)
			if errutil.Code(err) == daemon.CodeBindFailed {
				Skip("default port " + strconv.Itoa(daemon.DefaultPort) + " is in use")
			}
			Expect(err).NotTo(HaveOccurred())

			st := ctrl.Status()
			Expect(st.State).To(Equal(daemon.StateRunning))
			Expect(st.IP).To(Equal("127.0.0.1"))
			Expect(st.Port).To(Equal(2019))

			Expect(ctrl.Stop(ctx)).To(Succeed())
			Expect(ctrl.Status().State).To(Equal(daemon.StateNotRunning))
		})

		It("reports the bound port when given port 0", func() {
			Expect(ctrl.Start(ctx, "127.0.0.1", 0)).To(Succeed())
			st := ctrl.Status()
			Expect(st.Port).To(BeNumerically(">", 0))
			Expect(st.Since).NotTo(BeZero())
		})

		It("fails with ALREADY_RUNNING when running", func() {
			Expect(ctrl.Start(ctx, "127.0.0.1", 0)).To(Succeed())
			port := ctrl.Status().Port

			err := ctrl.Start(ctx, "127.0.0.1", 0)
			Expect(errutil.Code(err)).To(Equal(daemon.CodeAlreadyRunning))
			Expect(err.Error()).To(ContainSubstring("already running on port " + strconv.Itoa(port)))
			Expect(ctrl.Status().Port).To(Equal(port))
		})

		It("rejects a bad endpoint with USAGE", func() {
			Expect(errutil.Code(ctrl.Start(ctx, "not-an-ip", 0))).To(Equal(daemon.CodeUsage))
			Expect(errutil.Code(ctrl.Start(ctx, "127.0.0.1", 70000))).To(Equal(daemon.CodeUsage))
			Expect(ctrl.Status().Running()).To(BeFalse())
		})

		It("stays NOT_RUNNING when the port cannot be bound", func() {
			held, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = held.Close() }()
			port := held.Addr().(*net.TCPAddr).Port

			err = ctrl.Start(ctx, "127.0.0.1", port)
			Expect(errutil.Code(err)).To(Equal(daemon.CodeBindFailed))
			Expect(ctrl.Status().State).To(Equal(daemon.StateNotRunning))
		})
	})

	Describe("Stop", func() {
		It("fails with NOT_RUNNING and leaves state unchanged", func() {
			err := ctrl.Stop(ctx)
			Expect(errutil.Code(err)).To(Equal(daemon.CodeNotRunning))
			Expect(ctrl.Status()).To(Equal(daemon.Status{State: daemon.StateNotRunning}))
		})

		It("returns to NOT_RUNNING after start then stop", func() {
			Expect(ctrl.Start(ctx, "127.0.0.1", 0)).To(Succeed())
			Expect(ctrl.Stop(ctx)).To(Succeed())
			Expect(ctrl.Status().State).To(Equal(daemon.StateNotRunning))
		})

		It("can start again after stopping", func() {
			Expect(ctrl.Start(ctx, "127.0.0.1", 0)).To(Succeed())
			Expect(ctrl.Stop(ctx)).To(Succeed())
			Expect(ctrl.Start(ctx, "127.0.0.1", 0)).To(Succeed())
			Expect(ctrl.Status().Running()).To(BeTrue())
		})
	})

	Describe("serving", func() {
		var client net.Conn

		BeforeEach(func() {
			Expect(ctrl.Start(ctx, "127.0.0.1", 0)).To(Succeed())
			st := ctrl.Status()
			var err error
			client, err = net.Dial("tcp", net.JoinHostPort(st.IP, strconv.Itoa(st.Port)))
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Write([]byte{
				telnet.IAC, telnet.DONT, telnet.OptEcho,
				telnet.IAC, telnet.WONT, telnet.OptNAWS,
				telnet.IAC, telnet.WONT, telnet.OptTerminalType,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = client.Close()
		})

		It("runs a session per connection", func() {
			_, err := client.Write([]byte("ping\r\n"))
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SetReadDeadline(time.Now().Add(3 * time.Second))).To(Succeed())
			r := bufio.NewReader(client)
			var line string
			for !strings.Contains(line, "echo: ping") {
				line, err = r.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(ctrl.Status().Connections).To(Equal(1))
		})

		It("closes live connections on stop", func() {
			Eventually(func() int { return ctrl.Status().Connections }).Should(Equal(1))
			Expect(ctrl.Stop(ctx)).To(Succeed())

			Expect(client.SetReadDeadline(time.Now().Add(3 * time.Second))).To(Succeed())
			_, err := io.ReadAll(client)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Status", func() {
		It("renders the state by name", func() {
			Expect(ctrl.Start(ctx, "127.0.0.1", 0)).To(Succeed())

			data, err := json.Marshal(ctrl.Status())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"state":"RUNNING"`))

			out, err := yaml.Marshal(daemon.Status{State: daemon.StateNotRunning})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(Equal("state: NOT_RUNNING\nconnections: 0\n"))

			var st daemon.Status
			Expect(json.Unmarshal(data, &st)).To(Succeed())
			Expect(st.State).To(Equal(daemon.StateRunning))
		})
	})
})
