// Package sshexectest runs a minimal in-process SSH server for tests.
//
// The server accepts one public key, records every exec request together
// with its stdin, and answers with a scripted exit status.
package sshexectest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// User is the login identity the test server accepts.
const User = "deploy"

// errUnauthorized rejects unknown users and keys during the handshake.
var errUnauthorized = errors.New("unauthorized")

// Call is one recorded exec request.
type Call struct {
	// Command is the requested command line.
	Command string
	// Stdin is everything the client streamed to the command.
	Stdin []byte
}

// Server is a running test SSH server.
type Server struct {
	// Host and Port form the listen address.
	Host string
	Port int
	// ClientKeyPEM is the private key the server accepts, in PEM form.
	ClientKeyPEM string
	// Handle decides the response for a command. Defaults to success
	// with no output.
	Handle func(call Call) (exitCode int, stdout, stderr string)

	mu    sync.Mutex
	calls []Call
}

// Calls returns the recorded exec requests in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

// Start launches the server on a loopback port and registers cleanup with
// the test.
func Start(t *testing.T) *Server {
	t.Helper()

	clientPublic, clientPrivate, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	clientBlock, err := ssh.MarshalPrivateKey(clientPrivate, "pagehaul-test")
	require.NoError(t, err)

	clientSSHPublic, err := ssh.NewPublicKey(clientPublic)
	require.NoError(t, err)

	_, hostPrivate, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	hostSigner, err := ssh.NewSignerFromKey(hostPrivate)
	require.NoError(t, err)

	server := &Server{
		ClientKeyPEM: string(pem.EncodeToMemory(clientBlock)),
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == User && string(key.Marshal()) == string(clientSSHPublic.Marshal()) {
				return &ssh.Permissions{}, nil
			}

			return nil, errUnauthorized
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = listener.Close()
	})

	address := listener.Addr().(*net.TCPAddr)
	server.Host = "127.0.0.1"
	server.Port = address.Port

	go server.acceptLoop(listener, config)

	return server
}

// acceptLoop serves incoming connections until the listener closes.
func (s *Server) acceptLoop(listener net.Listener, config *ssh.ServerConfig) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}

		go s.handleConn(conn, config)
	}
}

// handleConn runs the SSH handshake and dispatches session channels.
func (s *Server) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	serverConn, channels, requests, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}

	defer func() {
		_ = serverConn.Close()
	}()

	go ssh.DiscardRequests(requests)

	for newChannel := range channels {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}

		channel, channelRequests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go s.handleSession(channel, channelRequests)
	}
}

// handleSession answers exec requests on one session channel.
func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer func() {
		_ = channel.Close()
	}()

	for request := range requests {
		if request.Type != "exec" {
			_ = request.Reply(false, nil)
			continue
		}

		var payload struct {
			Command string
		}

		if err := ssh.Unmarshal(request.Payload, &payload); err != nil {
			_ = request.Reply(false, nil)
			continue
		}

		_ = request.Reply(true, nil)

		stdin, _ := io.ReadAll(channel)

		call := Call{
			Command: payload.Command,
			Stdin:   stdin,
		}

		s.mu.Lock()
		s.calls = append(s.calls, call)
		handle := s.Handle
		s.mu.Unlock()

		var (
			exitCode       int
			stdout, stderr string
		)

		if handle != nil {
			exitCode, stdout, stderr = handle(call)
		}

		if stdout != "" {
			_, _ = channel.Write([]byte(stdout))
		}

		if stderr != "" {
			_, _ = channel.Stderr().Write([]byte(stderr))
		}

		_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct {
			Status uint32
		}{Status: uint32(exitCode)}))

		return
	}
}
