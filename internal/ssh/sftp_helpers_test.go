package ssh

import (
	"io"
	"testing"

	"github.com/pkg/sftp"
)

type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// memSFTP returns a client connected to an in-memory SFTP server.
func memSFTP(t *testing.T) *sftp.Client {
	t.Helper()
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()
	server := sftp.NewRequestServer(pipeConn{serverRead, serverWrite}, sftp.InMemHandler())
	go server.Serve()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	if err != nil {
		t.Fatalf("sftp client: %v", err)
	}
	// The client's reader only returns once the server side of the pipe is
	// closed, so the server goes first.
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return client
}
