package nsmgr

import (
	"errors"
	"fmt"
	"io"
)

// Message is a synchronization token exchanged between the process setting
// up a user namespace and the child living in it. Each message travels as
// a single byte.
type Message byte

const (
	// UserNSReady is sent by the child once it lives in the new user
	// namespace.
	UserNSReady Message = iota + 1
	// MappingsWritten is sent by the parent after writing the uid and gid
	// maps of the child.
	MappingsWritten
	// DependentNSReady is sent by the child after unsharing all dependent
	// namespaces.
	DependentNSReady
	// Persisted is sent by the parent once every namespace is bind
	// mounted. The child exits on receiving it.
	Persisted
)

func (m Message) String() string {
	switch m {
	case UserNSReady:
		return "UserNSReady"
	case MappingsWritten:
		return "MappingsWritten"
	case DependentNSReady:
		return "DependentNSReady"
	case Persisted:
		return "Persisted"
	}
	return fmt.Sprintf("Message(%d)", byte(m))
}

var (
	// ErrUnexpectedMessage is returned if the peer sent a message out of
	// protocol order.
	ErrUnexpectedMessage = errors.New("unexpected sync message")

	// ErrPeerClosed is returned if the peer closed its end of the pipe
	// while a message was expected, usually because it failed and exited.
	ErrPeerClosed = errors.New("sync peer closed the connection")
)

// syncConn is one side of the handshake: a reader carrying messages from
// the peer and a writer carrying messages to it.
type syncConn struct {
	r io.Reader
	w io.Writer
}

func newSyncConn(r io.Reader, w io.Writer) *syncConn {
	return &syncConn{r: r, w: w}
}

func (c *syncConn) send(m Message) error {
	if _, err := c.w.Write([]byte{byte(m)}); err != nil {
		return fmt.Errorf("send %s: %w", m, err)
	}
	return nil
}

// expect blocks until the next message arrives and checks that it is want.
func (c *syncConn) expect(want Message) error {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("waiting for %s: %w", want, ErrPeerClosed)
		}
		return fmt.Errorf("waiting for %s: %w", want, err)
	}
	if got := Message(buf[0]); got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, got, want)
	}
	return nil
}

// runParentHandshake drives the parent side of the user namespace setup:
//
//	P0 wait for UserNSReady
//	P1 write the id maps, send MappingsWritten
//	P2 wait for DependentNSReady
//	P3 persist every namespace, send Persisted
//
// Any failure ends the handshake. Closing the connection afterwards lets a
// child blocked in expect see ErrPeerClosed instead of waiting forever.
func runParentHandshake(conn *syncConn, writeMappings, persist func() error) error {
	if err := conn.expect(UserNSReady); err != nil {
		return err
	}
	if err := writeMappings(); err != nil {
		return err
	}
	if err := conn.send(MappingsWritten); err != nil {
		return err
	}
	if err := conn.expect(DependentNSReady); err != nil {
		return err
	}
	if err := persist(); err != nil {
		return err
	}
	return conn.send(Persisted)
}

// runChildHandshake drives the child side:
//
//	C0 send UserNSReady
//	C1 wait for MappingsWritten, become root
//	C2 create the dependent namespaces, send DependentNSReady
//	C3 wait for Persisted
//
// The caller exits after it returns.
func runChildHandshake(conn *syncConn, becomeRoot, createDependents func() error) error {
	if err := conn.send(UserNSReady); err != nil {
		return err
	}
	if err := conn.expect(MappingsWritten); err != nil {
		return err
	}
	if err := becomeRoot(); err != nil {
		return err
	}
	if err := createDependents(); err != nil {
		return err
	}
	if err := conn.send(DependentNSReady); err != nil {
		return err
	}
	return conn.expect(Persisted)
}
