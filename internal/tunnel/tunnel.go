// Package tunnel provides the virtual network interface whose datagrams the
// bridge carries over the radios.
package tunnel

import (
	"errors"
	"io"
)

// ErrInterfaceUnavailable reports that the virtual interface could not be
// created or configured.
var ErrInterfaceUnavailable = errors.New("virtual interface unavailable")

// Device is a point-to-point interface: every Read returns one whole
// datagram and every Write injects one.
type Device interface {
	io.ReadWriteCloser
	Name() string
}

// Options selects the interface to create.
type Options struct {
	Name  string // requested interface name; the OS may pick another
	Netns string // named network namespace to create it in (linux only)
}
