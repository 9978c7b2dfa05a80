package main

import (
	"os"
	"sync"
)

// echoDevice is the interface of the in-process loopback peer: every
// datagram written to it is read back out, so the peer returns all traffic
// to the node under test.
type echoDevice struct {
	name  string
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newEchoDevice(name string) *echoDevice {
	return &echoDevice{
		name:  name,
		queue: make(chan []byte, 32),
		done:  make(chan struct{}),
	}
}

func (d *echoDevice) Name() string { return d.name }

func (d *echoDevice) Read(b []byte) (int, error) {
	select {
	case p := <-d.queue:
		return copy(b, p), nil
	case <-d.done:
		return 0, os.ErrClosed
	}
}

// Write drops datagrams while the echo queue is full, like a congested link.
func (d *echoDevice) Write(b []byte) (int, error) {
	select {
	case <-d.done:
		return 0, os.ErrClosed
	default:
	}
	select {
	case d.queue <- append([]byte(nil), b...):
	default:
	}
	return len(b), nil
}

func (d *echoDevice) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}
