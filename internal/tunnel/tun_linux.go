//go:build linux

package tunnel

import (
	"fmt"
	"runtime"

	"github.com/songgao/water"
	"github.com/vishvananda/netns"
)

// Open creates a TUN interface, inside opts.Netns when it is set.
func Open(opts Options) (Device, error) {
	if opts.Netns == "" {
		return openTUN(opts.Name)
	}

	// Namespace switches are per OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: current netns: %v", ErrInterfaceUnavailable, err)
	}
	defer origin.Close()

	ns, err := netns.GetFromName(opts.Netns)
	if err != nil {
		return nil, fmt.Errorf("%w: netns %q: %v", ErrInterfaceUnavailable, opts.Netns, err)
	}
	defer ns.Close()

	if err := netns.Set(ns); err != nil {
		return nil, fmt.Errorf("%w: enter netns %q: %v", ErrInterfaceUnavailable, opts.Netns, err)
	}
	dev, openErr := openTUN(opts.Name)
	if err := netns.Set(origin); err != nil {
		if dev != nil {
			dev.Close()
		}
		return nil, fmt.Errorf("%w: leave netns %q: %v", ErrInterfaceUnavailable, opts.Netns, err)
	}
	return dev, openErr
}

func openTUN(name string) (Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name
	ifce, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create %q: %v", ErrInterfaceUnavailable, name, err)
	}
	return ifce, nil
}
