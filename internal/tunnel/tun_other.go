//go:build !linux

package tunnel

import (
	"fmt"

	"github.com/songgao/water"
)

// Open creates a TUN interface. The OS chooses its name; namespaces are a
// linux feature.
func Open(opts Options) (Device, error) {
	if opts.Netns != "" {
		return nil, fmt.Errorf("%w: network namespaces need linux", ErrInterfaceUnavailable)
	}
	ifce, err := water.New(water.Config{DeviceType: water.TUN})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceUnavailable, err)
	}
	return ifce, nil
}
