// Package config holds the bridge configuration: defaults, TOML loading,
// validation and the region to radio band mapping.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/1ureka/rftun/internal/link"
	"github.com/1ureka/rftun/internal/protocol"
)

// ErrRegionNotSet is returned when the region selects no frequency plan.
var ErrRegionNotSet = errors.New("region not set")

// Driver selects the radio implementation.
type Driver string

const (
	DriverLoopback Driver = "loopback" // in-process bands, both nodes in one process
	DriverSerial   Driver = "serial"   // KISS modems on two serial ports
	DriverWebRTC   Driver = "webrtc"   // emulated links over a PeerConnection
)

// Duration is a time.Duration read from TOML strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete configuration of one node.
type Config struct {
	NodeID        uint8    `toml:"node_id"`
	PeerID        uint8    `toml:"peer_id"`
	NetworkID     uint8    `toml:"network_id"`
	Region        int      `toml:"region"`
	Driver        Driver   `toml:"driver"`
	Mode          string   `toml:"mode"`
	FragmentSize  int      `toml:"fragment_size"`  // data bytes per fragment
	MaxFrameSize  int      `toml:"max_frame_size"` // largest single radio payload
	FrameSpacing  Duration `toml:"frame_spacing"`
	PollInterval  Duration `toml:"poll_interval"`
	ArmTimeout    Duration `toml:"arm_timeout"`
	StatsInterval Duration `toml:"stats_interval"`

	Tunnel     Tunnel     `toml:"tunnel"`
	Reassembly Reassembly `toml:"reassembly"`
	Repair     Repair     `toml:"repair"`
	Serial     Serial     `toml:"serial"`
	WebRTC     WebRTC     `toml:"webrtc"`
}

type Tunnel struct {
	Name  string `toml:"name"`
	MTU   int    `toml:"mtu"`
	Netns string `toml:"netns"` // named network namespace, linux only
}

type Reassembly struct {
	MaxAge     Duration `toml:"max_age"`
	MaxPending int      `toml:"max_pending"`
}

type Repair struct {
	Enabled     bool     `toml:"enabled"`
	Interval    Duration `toml:"interval"`
	Holdoff     Duration `toml:"holdoff"`
	MaxAttempts int      `toml:"max_attempts"`
	CacheSize   int      `toml:"cache_size"`
}

type Serial struct {
	PortA string `toml:"port_a"`
	PortB string `toml:"port_b"`
	Baud  int    `toml:"baud"`
}

// WebRTC configures the emulated driver. A node with URL set dials the
// signaling server at URL; otherwise it hosts one on Listen.
type WebRTC struct {
	Listen string   `toml:"listen"`
	URL    string   `toml:"url"`
	STUN   []string `toml:"stun"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		NodeID:        1,
		PeerID:        2,
		NetworkID:     100,
		Region:        1,
		Driver:        DriverLoopback,
		Mode:          string(link.ModeDuplex),
		FragmentSize:  56,
		MaxFrameSize:  60,
		FrameSpacing:  Duration{60 * time.Millisecond},
		PollInterval:  Duration{10 * time.Millisecond},
		ArmTimeout:    Duration{time.Second},
		StatsInterval: Duration{10 * time.Second},
		Tunnel: Tunnel{
			Name: "tun0",
			MTU:  1500,
		},
		Reassembly: Reassembly{
			MaxAge:     Duration{30 * time.Second},
			MaxPending: 64,
		},
		Repair: Repair{
			Enabled:     true,
			Interval:    Duration{5 * time.Second},
			Holdoff:     Duration{2 * time.Second},
			MaxAttempts: 3,
			CacheSize:   32,
		},
		Serial: Serial{
			PortA: "/dev/ttyUSB0",
			PortB: "/dev/ttyUSB1",
			Baud:  115200,
		},
		WebRTC: WebRTC{
			Listen: ":8642",
		},
	}
}

// Load reads the TOML file at path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}
	return cfg, nil
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if c.NodeID == c.PeerID {
		return fmt.Errorf("node_id and peer_id are both %d", c.NodeID)
	}
	if c.NodeID == link.Broadcast || c.PeerID == link.Broadcast {
		return fmt.Errorf("address %d is reserved for broadcast", link.Broadcast)
	}
	if c.FragmentSize < 1 {
		return fmt.Errorf("fragment_size must be at least 1, got %d", c.FragmentSize)
	}
	if c.FragmentSize+protocol.HeaderSize > c.MaxFrameSize {
		return fmt.Errorf("fragment_size %d plus %d header bytes exceeds max_frame_size %d",
			c.FragmentSize, protocol.HeaderSize, c.MaxFrameSize)
	}
	if c.MaxFrameSize < protocol.HeaderSize+protocol.EndPayloadSize {
		return fmt.Errorf("max_frame_size %d cannot hold an end marker", c.MaxFrameSize)
	}
	if _, err := link.ParseMode(c.Mode); err != nil {
		return err
	}
	switch c.Driver {
	case DriverLoopback, DriverSerial, DriverWebRTC:
	default:
		return fmt.Errorf("unknown driver %q (want loopback, serial or webrtc)", c.Driver)
	}
	if _, _, err := c.Bands(); err != nil {
		return err
	}
	if c.Tunnel.MTU < 1 {
		return fmt.Errorf("tunnel mtu must be positive, got %d", c.Tunnel.MTU)
	}
	if c.Reassembly.MaxPending < 1 {
		return fmt.Errorf("reassembly max_pending must be positive, got %d", c.Reassembly.MaxPending)
	}
	if c.Repair.Enabled && c.Repair.Interval.Duration <= 0 {
		return fmt.Errorf("repair interval must be positive when repair is enabled")
	}
	return nil
}

// Frequencies in Hz.
const (
	Freq433 uint32 = 433_000_000
	Freq868 uint32 = 868_000_000
	Freq915 uint32 = 915_000_000
)

// Bands returns the carrier frequencies of link A and link B for the
// configured region.
func (c Config) Bands() (a, b uint32, err error) {
	switch c.Region {
	case 1:
		return Freq433, Freq915, nil
	case 2:
		return Freq433, Freq868, nil
	default:
		return 0, 0, fmt.Errorf("%w: region %d (want 1 or 2)", ErrRegionNotSet, c.Region)
	}
}

// MuxConfig derives the link multiplexer settings.
func (c Config) MuxConfig() link.MuxConfig {
	return link.MuxConfig{
		Self:         c.NodeID,
		Peer:         c.PeerID,
		Mode:         link.Mode(c.Mode),
		Spacing:      c.FrameSpacing.Duration,
		PollInterval: c.PollInterval.Duration,
		ArmTimeout:   c.ArmTimeout.Duration,
		MaxFrame:     c.MaxFrameSize,
		Prefer:       link.LinkB,
	}
}
