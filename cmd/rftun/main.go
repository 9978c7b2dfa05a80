// Command rftun bridges a virtual network interface over a pair of
// low-bandwidth radio links: datagrams read from the TUN device are cut into
// radio-sized frames, sent to the peer node and reassembled there.
//
// Settings come from an optional TOML file (-config) and are overridden by
// flags (-node, -peer, -driver, -mode).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/1ureka/rftun/internal/adapter"
	"github.com/1ureka/rftun/internal/config"
	"github.com/1ureka/rftun/internal/link"
	"github.com/1ureka/rftun/internal/link/memory"
	"github.com/1ureka/rftun/internal/link/serial"
	"github.com/1ureka/rftun/internal/signaling"
	"github.com/1ureka/rftun/internal/transport"
	"github.com/1ureka/rftun/internal/tunnel"
	"github.com/1ureka/rftun/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	node := flag.Int("node", -1, "Node id of this side (overrides node_id)")
	peer := flag.Int("peer", -1, "Node id of the peer (overrides peer_id)")
	driver := flag.String("driver", "", "Radio driver: loopback, serial or webrtc")
	mode := flag.String("mode", "", "Link mode: duplex, split or stripe")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("rftun v%s", version))
	pterm.Println()

	cfg, err := loadConfig(*configPath, *node, *peer, *driver, *mode)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("radio links and interface released")
}

// loadConfig merges defaults, the optional file and flag overrides.
func loadConfig(path string, node, peer int, driver, mode string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	if node >= 0 {
		if node >= int(link.Broadcast) {
			return cfg, fmt.Errorf("invalid -node %d (must be 0~254)", node)
		}
		cfg.NodeID = uint8(node)
	}
	if peer >= 0 {
		if peer >= int(link.Broadcast) {
			return cfg, fmt.Errorf("invalid -peer %d (must be 0~254)", peer)
		}
		cfg.PeerID = uint8(peer)
	}
	if driver != "" {
		cfg.Driver = config.Driver(strings.ToLower(driver))
	}
	if mode != "" {
		cfg.Mode = strings.ToLower(mode)
	}

	return cfg, cfg.Validate()
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// run opens both links and the interface, then pumps until ctx is done.
// Every resource acquired here is released on return.
func run(ctx context.Context, cfg config.Config) error {
	if cfg.Driver == config.DriverLoopback {
		return runLoopback(ctx, cfg)
	}

	a, b, closeLinks, err := openLinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLinks()

	mux, err := link.NewMultiplexer(a, b, cfg.MuxConfig())
	if err != nil {
		return err
	}
	defer mux.Close()

	dev, err := tunnel.Open(tunnel.Options{Name: cfg.Tunnel.Name, Netns: cfg.Tunnel.Netns})
	if err != nil {
		return err
	}
	defer dev.Close()

	util.StartStatsReporter(ctx, cfg.StatsInterval.Duration)
	util.LogSuccess("bridging %s over links A/B: node %d <-> peer %d, %s mode, tx on link %s",
		dev.Name(), cfg.NodeID, cfg.PeerID, cfg.Mode, mux.Primary())

	return adapter.New(dev, mux, adapter.FromConfig(cfg)).Run(ctx)
}

// openLinks opens the radios of link A and link B for the configured driver.
func openLinks(ctx context.Context, cfg config.Config) (a, b link.Radio, release func(), err error) {
	switch cfg.Driver {
	case config.DriverSerial:
		freqA, freqB, err := cfg.Bands()
		if err != nil {
			return nil, nil, nil, err
		}
		ma, err := serial.Open(cfg.Serial.PortA, cfg.Serial.Baud,
			serial.Hardware{FrequencyHz: freqA, Node: cfg.NodeID, Network: cfg.NetworkID})
		if err != nil {
			return nil, nil, nil, err
		}
		mb, err := serial.Open(cfg.Serial.PortB, cfg.Serial.Baud,
			serial.Hardware{FrequencyHz: freqB, Node: cfg.NodeID, Network: cfg.NetworkID})
		if err != nil {
			ma.Close()
			return nil, nil, nil, err
		}
		return ma, mb, func() { ma.Close(); mb.Close() }, nil

	case config.DriverWebRTC:
		opts := signaling.Options{Node: cfg.NodeID, Network: cfg.NetworkID, STUN: cfg.WebRTC.STUN}
		var tr *transport.Transport
		if cfg.WebRTC.URL != "" {
			tr, err = signaling.EstablishAsClient(ctx, cfg.WebRTC.URL, opts)
		} else {
			tr, err = signaling.EstablishAsHost(ctx, cfg.WebRTC.Listen, opts)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", link.ErrLinkUnavailable, err)
		}
		return tr.Radio(link.LinkA), tr.Radio(link.LinkB), func() { tr.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("driver %q has no radios to open", cfg.Driver)
	}
}

// runLoopback runs this node against an in-process peer on shared bands. The
// peer echoes every datagram back, which exercises both directions of the
// pump without radio hardware.
func runLoopback(ctx context.Context, cfg config.Config) error {
	a, b, peerA, peerB, err := memory.Pair(cfg.NodeID, cfg.PeerID)
	if err != nil {
		return err
	}

	mux, err := link.NewMultiplexer(a, b, cfg.MuxConfig())
	if err != nil {
		return err
	}
	defer mux.Close()

	peerCfg := cfg
	peerCfg.NodeID, peerCfg.PeerID = cfg.PeerID, cfg.NodeID
	peerMux, err := link.NewMultiplexer(peerA, peerB, peerCfg.MuxConfig())
	if err != nil {
		return err
	}
	defer peerMux.Close()

	dev, err := tunnel.Open(tunnel.Options{Name: cfg.Tunnel.Name, Netns: cfg.Tunnel.Netns})
	if err != nil {
		return err
	}
	defer dev.Close()

	echo := newEchoDevice(fmt.Sprintf("echo%d", cfg.PeerID))
	defer echo.Close()

	util.StartStatsReporter(ctx, cfg.StatsInterval.Duration)
	util.LogSuccess("loopback: %s bridged to in-process peer %d, which echoes every datagram", dev.Name(), cfg.PeerID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	peerErr := make(chan error, 1)
	go func() {
		peerErr <- adapter.New(echo, peerMux, adapter.FromConfig(peerCfg)).Run(ctx)
		cancel()
	}()

	err = adapter.New(dev, mux, adapter.FromConfig(cfg)).Run(ctx)
	cancel()
	return errors.Join(err, <-peerErr)
}
