package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/1ureka/rftun/internal/config"
)

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	if err := os.WriteFile(path, []byte("node_id = 5\npeer_id = 6\nmode = \"split\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, -1, 9, "SERIAL", "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.NodeID != 5 || cfg.PeerID != 9 || cfg.Driver != config.DriverSerial || cfg.Mode != "split" {
		t.Errorf("merged config: node %d peer %d driver %s mode %s", cfg.NodeID, cfg.PeerID, cfg.Driver, cfg.Mode)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	testCases := []struct {
		name       string
		node, peer int
		driver     string
	}{
		{"node out of range", 300, -1, ""},
		{"same ids", 3, 3, ""},
		{"unknown driver", -1, -1, "sdr"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadConfig("", tc.node, tc.peer, tc.driver, ""); err == nil {
				t.Error("loadConfig accepted an invalid setup")
			}
		})
	}
}

func TestEchoDevice(t *testing.T) {
	d := newEchoDevice("echo")
	if _, err := d.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := d.Read(buf)
	if err != nil || !bytes.Equal(buf[:n], []byte{1, 2, 3}) {
		t.Fatalf("Read = % x, %v", buf[:n], err)
	}

	d.Close()
	if _, err := d.Read(buf); err == nil {
		t.Error("Read after Close should fail")
	}
	if _, err := d.Write(buf); err == nil {
		t.Error("Write after Close should fail")
	}
}
