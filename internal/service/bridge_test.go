package service

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/quickpayplatform/autocue/internal/osc"
)

func udpConsole(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func TestDirectBridge_Unconfigured(t *testing.T) {
	b, err := NewDirectBridge(osc.Config{}, nil, nil)
	if err != nil {
		t.Fatalf("NewDirectBridge: %v", err)
	}
	if b.Configured() {
		t.Fatalf("empty host must be unconfigured")
	}
	if _, ok := b.Config(); ok {
		t.Fatalf("Config should report no endpoint")
	}
	if err := b.Send([]osc.Command{{Address: "/eos/newcmd"}}); !errors.Is(err, ErrBridgeNotConfigured) {
		t.Fatalf("Send err = %v", err)
	}
}

func TestDirectBridge_Whitelist(t *testing.T) {
	_, err := NewDirectBridge(osc.Config{Host: "10.0.0.9", Port: 3032, Mode: osc.ModeTCP}, []string{"10.0.0.1"}, nil)
	if !errors.Is(err, osc.ErrNotWhitelisted) {
		t.Fatalf("err = %v, want ErrNotWhitelisted", err)
	}

	b, err := NewDirectBridge(osc.Config{Host: "10.0.0.1", Port: 3032, Mode: osc.ModeTCP}, []string{"10.0.0.1"}, nil)
	if err != nil {
		t.Fatalf("whitelisted host: %v", err)
	}
	defer b.Close()
	if err := b.Reconfigure(osc.Config{Host: "10.0.0.9", Port: 3032, Mode: osc.ModeTCP}); !errors.Is(err, osc.ErrNotWhitelisted) {
		t.Fatalf("Reconfigure err = %v", err)
	}
	cfg, ok := b.Config()
	if !ok || cfg.Host != "10.0.0.1" {
		t.Fatalf("rejected reconfigure must keep the old endpoint, got %+v", cfg)
	}
}

func TestDirectBridge_ReconfigureSwapsTransport(t *testing.T) {
	console, port := udpConsole(t)

	b, err := NewDirectBridge(osc.Config{}, nil, nil)
	if err != nil {
		t.Fatalf("NewDirectBridge: %v", err)
	}
	defer b.Close()

	if err := b.Reconfigure(osc.Config{Host: "127.0.0.1", Port: port, Mode: osc.ModeUDP}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if !b.Configured() {
		t.Fatalf("bridge should be configured")
	}
	if err := b.Send([]osc.Command{{Address: "/eos/newcmd"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = console.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := console.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want, _ := osc.Command{Address: "/eos/newcmd"}.MarshalBinary()
	if string(buf[:n]) != string(want) {
		t.Fatalf("got %q, want %q", buf[:n], want)
	}

	if err := b.Reconfigure(osc.Config{}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if b.Configured() {
		t.Fatalf("empty host should disable the bridge")
	}
}
