package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Node is the on-prem relay node configuration. The file doubles as the
// node's credential store once pairing has completed.
type Node struct {
	CloudURL          string        `mapstructure:"cloud_url" yaml:"cloud_url"`
	NodeID            string        `mapstructure:"node_id" yaml:"node_id,omitempty"`
	NodeToken         string        `mapstructure:"node_token" yaml:"node_token,omitempty"`
	PairingCode       string        `mapstructure:"pairing_code" yaml:"pairing_code,omitempty"`
	PairingNonce      string        `mapstructure:"pairing_nonce" yaml:"pairing_nonce,omitempty"`
	ConsoleIP         string        `mapstructure:"console_ip" yaml:"console_ip"`
	OSCMode           string        `mapstructure:"osc_mode" yaml:"osc_mode"`
	OSCPort           int           `mapstructure:"osc_port" yaml:"osc_port"`
	UDPLocalPort      int           `mapstructure:"udp_local_port" yaml:"udp_local_port"`
	OSCRate           time.Duration `mapstructure:"osc_rate" yaml:"osc_rate"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	Listen            string        `mapstructure:"listen" yaml:"listen"`
	MDNS              bool          `mapstructure:"mdns" yaml:"mdns"`
	Log               LogConfig     `mapstructure:"log" yaml:"log"`
}

// Paired reports whether the node holds an issued credential.
func (n Node) Paired() bool {
	return n.NodeID != "" && n.NodeToken != ""
}

// ConsoleChanged reports whether the console-facing settings differ.
func (n Node) ConsoleChanged(other Node) bool {
	return n.ConsoleIP != other.ConsoleIP ||
		n.OSCMode != other.OSCMode ||
		n.OSCPort != other.OSCPort ||
		n.UDPLocalPort != other.UDPLocalPort ||
		n.OSCRate != other.OSCRate
}

// Redacted returns a copy safe to print or serve.
func (n Node) Redacted() Node {
	if n.NodeToken != "" {
		n.NodeToken = "REDACTED"
	}
	return n
}

// DefaultNode mirrors the shipped configs/autocue-node.yml.
func DefaultNode() Node {
	return Node{
		CloudURL:          "https://autoque.app",
		ConsoleIP:         "127.0.0.1",
		OSCMode:           "tcp",
		OSCPort:           3032,
		UDPLocalPort:      8001,
		OSCRate:           100 * time.Millisecond,
		HeartbeatInterval: 15 * time.Second,
		Listen:            "127.0.0.1:4580",
		Log:               LogConfig{Level: "info", Format: "console"},
	}
}

func setNodeDefaults(v *viper.Viper) {
	d := DefaultNode()
	v.SetDefault("cloud_url", d.CloudURL)
	v.SetDefault("console_ip", d.ConsoleIP)
	v.SetDefault("osc_mode", d.OSCMode)
	v.SetDefault("osc_port", d.OSCPort)
	v.SetDefault("udp_local_port", d.UDPLocalPort)
	v.SetDefault("osc_rate", d.OSCRate)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// NodeStore reads, persists and watches the node configuration file.
type NodeStore struct {
	path string
	v    *viper.Viper
	mu   sync.Mutex
}

// OpenNodeStore loads path, creating it from defaults when missing.
func OpenNodeStore(path string) (*NodeStore, error) {
	s := &NodeStore{path: path, v: viper.New()}
	setNodeDefaults(s.v)
	s.v.SetConfigFile(path)
	s.v.SetConfigType("yaml")
	s.v.SetEnvPrefix("AUTOCUE_NODE")
	s.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	s.v.AutomaticEnv()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.Save(DefaultNode()); err != nil {
			return nil, err
		}
	}
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read node config %q: %w", path, err)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *NodeStore) Path() string { return s.path }

// Load decodes the current configuration.
func (s *NodeStore) Load() (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n Node
	if err := s.v.Unmarshal(&n); err != nil {
		return Node{}, fmt.Errorf("decode node config: %w", err)
	}
	if n.OSCMode != "tcp" && n.OSCMode != "udp" {
		return Node{}, fmt.Errorf("osc_mode must be tcp or udp, got %q", n.OSCMode)
	}
	return n, nil
}

// Save writes n to disk and reloads it into the store.
func (s *NodeStore) Save(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := yaml.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode node config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	// 0600: the file holds the node bearer token.
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write node config %q: %w", s.path, err)
	}
	if s.v.ConfigFileUsed() != "" {
		if err := s.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reload node config: %w", err)
		}
	}
	return nil
}

// Watch calls fn with the freshly decoded config whenever the file changes.
func (s *NodeStore) Watch(fn func(Node, error)) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(s.Load())
	})
	s.v.WatchConfig()
}
