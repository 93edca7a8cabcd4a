// Package config loads and validates the cluster's YAML configuration
// document: the static node table, network timings, the AI collaborator
// credentials, and task retry/timeout settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeSpec is one entry of the static membership table.
type NodeSpec struct {
	ID   int    `yaml:"id"`
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Address returns the host:port this node listens on.
func (n NodeSpec) Address() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// NetworkSpec holds the seconds-denominated timing knobs that drive
// heartbeats, liveness, and elections.
type NetworkSpec struct {
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	LeaderTimeout     int `yaml:"leader_timeout"`
	ElectionTimeout   int `yaml:"election_timeout"`
}

// APISpec carries the credentials handed to the external AI collaborator.
type APISpec struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// TasksSpec controls job retry and step-timeout behaviour.
type TasksSpec struct {
	MaxRetries     int `yaml:"max_retries"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Config is the fully parsed, environment-expanded configuration document.
type Config struct {
	Nodes   []NodeSpec  `yaml:"nodes"`
	Network NetworkSpec `yaml:"network"`
	API     APISpec     `yaml:"api"`
	Tasks   TasksSpec   `yaml:"tasks"`
}

// Error reports a fatal, non-recoverable configuration problem: missing
// sections, a duplicate node id, or an unknown --node-id at start.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "configuration error: " + e.Reason
}

// Load reads the YAML document at path, expands ${NAME} placeholders from
// the process environment, and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	expanded := os.Expand(string(raw), func(name string) string {
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the nodes, network and tasks sections and rejects
// duplicate node ids. The api section is not checked: an absent or empty
// api section loads without error.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return &Error{Reason: "nodes section must list at least one node"}
	}

	seen := make(map[int]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.IP == "" || n.Port == 0 {
			return &Error{Reason: fmt.Sprintf("node %d missing ip or port", n.ID)}
		}
		if seen[n.ID] {
			return &Error{Reason: fmt.Sprintf("duplicate node id: %d", n.ID)}
		}
		seen[n.ID] = true
	}

	if c.Network.HeartbeatInterval <= 0 || c.Network.LeaderTimeout <= 0 || c.Network.ElectionTimeout <= 0 {
		return &Error{Reason: "network section must set positive heartbeat_interval, leader_timeout, election_timeout"}
	}

	if c.Tasks.MaxRetries <= 0 {
		return &Error{Reason: "tasks.max_retries must be positive"}
	}
	if c.Tasks.TimeoutSeconds <= 0 {
		return &Error{Reason: "tasks.timeout_seconds must be positive"}
	}

	return nil
}

// NodeByID looks up a node's spec by id.
func (c *Config) NodeByID(id int) (NodeSpec, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// PeerAddresses returns the id -> address map for every node but the one
// given, matching the membership table's "all peers except self" contract.
func (c *Config) PeerAddresses(selfID int) map[int]string {
	peers := make(map[int]string, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == selfID {
			continue
		}
		peers[n.ID] = n.Address()
	}
	return peers
}
