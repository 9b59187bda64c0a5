package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IPShard binds the websocket connections of a set of books to one source IP.
// Books are written as "venue:symbol".
type IPShard struct {
	IP    string   `yaml:"ip"`
	Books []string `yaml:"books"`
}

// IPShards represents the full shard configuration.
type IPShards struct {
	Shards []IPShard `yaml:"shards"`
}

// LoadIPShards loads shard configuration from the given path.
func LoadIPShards(path string) (*IPShards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shards file: %w", err)
	}
	var cfg IPShards
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse shards file: %w", err)
	}
	return &cfg, nil
}

// Apply sets LocalIP on every book named by a shard. Books that already carry
// an IP keep it.
func (s *IPShards) Apply(books []BookConfig) {
	if s == nil {
		return
	}
	ips := make(map[string]string)
	for _, shard := range s.Shards {
		for _, key := range shard.Books {
			ips[strings.ToLower(strings.TrimSpace(key))] = shard.IP
		}
	}
	for i := range books {
		if books[i].LocalIP != "" {
			continue
		}
		key := strings.ToLower(books[i].Venue + ":" + books[i].Symbol)
		if ip, ok := ips[key]; ok {
			books[i].LocalIP = ip
		}
	}
}
