package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed channels.yaml
var defaultChannelsYAML []byte

// ChannelInfo is static metadata for a known channel.
type ChannelInfo struct {
	Key      string   `yaml:"key"`
	Name     string   `yaml:"name"`
	TVGID    string   `yaml:"tvg_id"`
	Logo     string   `yaml:"logo,omitempty"`
	Group    string   `yaml:"group"`
	Keywords []string `yaml:"keywords"`
}

// ChannelMap maps raw site titles to ChannelInfo by keyword. Order matters: first match wins.
type ChannelMap struct {
	Channels []ChannelInfo `yaml:"channels"`
}

// DefaultChannelMap returns the built-in table.
func DefaultChannelMap() *ChannelMap {
	m, err := parseChannelMap(defaultChannelsYAML)
	if err != nil {
		panic("catalog: built-in channel map: " + err.Error())
	}
	return m
}

// LoadChannelMap reads a YAML channel map from path. An empty path yields the built-in table.
func LoadChannelMap(path string) (*ChannelMap, error) {
	if path == "" {
		return DefaultChannelMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("channel map: %w", err)
	}
	m, err := parseChannelMap(data)
	if err != nil {
		return nil, fmt.Errorf("channel map %s: %w", path, err)
	}
	return m, nil
}

func parseChannelMap(data []byte) (*ChannelMap, error) {
	var m ChannelMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for i := range m.Channels {
		for j, k := range m.Channels[i].Keywords {
			m.Channels[i].Keywords[j] = Normalize(k)
		}
	}
	return &m, nil
}

// Lookup returns the first channel with a keyword contained in the normalized raw title.
func (m *ChannelMap) Lookup(raw string) (ChannelInfo, bool) {
	if m == nil {
		return ChannelInfo{}, false
	}
	n := Normalize(raw)
	if n == "" {
		return ChannelInfo{}, false
	}
	for _, ch := range m.Channels {
		for _, k := range ch.Keywords {
			if k != "" && strings.Contains(n, k) {
				return ch, true
			}
		}
	}
	return ChannelInfo{}, false
}

// Apply fills a candidate's display metadata from the map, falling back to the prettified
// raw title, the site-provided logo and defaultGroup. Returns the updated candidate.
func (m *ChannelMap) Apply(c Candidate, raw, defaultGroup string) Candidate {
	info, ok := m.Lookup(raw)
	if !ok {
		c.Name = Prettify(raw)
		if c.Group == "" {
			c.Group = defaultGroup
		}
		return c
	}
	c.Name = info.Name
	c.TVGID = info.TVGID
	if info.Logo != "" {
		c.Logo = info.Logo
	}
	c.Group = info.Group
	if c.Group == "" {
		c.Group = defaultGroup
	}
	return c
}
