package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parser errors.
var (
	ErrInvalidYAML     = errors.New("invalid YAML format")
	ErrInvalidDuration = errors.New("invalid duration format")
	ErrInvalidNumber   = errors.New("invalid number format")
	ErrFileNotFound    = errors.New("configuration file not found")
	ErrInvalidListItem = errors.New("invalid list item format")
	ErrUnknownSection  = errors.New("unknown configuration section")
)

// LoadConfig loads configuration from a file path.
// It reads the file, substitutes environment variables, parses YAML,
// and applies defaults for missing values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data.
// It substitutes environment variables and applies defaults for missing values.
func ParseConfig(data []byte) (*Config, error) {
	// Substitute environment variables
	data = substituteEnvVars(data)

	// Start with defaults
	config := DefaultConfig()

	// Parse YAML and merge with defaults
	if err := parseYAML(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// envVarPattern matches ${VAR} or ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		// Extract content between ${ and }
		content := string(match[2 : len(match)-1])

		// Check for default value syntax: VAR:-default
		if idx := strings.Index(content, ":-"); idx != -1 {
			varName := content[:idx]
			defaultVal := content[idx+2:]
			if val := os.Getenv(varName); val != "" {
				return []byte(val)
			}
			return []byte(defaultVal)
		}

		// Simple variable substitution
		return []byte(os.Getenv(content))
	})
}

// yamlNode represents a parsed YAML node.
type yamlNode struct {
	key          string
	value        string
	indent       int
	children     []*yamlNode
	isList       bool
	isListObject bool // true when list item contains key: value (- key: value)
	listItems    []string
}

// parseYAML parses YAML data into the config struct.
func parseYAML(data []byte, config *Config) error {
	lines := strings.Split(string(data), "\n")
	root := &yamlNode{indent: -1}

	if err := buildTree(lines, root); err != nil {
		return err
	}

	return applyConfig(root, config)
}

// buildTree builds a tree structure from YAML lines.
func buildTree(lines []string, root *yamlNode) error {
	stack := []*yamlNode{root}

	for _, line := range lines {
		// Skip empty lines and comments
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		// Calculate indentation
		indent := countIndent(line)

		// Parse key-value or list item
		node, err := parseLine(trimmed, indent)
		if err != nil {
			return err
		}

		// Find parent based on indentation
		for len(stack) > 1 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}

		parent := stack[len(stack)-1]

		// Handle list items
		if node.isList {
			if node.isListObject {
				// List item that starts a new object (- key: value)
				// Create a container node for this list item
				listItemNode := &yamlNode{
					indent:   indent,
					children: []*yamlNode{},
				}
				// Add the first key-value as child
				firstChild := &yamlNode{
					key:    node.key,
					value:  node.value,
					indent: indent + 2,
				}
				listItemNode.children = append(listItemNode.children, firstChild)
				parent.children = append(parent.children, listItemNode)
				stack = append(stack, listItemNode)
				continue
			}

			// Simple list item (- value)
			if parent.listItems == nil {
				parent.listItems = []string{}
			}
			parent.listItems = append(parent.listItems, node.value)
			continue
		}

		parent.children = append(parent.children, node)
		stack = append(stack, node)
	}

	return nil
}

// countIndent counts the number of leading spaces.
func countIndent(line string) int {
	count := 0
	for _, ch := range line {
		if ch == ' ' {
			count++
		} else if ch == '\t' {
			count += 2 // Treat tab as 2 spaces
		} else {
			break
		}
	}
	return count
}

// parseLine parses a single YAML line.
func parseLine(line string, indent int) (*yamlNode, error) {
	// Check for list item
	if strings.HasPrefix(line, "- ") {
		content := strings.TrimPrefix(line, "- ")

		// Check if list item contains key: value (nested object like "- target: *")
		if colonIdx := strings.Index(content, ":"); colonIdx != -1 {
			key := strings.TrimSpace(content[:colonIdx])
			value := ""
			if colonIdx+1 < len(content) {
				value = strings.TrimSpace(content[colonIdx+1:])
			}
			value = unquote(value)

			return &yamlNode{
				key:          key,
				value:        value,
				indent:       indent,
				isList:       true,
				isListObject: true,
			}, nil
		}

		// Simple list item (- value)
		return &yamlNode{
			value:  strings.TrimSpace(content),
			indent: indent,
			isList: true,
		}, nil
	}

	// Parse key: value
	colonIdx := strings.Index(line, ":")
	if colonIdx == -1 {
		return nil, ErrInvalidYAML
	}

	key := strings.TrimSpace(line[:colonIdx])
	value := ""
	if colonIdx+1 < len(line) {
		value = strings.TrimSpace(line[colonIdx+1:])
	}

	// Remove quotes from value
	value = unquote(value)

	return &yamlNode{
		key:    key,
		value:  value,
		indent: indent,
	}, nil
}

// unquote removes surrounding quotes from a string.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// applyConfig applies parsed YAML nodes to the config struct.
func applyConfig(root *yamlNode, config *Config) error {
	for _, node := range root.children {
		var err error
		switch node.key {
		case "node":
			err = applyNodeConfig(node, &config.Node)
		case "cluster":
			err = applyClusterConfig(node, &config.Cluster)
		case "timing":
			err = applyTimingConfig(node, &config.Timing)
		case "transport":
			err = applyTransportConfig(node, &config.Transport)
		case "logging":
			err = applyLogConfig(node, &config.Logging)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownSection, node.key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyNodeConfig(node *yamlNode, config *NodeConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "id":
			if err := setUint(child.value, &config.ID); err != nil {
				return err
			}
		case "address":
			if child.value != "" {
				config.Address = child.value
			}
		case "dataDir":
			if child.value != "" {
				config.DataDir = child.value
			}
		}
	}
	return nil
}

// applyClusterConfig replaces the default peer list when peers are given.
func applyClusterConfig(node *yamlNode, config *ClusterConfig) error {
	for _, child := range node.children {
		if child.key != "peers" {
			continue
		}
		peers, err := parseClusterPeers(child)
		if err != nil {
			return err
		}
		config.Peers = peers
	}
	return nil
}

// parseClusterPeers parses "- id: N / addr: host:port" list objects.
func parseClusterPeers(node *yamlNode) ([]PeerConfig, error) {
	var peers []PeerConfig
	for _, child := range node.children {
		peer := PeerConfig{}
		for _, peerChild := range child.children {
			switch peerChild.key {
			case "id":
				if err := setUint(peerChild.value, &peer.ID); err != nil {
					return nil, err
				}
			case "addr":
				peer.Addr = peerChild.value
			}
		}
		if peer.ID > 0 || peer.Addr != "" {
			peers = append(peers, peer)
		}
	}
	if len(node.listItems) > 0 {
		return nil, ErrInvalidListItem
	}
	return peers, nil
}

func applyTimingConfig(node *yamlNode, config *TimingConfig) error {
	for _, child := range node.children {
		var target *time.Duration
		switch child.key {
		case "electionTimeoutMin":
			target = &config.ElectionTimeoutMin
		case "electionTimeoutMax":
			target = &config.ElectionTimeoutMax
		case "heartbeatInterval":
			target = &config.HeartbeatInterval
		case "timeoutOverride":
			target = &config.TimeoutOverride
		case "rpcTimeout":
			target = &config.RPCTimeout
		default:
			continue
		}
		if child.value == "" {
			continue
		}
		dur, err := parseDuration(child.value)
		if err != nil {
			return fmt.Errorf("timing.%s: %w", child.key, err)
		}
		*target = dur
	}
	return nil
}

func applyTransportConfig(node *yamlNode, config *TransportConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "kind":
			if child.value != "" {
				config.Kind = strings.ToLower(child.value)
			}
		case "workers":
			if err := setInt(child.value, &config.Workers); err != nil {
				return err
			}
		case "queueSize":
			if err := setInt(child.value, &config.QueueSize); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyLogConfig applies logging configuration.
func applyLogConfig(node *yamlNode, config *LogConfig) error {
	for _, child := range node.children {
		switch child.key {
		case "level":
			if child.value != "" {
				config.Level = child.value
			}
		case "format":
			if child.value != "" {
				config.Format = child.value
			}
		case "output":
			if child.value != "" {
				config.Output = child.value
			}
		}
	}
	return nil
}

func setUint(s string, dst *uint64) error {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return ErrInvalidNumber
	}
	*dst = v
	return nil
}

func setInt(s string, dst *int) error {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return ErrInvalidNumber
	}
	*dst = v
	return nil
}

// parseDuration parses a duration string supporting formats like "30s", "5m", "1h", "90d".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	// Check for day suffix (not supported by time.ParseDuration)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, ErrInvalidDuration
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	// Use standard library for other formats
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, ErrInvalidDuration
	}
	return dur, nil
}
