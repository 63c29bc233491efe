package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KilimcininKorOglu/raftd/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateClusterConfig(&config.Cluster)...)
	errs = append(errs, validateNodeConfig(config)...)
	errs = append(errs, validateTimingConfig(&config.Timing)...)
	errs = append(errs, validateTransportConfig(&config.Transport)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

// validateClusterConfig checks that peer ids are exactly 1..N and every
// address is host:port.
func validateClusterConfig(config *ClusterConfig) []error {
	var errs []error

	if len(config.Peers) == 0 {
		return []error{ValidationError{
			Field:   "cluster.peers",
			Message: "at least one peer is required",
		}}
	}

	seen := make(map[uint64]bool, len(config.Peers))
	for i, p := range config.Peers {
		field := fmt.Sprintf("cluster.peers[%d]", i)
		switch {
		case p.ID == 0 || p.ID > uint64(len(config.Peers)):
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("must be between 1 and %d", len(config.Peers)),
			})
		case seen[p.ID]:
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate id %d", p.ID),
			})
		}
		seen[p.ID] = true

		if err := validateAddress(p.Addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".addr",
				Message: err.Error(),
			})
		}
	}

	return errs
}

func validateNodeConfig(config *Config) []error {
	var errs []error

	found := false
	for _, p := range config.Cluster.Peers {
		if p.ID == config.Node.ID {
			found = true
			break
		}
	}
	if config.Node.ID == 0 || !found {
		errs = append(errs, ValidationError{
			Field:   "node.id",
			Message: "must match one of cluster.peers",
		})
	}

	if config.Node.Address != "" {
		if err := validateAddress(config.Node.Address); err != nil {
			errs = append(errs, ValidationError{
				Field:   "node.address",
				Message: err.Error(),
			})
		}
	}

	if config.Node.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "node.dataDir",
			Message: "data directory is required",
		})
	}

	return errs
}

func validateTimingConfig(config *TimingConfig) []error {
	var errs []error

	if config.ElectionTimeoutMin <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timing.electionTimeoutMin",
			Message: "must be positive",
		})
	}
	if config.ElectionTimeoutMax <= config.ElectionTimeoutMin {
		errs = append(errs, ValidationError{
			Field:   "timing.electionTimeoutMax",
			Message: "must be greater than electionTimeoutMin",
		})
	}
	if config.HeartbeatInterval <= 0 || config.HeartbeatInterval >= config.ElectionTimeoutMin {
		errs = append(errs, ValidationError{
			Field:   "timing.heartbeatInterval",
			Message: "must be positive and shorter than electionTimeoutMin",
		})
	}
	if config.TimeoutOverride < 0 {
		errs = append(errs, ValidationError{
			Field:   "timing.timeoutOverride",
			Message: "must be non-negative",
		})
	}
	if config.RPCTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timing.rpcTimeout",
			Message: "must be positive",
		})
	}

	return errs
}

func validateTransportConfig(config *TransportConfig) []error {
	var errs []error

	switch strings.ToLower(config.Kind) {
	case TransportTCP, TransportGRPC:
	default:
		errs = append(errs, ValidationError{
			Field:   "transport.kind",
			Message: "must be tcp or grpc",
		})
	}
	if config.Workers <= 0 {
		errs = append(errs, ValidationError{
			Field:   "transport.workers",
			Message: "must be positive",
		})
	}
	if config.QueueSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "transport.queueSize",
			Message: "must be positive",
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	if config.Level != "" && !logging.ValidLevel(config.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

// validateAddress validates a network address in host:port format.
func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}
	if port == "" {
		return fmt.Errorf("port is required")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
