package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/KilimcininKorOglu/raftd/internal/config"
	"github.com/KilimcininKorOglu/raftd/internal/logging"
	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// Server errors.
var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrServerNotRunning     = errors.New("server is not running")
)

// raftServer owns one cluster member: its durable storage, transport and
// consensus node.
type raftServer struct {
	config    *config.Config
	logger    logging.Logger
	store     *raft.FileStorage
	transport raft.Transport
	node      *raft.Node
	running   bool
	mu        sync.Mutex
}

// newTransport builds the RPC transport named by kind.
func newTransport(kind, addr string, peers map[uint64]string) raft.Transport {
	if strings.ToLower(kind) == config.TransportGRPC {
		return raft.NewGRPCTransport(addr, peers)
	}
	return raft.NewTCPTransport(addr, peers)
}

// newServer opens the data directory and restores the node's persisted state.
func newServer(cfg *config.Config) (*raftServer, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := raft.OpenFileStorage(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	transport := newTransport(cfg.Transport.Kind, cfg.ListenAddr(), cfg.PeerAddrs())

	applyLog := logger.WithFields("node", cfg.Node.ID)
	node, err := raft.NewNode(cfg.RaftConfig(), raft.Deps{
		Transport: transport,
		Persister: store,
		Logger:    logger,
		Applier: raft.ApplierFunc(func(index uint64, entry raft.Entry) error {
			applyLog.Debug("entry applied", "index", index, "term", entry.Term, "bytes", len(entry.Command))
			return nil
		}),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	return &raftServer{
		config:    cfg,
		logger:    logger,
		store:     store,
		transport: transport,
		node:      node,
	}, nil
}

// Start begins serving RPCs and runs the node as a follower.
func (s *raftServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerAlreadyRunning
	}
	if err := s.node.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	s.running = true

	s.logger.Info("raftd listening",
		"node", s.config.Node.ID,
		"address", s.transport.LocalAddr(),
		"transport", s.config.Transport.Kind,
		"peers", len(s.config.Cluster.Peers),
	)
	return nil
}

// Stop halts the node and closes storage.
func (s *raftServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServerNotRunning
	}
	s.running = false

	s.node.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close storage", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Addr returns the address the node is serving RPCs on.
func (s *raftServer) Addr() string {
	return s.transport.LocalAddr()
}

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	nodeID := fs.Uint64("id", 0, "Node id (overrides config)")
	address := fs.String("address", "", "RPC listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "Data directory path (overrides config)")
	transport := fs.String("transport", "", "RPC transport: tcp, grpc (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printServeUsage(os.Stdout)
		return 0
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
	}

	// Flags override the file; the environment overrides both.
	if *nodeID != 0 {
		cfg.Node.ID = *nodeID
	}
	if *address != "" {
		cfg.Node.Address = *address
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *transport != "" {
		cfg.Transport.Kind = *transport
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		return 1
	}

	if !reportValidation(cfg) {
		return 1
	}

	srv, err := newServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		srv.store.Close()
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	srv.logger.Info("received signal, shutting down", "signal", sig.String())
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		return 1
	}
	return 0
}
