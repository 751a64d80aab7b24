package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"lobbyhub/internal/lobby"
	"lobbyhub/internal/presence"
)

// LobbyServer accepts lobby connections and runs one read goroutine per
// client.
type LobbyServer struct {
	Addr    string
	Manager *ConnectionManager
	handler *Handler
	logger  *slog.Logger

	listener   net.Listener
	listenerMu sync.Mutex
	quitChan   chan struct{}
	wg         sync.WaitGroup
}

// constructor for LobbyServer. The presence tracker may be nil (no Redis).
func NewLobbyServer(addr string, registry lobby.RoomRegistry, users lobby.UserRepository, tracker *presence.Tracker, logger *slog.Logger) *LobbyServer {
	if logger == nil {
		logger = slog.Default()
	}
	manager := NewConnectionManager(logger)
	return &LobbyServer{
		Addr:     addr,
		Manager:  manager,
		handler:  NewHandler(registry, users, tracker, manager, logger),
		logger:   logger,
		quitChan: make(chan struct{}),
	}
}

// Start listens and serves until Stop is called. Blocks.
func (s *LobbyServer) Start() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start lobby server: %w", err)
	}
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	defer listener.Close()

	s.logger.Info("lobby_server_started", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept_failed", "error", err.Error())
			continue
		}

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

// ListenAddr returns the bound address once Start has opened the listener.
func (s *LobbyServer) ListenAddr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleConnection owns the lifecycle of a single client connection.
func (s *LobbyServer) handleConnection(conn net.Conn) {
	client := NewClientConnection(conn, s.Manager)
	s.Manager.AddConnection(client)
	client.Listen(s.handler)
	s.Manager.RemoveConnection(client)
}

// Stop shuts the server down: notify clients, stop accepting, close all
// connections, wait for the per-connection goroutines.
func (s *LobbyServer) Stop() {
	close(s.quitChan)
	s.Manager.BroadcastSystemMessage("server is shutting down")
	time.Sleep(100 * time.Millisecond) // let clients read the notice

	s.listenerMu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.listenerMu.Unlock()

	s.Manager.CloseAllConnections()
	s.wg.Wait()
	s.logger.Info("lobby_server_stopped")
}
