package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nibblearena/gameserver/logger"
	"github.com/nibblearena/gameserver/network"
)

// startWS serves the same game protocol to browser clients: each websocket
// text message is one frame, handled by the identical session layer.
func (s *GameServer) startWS() error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Log.Warnf("websocket upgrade failed: %v", err)
			return
		}
		s.register(network.NewWSConnection(conn))
	})

	srv := &http.Server{Addr: s.cfg.Server.WSAddr, Handler: mux}
	s.mu.Lock()
	s.wsServer = srv
	s.mu.Unlock()

	logger.Log.Infof("websocket listener on %s", s.cfg.Server.WSAddr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Errorf("websocket server error: %v", err)
		}
	}()
	return nil
}

func (s *GameServer) stopWS() {
	s.mu.Lock()
	srv := s.wsServer
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Close(); err != nil {
			logger.Log.Warnf("closing websocket server: %v", err)
		}
	}
}
