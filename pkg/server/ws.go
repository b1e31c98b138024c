package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmhart/confab/pkg/protocol"
	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

// wsEndpoint adapts a WebSocket connection into a peer endpoint. The
// WebSocket layer preserves message boundaries, so each ws message is one
// logical message and no extra framing is needed.
type wsEndpoint struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

var _ protocol.Endpoint = (*wsEndpoint)(nil)

func (e *wsEndpoint) Send(msg *pb.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("server: ws marshal: %w", err)
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("server: ws write: %w", err)
	}
	return nil
}

func (e *wsEndpoint) Receive() (*pb.Message, error) {
	_, data, err := e.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("server: ws read: %w", err)
	}
	msg := &pb.Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	return msg, nil
}

func (e *wsEndpoint) Close() error {
	return e.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Confab clients are standalone programs, not browsers; the Origin
	// header carries no meaning here.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// startWS starts the optional WebSocket listener. WebSocket clients go
// through the exact same lifecycle controller as TCP clients.
func (s *Server) startWS() error {
	if s.cfg.WSAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		go s.handleConn(&wsEndpoint{conn: conn}, r.RemoteAddr)
	})

	s.wsSrv = &http.Server{
		Addr:              s.cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("websocket listening", "addr", s.cfg.WSAddr)
		if err := s.wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("websocket server error", "err", err)
		}
	}()
	go func() {
		<-s.ctx.Done()
		_ = s.wsSrv.Close()
	}()
	return nil
}
