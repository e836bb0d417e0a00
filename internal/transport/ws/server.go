package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"warmines.gg/internal/protocol"
	"warmines.gg/internal/sim/engine"
)

type Server struct {
	engine  *engine.Engine
	schemas *protocol.Schemas
	log     *log.Logger

	upgrader websocket.Upgrader
}

// NewServer wires the player websocket endpoint. Schemas may be nil; then
// only structural JSON checks apply.
func NewServer(e *engine.Engine, schemas *protocol.Schemas, logger *log.Logger) *Server {
	s := &Server{
		engine:  e,
		schemas: schemas,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, playerID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCmd {
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				continue
			}
			if !s.validate(s.schemaCmd(), msg) {
				continue
			}
			var cmd protocol.CmdMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			s.engine.Inbox() <- engine.ActionEnvelope{
				SessionID: sessionID,
				PlayerID:  playerID,
				Cmd:       cmd,
			}
		}

		s.engine.Leave() <- sessionID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID, playerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", "", nil
	}
	if !s.validate(s.schemaHello(), msg) {
		closeWith(conn, "invalid HELLO")
		return "", "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", "", nil
	}

	out = make(chan []byte, 64)
	respCh := make(chan engine.JoinResponse, 1)
	s.engine.Join() <- engine.JoinRequest{
		PlayerName: hello.PlayerName,
		Out:        out,
		Resp:       respCh,
	}
	resp := <-respCh
	if resp.Err != nil {
		closeWith(conn, resp.Err.Error())
		return "", "", nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", "", nil
	}
	return resp.Welcome.SessionID, resp.Welcome.PlayerID, out
}

func (s *Server) schemaHello() schemaRef {
	if s.schemas == nil {
		return nil
	}
	return s.schemas.Hello
}

func (s *Server) schemaCmd() schemaRef {
	if s.schemas == nil {
		return nil
	}
	return s.schemas.Cmd
}

type schemaRef interface {
	Validate(v any) error
}

func (s *Server) validate(schema schemaRef, msg []byte) bool {
	if schema == nil {
		return true
	}
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return false
	}
	if err := schema.Validate(v); err != nil {
		if s.log != nil {
			s.log.Printf("ws: schema reject: %v", err)
		}
		return false
	}
	return true
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second),
	)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
