package hl7v2

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radrecon/radrecon/internal/platform/telemetry"
)

// writeTimeout bounds acknowledgment writes so a dead peer cannot pin a
// connection goroutine.
const writeTimeout = 10 * time.Second

// MessageHandler is called for each complete inbound frame with the raw
// payload and its parsed form. It returns the acknowledgment to send back,
// or nil to send nothing.
type MessageHandler func(raw []byte, msg *Message) *Message

// ServerConfig configures the MLLP listener.
type ServerConfig struct {
	Addr          string
	IdleTimeout   time.Duration
	MaxFrameBytes int
}

// Server listens for HL7v2 messages over MLLP/TCP. Every accepted
// connection gets its own goroutine and its own framing buffer, so peers
// never share parsing state.
type Server struct {
	cfg      ServerConfig
	handler  MessageHandler
	log      zerolog.Logger
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates an MLLP server that listens on cfg.Addr and dispatches
// each parsed message to handler.
func NewServer(cfg ServerConfig, handler MessageHandler, log zerolog.Logger) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log,
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins listening. The accept loop runs in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("mllp listener started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// Stop closes the listener and all tracked connections, then waits for
// every connection goroutine to finish.
func (s *Server) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound listener address, useful with port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Error().Err(err).Msg("mllp accept error")
			return
		}

		s.trackConn(conn, true)
		s.log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("mllp connection accepted")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		telemetry.MLLPConnections.Inc()
	} else {
		delete(s.conns, conn)
		telemetry.MLLPConnections.Dec()
	}
}

// handleConnection reads frames from conn until the peer disconnects, the
// idle timeout elapses, or the peer misbehaves (oversized frame). A bad
// message never terminates the session: the peer gets a negative
// acknowledgment and the next frame is read normally.
func (s *Server) handleConnection(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			for {
				payload, rest, found, ferr := Unframe(buf, s.cfg.MaxFrameBytes)
				if ferr != nil {
					s.log.Warn().Err(ferr).Str("peer", peer).Msg("mllp framing error, closing connection")
					s.respond(conn, BuildAck(nil, AckError, "frame exceeds maximum length"))
					return
				}
				if !found {
					break
				}
				buf = rest
				s.processFrame(conn, peer, payload)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle or stalled mid-frame: either way, close.
				if len(buf) > 0 {
					s.log.Warn().Str("peer", peer).Int("pending_bytes", len(buf)).Msg("mllp connection stalled mid-frame")
				}
				return
			}
			return
		}
	}
}

// processFrame parses one payload and dispatches it. Unparseable payloads
// get a negative acknowledgment; the connection stays open.
func (s *Server) processFrame(conn net.Conn, peer string, payload []byte) {
	msg, err := Parse(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", peer).Msg("mllp message parse error")
		telemetry.MessagesTotal.WithLabelValues(telemetry.TransportMLLP, telemetry.OutcomeMalformed).Inc()
		s.respond(conn, BuildAck(nil, AckError, "malformed message"))
		return
	}

	resp := s.handler(payload, msg)
	if resp == nil {
		return
	}
	s.respond(conn, resp)
}

func (s *Server) respond(conn net.Conn, ack *Message) {
	framed := Frame(ack.Serialize())
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(framed); err != nil {
		s.log.Error().Err(err).Msg("mllp ack write error")
	}
}
