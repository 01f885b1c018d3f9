package hl7v2

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startTestServer(t *testing.T, cfg ServerConfig, handler MessageHandler) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv := NewServer(cfg, handler, zerolog.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func readFrame(t *testing.T, conn net.Conn, buf *[]byte) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	chunk := make([]byte, 1024)
	for {
		payload, rest, found, ferr := Unframe(*buf, 0)
		if ferr != nil {
			t.Fatalf("Unframe: %v", ferr)
		}
		if found {
			*buf = rest
			return payload
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			*buf = append(*buf, chunk[:n]...)
			continue
		}
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
	}
}

func TestServerAcceptsMessage(t *testing.T) {
	var mu sync.Mutex
	var gotRaw []byte

	srv := startTestServer(t, ServerConfig{}, func(raw []byte, msg *Message) *Message {
		mu.Lock()
		gotRaw = append([]byte{}, raw...)
		mu.Unlock()
		return BuildAck(msg, AckAccept, "")
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var rbuf []byte

	if _, err := conn.Write(Frame([]byte(sampleORU))); err != nil {
		t.Fatalf("write: %v", err)
	}

	ack, err := Parse(readFrame(t, conn, &rbuf))
	if err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	msa := ack.GetSegment("MSA")
	if msa == nil {
		t.Fatal("missing MSA")
	}
	if got := msa.Field(1); got != AckAccept {
		t.Errorf("MSA-1 = %q", got)
	}
	if got := msa.Field(2); got != "VAR0000042" {
		t.Errorf("MSA-2 = %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if string(gotRaw) != sampleORU {
		t.Error("handler did not receive the verbatim payload")
	}
}

func TestServerNAKKeepsConnectionOpen(t *testing.T) {
	srv := startTestServer(t, ServerConfig{}, func(raw []byte, msg *Message) *Message {
		return BuildAck(msg, AckAccept, "")
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var rbuf []byte

	// Unparseable payload: the server must NAK but keep reading.
	if _, err := conn.Write(Frame([]byte("this is not HL7"))); err != nil {
		t.Fatalf("write bad: %v", err)
	}
	nak, err := Parse(readFrame(t, conn, &rbuf))
	if err != nil {
		t.Fatalf("parse nak: %v", err)
	}
	msa := nak.GetSegment("MSA")
	if got := msa.Field(1); got != AckError {
		t.Errorf("MSA-1 = %q, want AE", got)
	}
	if got := msa.Field(2); got != "UNKNOWN" {
		t.Errorf("MSA-2 = %q", got)
	}

	// Same connection, valid message follows.
	if _, err := conn.Write(Frame([]byte(sampleORU))); err != nil {
		t.Fatalf("write good: %v", err)
	}
	ack, err := Parse(readFrame(t, conn, &rbuf))
	if err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if got := ack.GetSegment("MSA").Field(1); got != AckAccept {
		t.Errorf("MSA-1 after recovery = %q, want AA", got)
	}
}

func TestServerMultipleFramesOneWrite(t *testing.T) {
	srv := startTestServer(t, ServerConfig{}, func(raw []byte, msg *Message) *Message {
		return BuildAck(msg, AckAccept, "")
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var rbuf []byte

	batch := append(Frame([]byte(sampleORU)), Frame([]byte(sampleORU))...)
	if _, err := conn.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}

	for i := 0; i < 2; i++ {
		ack, err := Parse(readFrame(t, conn, &rbuf))
		if err != nil {
			t.Fatalf("ack %d: %v", i, err)
		}
		if got := ack.GetSegment("MSA").Field(1); got != AckAccept {
			t.Errorf("ack %d MSA-1 = %q", i, got)
		}
	}
}

func TestServerConcurrentConnections(t *testing.T) {
	srv := startTestServer(t, ServerConfig{}, func(raw []byte, msg *Message) *Message {
		return BuildAck(msg, AckAccept, "")
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", srv.Addr())
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			defer conn.Close()
			var rbuf []byte

			if _, err := conn.Write(Frame([]byte(sampleORU))); err != nil {
				t.Errorf("write: %v", err)
				return
			}
			ack, err := Parse(readFrame(t, conn, &rbuf))
			if err != nil {
				t.Errorf("parse ack: %v", err)
				return
			}
			if got := ack.GetSegment("MSA").Field(1); got != AckAccept {
				t.Errorf("MSA-1 = %q", got)
			}
		}()
	}
	wg.Wait()
}

func TestServerIdleTimeoutClosesConnection(t *testing.T) {
	srv := startTestServer(t, ServerConfig{IdleTimeout: 100 * time.Millisecond}, func(raw []byte, msg *Message) *Message {
		return BuildAck(msg, AckAccept, "")
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Send a start block and stall. The server must give up and close.
	if _, err := conn.Write([]byte{StartBlock}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	chunk := make([]byte, 64)
	if _, err := conn.Read(chunk); err == nil {
		t.Fatal("expected connection close, got data")
	}
}

func TestServerOversizedFrame(t *testing.T) {
	srv := startTestServer(t, ServerConfig{MaxFrameBytes: 64}, func(raw []byte, msg *Message) *Message {
		return BuildAck(msg, AckAccept, "")
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var rbuf []byte

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'A'
	}
	if _, err := conn.Write(Frame(big)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The server sends a NAK and then closes.
	nak, err := Parse(readFrame(t, conn, &rbuf))
	if err != nil {
		t.Fatalf("parse nak: %v", err)
	}
	if got := nak.GetSegment("MSA").Field(1); got != AckError {
		t.Errorf("MSA-1 = %q, want AE", got)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	chunk := make([]byte, 64)
	if _, err := conn.Read(chunk); err == nil {
		t.Fatal("expected connection close after oversized frame")
	}
}
