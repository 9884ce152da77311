package server

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/config"
	"github.com/AnnixInvestments/annix-sub033/internal/meeting"
	"github.com/AnnixInvestments/annix-sub033/internal/protocol"
	"github.com/AnnixInvestments/annix-sub033/internal/transcript"
)

func newTestUDPServer(t *testing.T) (*UDPServer, *meeting.Manager, net.Conn) {
	t.Helper()
	logger := testLogger()

	store, err := transcript.NewStore(filepath.Join(t.TempDir(), "transcripts"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	mgr, err := meeting.NewManager(logger, meeting.ManagerConfig{}, nil, store, nil, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	cfg := &config.ServerConfig{
		Enabled:       true,
		BindAddress:   "127.0.0.1",
		UDPPort:       0,
		BufferSize:    1 << 20,
		Workers:       2,
		QueueSize:     100,
		StreamTimeout: 30,
	}
	srv := NewUDPServer(cfg, logger, mgr, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, mgr, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestUDPStreamLifecycle(t *testing.T) {
	srv, mgr, conn := newTestUDPServer(t)

	payload, err := protocol.NewSignalingPayload("retro", "u1", "Alice", 16000, 1, protocol.FormatPCMS16LE)
	if err != nil {
		t.Fatalf("NewSignalingPayload failed: %v", err)
	}
	if _, err := conn.Write(protocol.EncodeSignaling(7, payload)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitFor(t, "session creation", func() bool {
		_, ok := mgr.GetSession("retro")
		return ok
	})

	for seq := uint32(0); seq < 3; seq++ {
		packet, err := protocol.EncodeAudio(7, seq, make([]byte, 640))
		if err != nil {
			t.Fatalf("EncodeAudio failed: %v", err)
		}
		conn.Write(packet)
	}
	waitFor(t, "audio packets", func() bool {
		return srv.GetStatistics().PacketsProcessed >= 4
	})

	if got := srv.GetStatistics().ActiveStreams; got != 1 {
		t.Errorf("Expected 1 active stream, got %d", got)
	}

	conn.Write(protocol.EncodeHangup(7))
	waitFor(t, "session removal", func() bool {
		_, ok := mgr.GetSession("retro")
		return !ok
	})
	if got := srv.GetStatistics().ActiveStreams; got != 0 {
		t.Errorf("Expected no active streams after hangup, got %d", got)
	}
}

func TestUDPRejectsMalformedPackets(t *testing.T) {
	srv, _, conn := newTestUDPServer(t)

	conn.Write([]byte{0xde, 0xad})
	waitFor(t, "parse error", func() bool {
		return srv.GetStatistics().ParseErrors == 1
	})
	if got := srv.GetStatistics().PacketsProcessed; got != 0 {
		t.Errorf("Expected no processed packets, got %d", got)
	}
}

func TestUDPAudioForUnknownStreamIsIgnored(t *testing.T) {
	srv, mgr, conn := newTestUDPServer(t)

	packet, _ := protocol.EncodeAudio(99, 0, make([]byte, 320))
	conn.Write(packet)
	waitFor(t, "packet handling", func() bool {
		return srv.GetStatistics().PacketsReceived == 1
	})

	time.Sleep(20 * time.Millisecond)
	if mgr.ActiveSessionCount() != 0 {
		t.Error("Audio without signaling must not open a session")
	}
}
