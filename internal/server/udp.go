package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/config"
	"github.com/AnnixInvestments/annix-sub033/internal/meeting"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
	"github.com/AnnixInvestments/annix-sub033/internal/protocol"
)

// UDPServer receives TLV meeting audio from meeting bots and feeds the meeting manager.
type UDPServer struct {
	conn       *net.UDPConn
	config     *config.ServerConfig
	logger     *slog.Logger
	meetingMgr *meeting.Manager
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// One channel per worker; a stream always lands on the same worker so
	// its packets are handled in arrival order.
	queues []chan *incomingPacket

	streams   map[uint32]*ingestStream
	streamsMu sync.Mutex

	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// ingestStream is the per-stream state established by signaling. It is only
// touched by the worker owning the stream.
type ingestStream struct {
	sessionID   string
	speakerID   string
	speakerName string
	sampleRate  int
	channels    int
	format      meeting.Format
	reorder     *audio.ReorderBuffer
	lastLost    uint32
	lastSeen    time.Time
	created     time.Time
}

// NewUDPServer creates a new UDP server instance.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, meetingMgr *meeting.Manager, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	queues := make([]chan *incomingPacket, workers)
	for i := range queues {
		queues[i] = make(chan *incomingPacket, queueSize/workers+1)
	}

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		meetingMgr: meetingMgr,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		queues:     queues,
		streams:    make(map[uint32]*ingestStream),
	}
}

// Start begins listening for UDP packets.
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP ingest started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("workers", len(s.queues)),
	)

	for i := range s.queues {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	s.wg.Add(2)
	go s.receiveLoop()
	go s.cleanupLoop()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server.
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP ingest...")

	s.cancel()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop must be gone before the queues close.
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP ingest stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)
	return nil
}

func (s *UDPServer) receiveLoop() {
	defer func() {
		for _, q := range s.queues {
			close(q)
		}
		s.wg.Done()
	}()

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		data := make([]byte, n)
		copy(data, buffer[:n])

		q := s.queues[s.workerFor(data)]
		select {
		case q <- &incomingPacket{data: data, remoteAddr: remoteAddr, timestamp: time.Now()}:
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
		s.metrics.SetQueueSize(s.queued())
	}
}

// workerFor shards by stream ID; malformed packets go to worker 0 to be rejected there.
func (s *UDPServer) workerFor(data []byte) int {
	header, err := protocol.ParseHeader(data)
	if err != nil {
		return 0
	}
	return int(header.StreamID % uint32(len(s.queues)))
}

func (s *UDPServer) queued() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	for packet := range s.queues[workerID] {
		s.handlePacket(packet, workerID)
	}
}

func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeSignaling:
		s.processSignalingPacket(parsed.Header, parsed.Signaling, packet.timestamp)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsed.Header, parsed.Audio, packet.timestamp)
	case protocol.PacketTypeHangup:
		s.processHangup(parsed.Header.StreamID)
	}
}

// processSignalingPacket opens a stream, or updates its speaker and format.
func (s *UDPServer) processSignalingPacket(header *protocol.Header, p *protocol.SignalingPayload, now time.Time) {
	sessionID := p.GetSessionID()

	s.streamsMu.Lock()
	st, exists := s.streams[header.StreamID]
	if !exists {
		st = &ingestStream{reorder: audio.NewReorderBuffer(s.config.MaxReorderGap), created: now}
		s.streams[header.StreamID] = st
	}
	s.streamsMu.Unlock()

	if exists && st.sessionID != sessionID {
		s.logger.Warn("Stream switched meeting session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("from", st.sessionID),
			slog.String("to", sessionID),
		)
	}

	st.sessionID = sessionID
	st.speakerID = p.GetSpeakerID()
	st.speakerName = p.GetSpeakerName()
	st.sampleRate = int(p.SampleRate)
	st.channels = int(p.Channels)
	st.format = meeting.Format(p.FormatName())
	st.lastSeen = now

	if _, err := s.meetingMgr.CreateSession(sessionID, ""); err != nil {
		s.logger.Error("Failed to create meeting session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Debug("Signaling packet processed",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("session_id", sessionID),
		slog.String("speaker", st.speakerName),
		slog.Int("sample_rate", st.sampleRate),
	)
}

func (s *UDPServer) lookup(streamID uint32) (*ingestStream, bool) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	st, ok := s.streams[streamID]
	return st, ok
}

func (s *UDPServer) processAudioPacket(header *protocol.Header, p *protocol.AudioPayload, now time.Time) {
	st, ok := s.lookup(header.StreamID)
	if !ok {
		s.logger.Warn("Received audio packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(p.Sequence)),
		)
		return
	}
	st.lastSeen = now

	ready, err := st.reorder.Add(p.Sequence, p.AudioData)
	if err != nil {
		s.logger.Debug("Dropped packet",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()),
		)
		return
	}

	if lost := st.reorder.GetStats().LostPackets; lost > st.lastLost {
		s.metrics.RecordPacketsLost(lost - st.lastLost)
		st.lastLost = lost
	}

	s.deliver(header.StreamID, st, ready)
}

func (s *UDPServer) deliver(streamID uint32, st *ingestStream, payloads [][]byte) {
	for _, pcm := range payloads {
		if len(pcm) == 0 {
			continue
		}
		err := s.meetingMgr.ProcessChunk(meeting.Chunk{
			SessionID:   st.sessionID,
			SpeakerID:   st.speakerID,
			SpeakerName: st.speakerName,
			Format:      st.format,
			SampleRate:  st.sampleRate,
			Channels:    st.channels,
			Data:        pcm,
			Timestamp:   st.lastSeen,
		}, "udp")
		if errors.Is(err, meeting.ErrSessionNotFound) {
			// The session expired under us; the next signaling packet reopens it.
			s.dropStream(streamID)
			s.logger.Warn("Meeting session gone, dropping stream",
				slog.Uint64("stream_id", uint64(streamID)),
				slog.String("session_id", st.sessionID),
			)
			return
		}
		if err != nil {
			s.logger.Error("Failed to process meeting audio",
				slog.Uint64("stream_id", uint64(streamID)),
				slog.String("session_id", st.sessionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// processHangup flushes the stream and ends its session once no other stream feeds it.
func (s *UDPServer) processHangup(streamID uint32) {
	st, ok := s.lookup(streamID)
	if !ok {
		return
	}
	s.deliver(streamID, st, st.reorder.Flush())
	s.dropStream(streamID)

	if !s.sessionInUse(st.sessionID) {
		s.meetingMgr.RemoveSession(st.sessionID)
	}

	s.logger.Info("Stream hung up",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("session_id", st.sessionID),
	)
}

func (s *UDPServer) dropStream(streamID uint32) {
	s.streamsMu.Lock()
	delete(s.streams, streamID)
	s.streamsMu.Unlock()
}

func (s *UDPServer) sessionInUse(sessionID string) bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	for _, st := range s.streams {
		if st.sessionID == sessionID {
			return true
		}
	}
	return false
}

func (s *UDPServer) cleanupLoop() {
	defer s.wg.Done()

	timeout := time.Duration(s.config.StreamTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupStaleStreams(time.Now(), timeout)
		}
	}
}

// cleanupStaleStreams forgets streams that sent nothing for timeout. The
// meeting manager expires the sessions themselves.
func (s *UDPServer) cleanupStaleStreams(now time.Time, timeout time.Duration) int {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()

	removed := 0
	for id, st := range s.streams {
		if now.Sub(st.created) > timeout && now.Sub(st.reorder.LastUpdate()) > timeout {
			delete(s.streams, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Removed stale UDP streams", slog.Int("count", removed))
	}
	return removed
}

// GetStatistics returns current server statistics.
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	stats := ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		ParseErrors:      s.parseErrors,
		QueueSize:        uint64(s.queued()),
		Workers:          len(s.queues),
	}
	s.mu.RUnlock()

	s.streamsMu.Lock()
	stats.ActiveStreams = uint64(len(s.streams))
	s.streamsMu.Unlock()
	return stats
}

// ServerStatistics represents UDP ingest counters.
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	ActiveStreams    uint64 `json:"active_streams"`
	QueueSize        uint64 `json:"queue_size"`
	Workers          int    `json:"workers"`
}
