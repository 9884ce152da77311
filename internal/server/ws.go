package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnnixInvestments/annix-sub033/internal/meeting"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 1 << 20
	eventBuffer      = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents streams bus events as JSON text messages until the client
// goes away. Slow clients miss events rather than stalling publishers.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		unavailable(w, "event bus")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Event stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.deps.Bus.Subscribe(eventBuffer)
	defer unsubscribe()
	h.metrics.SetEventSubscribers(h.deps.Bus.Subscribers())
	defer func() { h.metrics.SetEventSubscribers(h.deps.Bus.Subscribers() - 1) }()

	h.logger.Info("Event stream client connected", slog.String("remote", r.RemoteAddr))

	// The read side only handles control frames and notices disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("Event stream client disconnected", slog.String("remote", r.RemoteAddr))
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ingestControl is a text message on the ingest socket. It changes the
// speaker or the audio format for the binary messages that follow.
type ingestControl struct {
	Type        string         `json:"type"` // "speaker", "format" or "end"
	SpeakerID   string         `json:"speaker_id,omitempty"`
	SpeakerName string         `json:"speaker_name,omitempty"`
	SampleRate  int            `json:"sample_rate,omitempty"`
	Channels    int            `json:"channels,omitempty"`
	Format      meeting.Format `json:"format,omitempty"`
}

// handleIngest accepts meeting audio over a WebSocket. Binary messages are
// PCM in the current format; text messages are ingestControl. The session
// is created on connect and finalized when the client sends "end" or
// disconnects.
func (h *HTTPServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Meetings == nil {
		unavailable(w, "meeting manager")
		return
	}

	sessionID := r.PathValue("session")
	q := r.URL.Query()

	current := meeting.Chunk{
		SessionID:   sessionID,
		SpeakerID:   q.Get("speaker_id"),
		SpeakerName: q.Get("speaker_name"),
		Format:      meeting.FormatS16LE,
		SampleRate:  16000,
		Channels:    1,
	}
	if f := q.Get("format"); f != "" {
		current.Format = meeting.Format(f)
	}
	if v, err := strconv.Atoi(q.Get("sample_rate")); err == nil && v > 0 {
		current.SampleRate = v
	}
	if v, err := strconv.Atoi(q.Get("channels")); err == nil && v > 0 {
		current.Channels = v
	}

	if _, err := h.deps.Meetings.CreateSession(sessionID, q.Get("title")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Ingest upgrade failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		h.deps.Meetings.RemoveSession(sessionID)
		return
	}
	defer conn.Close()
	defer h.deps.Meetings.RemoveSession(sessionID)

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Time{})

	logger := h.logger.With(slog.String("session_id", sessionID), slog.String("remote", r.RemoteAddr))
	logger.Info("Meeting ingest connected",
		slog.String("format", string(current.Format)),
		slog.Int("sample_rate", current.SampleRate),
	)

	var chunks, rejected uint64
	defer func() {
		logger.Info("Meeting ingest closed", slog.Uint64("chunks", chunks), slog.Uint64("rejected", rejected))
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Ingest read error", slog.String("error", err.Error()))
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			c := current
			c.Data = data
			c.Timestamp = time.Now()
			if err := h.deps.Meetings.ProcessChunk(c, "websocket"); err != nil {
				rejected++
				if errors.Is(err, meeting.ErrSessionNotFound) {
					h.closeWith(conn, websocket.CloseGoingAway, "session ended")
					return
				}
				logger.Debug("Rejected ingest chunk", slog.String("error", err.Error()))
				continue
			}
			chunks++

		case websocket.TextMessage:
			var ctl ingestControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				h.closeWith(conn, websocket.CloseUnsupportedData, "invalid control message")
				return
			}
			switch ctl.Type {
			case "speaker":
				current.SpeakerID = ctl.SpeakerID
				current.SpeakerName = ctl.SpeakerName
			case "format":
				if ctl.Format != "" {
					current.Format = ctl.Format
				}
				if ctl.SampleRate > 0 {
					current.SampleRate = ctl.SampleRate
				}
				if ctl.Channels > 0 {
					current.Channels = ctl.Channels
				}
			case "end":
				h.closeWith(conn, websocket.CloseNormalClosure, "")
				return
			default:
				logger.Debug("Unknown ingest control", slog.String("type", ctl.Type))
			}
		}
	}
}

func (h *HTTPServer) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
