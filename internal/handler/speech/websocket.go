package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/verdantsentinel/backend/internal/handler/apierr"
	"github.com/verdantsentinel/backend/internal/model/chat"
	"github.com/verdantsentinel/backend/internal/model/locale"
	chatservice "github.com/verdantsentinel/backend/internal/service/chat"
	"github.com/verdantsentinel/backend/internal/service/conversation"
)

const (
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
	writeWait       = 10 * time.Second
	maxBufferedClip = 16 << 20
)

// WebSocketHandler serves the live session socket: typed and spoken turns,
// playback events and language changes over one connection.
type WebSocketHandler struct {
	sessions  *chatservice.Service
	turns     *conversation.Service
	languages locale.Store
	upgrader  websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(sessions *chatservice.Service, turns *conversation.Service, languages locale.Store) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:  sessions,
		turns:     turns,
		languages: languages,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// AudioMessage carries one chunk of a recording; base64 in JSON.
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	MimeType  string `json:"mimeType"`
	Language  string `json:"language"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// PlaybackMessage reports an audio element event for one message.
type PlaybackMessage struct {
	MessageID string  `json:"messageId"`
	Event     string  `json:"event"`
	Progress  float64 `json:"progress"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	Language string `json:"language"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// socketWriter serialises writes; gorilla allows one concurrent writer.
type socketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sw *socketWriter) send(msgType, sessionID string, data interface{}) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	_ = sw.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := sw.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Debug().Err(err).Str("component", "websocket").Str("type", msgType).Msg("write failed")
	}
}

func (sw *socketWriter) ping() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (sw *socketWriter) sendError(sessionID, message string) {
	sw.send("error", sessionID, map[string]string{"message": message})
}

type connectionState struct {
	sessionID string
	mimeType  string
	buffer    bytes.Buffer
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "websocket").Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().Str("component", "websocket").Str("session", sessionID).Logger()
	logger.Info().Msg("connection opened")

	// turns outlive a read error until they return; rendering outlives both
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var turns sync.WaitGroup
	writer := &socketWriter{conn: conn}
	sink := conversation.NewGuardedSink(func(e conversation.Event) {
		writer.send("event", sessionID, e)
	})
	defer func() {
		cancel()
		turns.Wait()
		sink.Close()
		logger.Info().Msg("connection closed")
	}()

	conn.SetReadLimit(maxBufferedClip)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go h.pingLoop(ctx, writer)

	writer.send("connected", sessionID, map[string]any{"language": session.Language})

	state := &connectionState{sessionID: sessionID}
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			writer.sendError(sessionID, "session mismatch")
			continue
		}

		switch msg.Type {
		case "text":
			var text TextMessage
			if err := json.Unmarshal(msg.Data, &text); err != nil {
				writer.sendError(sessionID, "invalid text payload")
				continue
			}
			h.runTurn(ctx, &turns, writer, func(ctx context.Context) (conversation.TurnResult, error) {
				return h.turns.SendText(ctx, sessionID, text.Text, sink)
			})
		case "audio":
			h.handleAudioMessage(ctx, &turns, writer, sink, state, msg.Data)
		case "playback":
			h.handlePlaybackMessage(ctx, writer, sessionID, msg.Data)
		case "config":
			h.handleConfigMessage(ctx, writer, sessionID, msg.Data)
		default:
			writer.sendError(sessionID, "unsupported message type: "+msg.Type)
		}
	}
}

// runTurn runs a turn off the read loop so pongs and playback events keep
// flowing. A second turn is rejected by the session's in-flight guard.
func (h *WebSocketHandler) runTurn(ctx context.Context, wg *sync.WaitGroup, writer *socketWriter, run func(context.Context) (conversation.TurnResult, error)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		// results reach the client as sink events
		if _, err := run(ctx); err != nil {
			_, msg, ok := apierr.Status(err)
			if !ok {
				log.Error().Err(err).Str("component", "websocket").Msg("turn failed")
				msg = "turn failed"
			}
			writer.sendError("", msg)
		}
	}()
}

func (h *WebSocketHandler) handleAudioMessage(ctx context.Context, wg *sync.WaitGroup, writer *socketWriter, sink conversation.Sink, state *connectionState, raw json.RawMessage) {
	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		writer.sendError(state.sessionID, "invalid audio payload")
		return
	}
	if state.buffer.Len()+len(audio.AudioData) > maxBufferedClip {
		state.buffer.Reset()
		writer.sendError(state.sessionID, "recording is too long")
		return
	}
	state.buffer.Write(audio.AudioData)
	if audio.MimeType != "" {
		state.mimeType = audio.MimeType
	}
	if audio.Language != "" {
		if err := h.sessions.SetLanguage(ctx, state.sessionID, h.resolveLanguage(audio.Language)); err != nil {
			state.buffer.Reset()
			writer.sendError(state.sessionID, "session not found")
			return
		}
	}
	if !audio.IsFinal {
		return
	}

	blob := append([]byte(nil), state.buffer.Bytes()...)
	mimeType := state.mimeType
	state.buffer.Reset()
	state.mimeType = ""

	h.runTurn(ctx, wg, writer, func(ctx context.Context) (conversation.TurnResult, error) {
		return h.turns.SendAudio(ctx, state.sessionID, blob, mimeType, sink)
	})
}

func (h *WebSocketHandler) handlePlaybackMessage(ctx context.Context, writer *socketWriter, sessionID string, raw json.RawMessage) {
	var payload PlaybackMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		writer.sendError(sessionID, "invalid playback payload")
		return
	}
	event, err := chat.ParsePlaybackEvent(payload.Event)
	if err != nil {
		writer.sendError(sessionID, err.Error())
		return
	}
	if msg, ok := h.sessions.Message(ctx, payload.MessageID); !ok || msg.SessionID != sessionID {
		writer.sendError(sessionID, "message not found")
		return
	}

	changed := h.sessions.HandlePlaybackEvent(ctx, payload.MessageID, event, payload.Progress)
	if len(changed) > 0 {
		writer.send("playback", sessionID, changed)
	}
}

func (h *WebSocketHandler) handleConfigMessage(ctx context.Context, writer *socketWriter, sessionID string, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		writer.sendError(sessionID, "invalid config payload")
		return
	}
	if strings.TrimSpace(cfg.Language) != "" {
		if err := h.sessions.SetLanguage(ctx, sessionID, h.resolveLanguage(cfg.Language)); err != nil {
			writer.sendError(sessionID, "session not found")
			return
		}
	}

	session, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		writer.sendError(sessionID, "session not found")
		return
	}
	writer.send("config", sessionID, map[string]any{"language": session.Language})
}

func (h *WebSocketHandler) resolveLanguage(code string) string {
	if h.languages == nil {
		return strings.TrimSpace(code)
	}
	return h.languages.Resolve(code).Code
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, writer *socketWriter) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.ping(); err != nil {
				return
			}
		}
	}
}
