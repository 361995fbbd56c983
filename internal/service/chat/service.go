package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/verdantsentinel/backend/internal/metrics"
	"github.com/verdantsentinel/backend/internal/model/chat"
	"github.com/verdantsentinel/backend/internal/model/locale"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrTurnInFlight    = errors.New("a turn is already in progress for this session")
	ErrEmptyContent    = errors.New("message content is empty")
)

// conversation 是单个会话的全部可变状态。
type conversation struct {
	session     chat.Session
	messages    []chat.Message
	activeAudio string
	inFlight    bool
}

func (c *conversation) find(messageID string) int {
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// Service encapsulates conversation state management. Sessions live in a
// bounded LRU; the least recently used one is dropped when it is full.
type Service struct {
	mu       sync.RWMutex
	sessions *lru.Cache
	// messageID -> sessionID
	index map[string]string
}

// NewService bootstraps the in-memory chat service.
func NewService(maxSessions int) (*Service, error) {
	if maxSessions < 1 {
		maxSessions = 1
	}
	s := &Service{index: make(map[string]string)}
	cache, err := lru.NewWithEvict(maxSessions, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.sessions = cache
	return s, nil
}

// onEvict runs with s.mu held, from Add or Remove.
func (s *Service) onEvict(_ interface{}, value interface{}) {
	conv, ok := value.(*conversation)
	if !ok {
		return
	}
	for _, msg := range conv.messages {
		delete(s.index, msg.ID)
	}
}

func (s *Service) lookup(sessionID string) (*conversation, bool) {
	value, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	return value.(*conversation), true
}

func (s *Service) peek(sessionID string) (*conversation, bool) {
	value, ok := s.sessions.Peek(sessionID)
	if !ok {
		return nil, false
	}
	return value.(*conversation), true
}

// owner resolves the conversation and position of a message.
func (s *Service) owner(messageID string) (*conversation, int, bool) {
	sessionID, ok := s.index[messageID]
	if !ok {
		return nil, -1, false
	}
	conv, ok := s.lookup(sessionID)
	if !ok {
		return nil, -1, false
	}
	idx := conv.find(messageID)
	return conv, idx, idx >= 0
}

// CreateSession provisions an anonymous session speaking the given language.
func (s *Service) CreateSession(_ context.Context, language string) (chat.Session, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		language = locale.DefaultCode
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		Language:  language,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions.Add(session.ID, &conversation{session: session, messages: make([]chat.Message, 0, 16)})
	metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.lookup(sessionID)
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return conv.session, nil
}

// SetLanguage switches the reply language of a session.
func (s *Service) SetLanguage(_ context.Context, sessionID, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if language = strings.TrimSpace(language); language != "" {
		conv.session.Language = language
	}
	return nil
}

// DeleteSession drops a session and its messages.
func (s *Service) DeleteSession(_ context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.sessions.Remove(sessionID)
	metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	return removed
}

// AppendUserMessage appends a confirmed user turn.
func (s *Service) AppendUserMessage(_ context.Context, sessionID, content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyContent
	}
	return s.append(sessionID, chat.Message{Role: chat.RoleUser, Content: content})
}

// AppendPendingUserMessage appends a placeholder for a voice message that is
// still being transcribed. It is excluded from History until finalized.
func (s *Service) AppendPendingUserMessage(_ context.Context, sessionID string) (chat.Message, error) {
	return s.append(sessionID, chat.Message{Role: chat.RoleUser, Pending: true})
}

// AppendModelMessage appends a reply; audio is attached later.
func (s *Service) AppendModelMessage(_ context.Context, sessionID, content string) (chat.Message, error) {
	return s.append(sessionID, chat.Message{Role: chat.RoleModel, Content: content, PlaybackState: chat.PlaybackIdle})
}

func (s *Service) append(sessionID string, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.lookup(sessionID)
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	msg.ID = uuid.NewString()
	msg.SessionID = sessionID
	msg.CreatedAt = time.Now().UTC()

	conv.messages = append(conv.messages, msg)
	s.index[msg.ID] = sessionID
	return msg, nil
}

// FinalizeUserMessage fills a pending placeholder with its transcript.
func (s *Service) FinalizeUserMessage(_ context.Context, messageID, content string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx, ok := s.owner(messageID)
	if !ok || !conv.messages[idx].Pending {
		return chat.Message{}, false
	}
	conv.messages[idx].Content = content
	conv.messages[idx].Pending = false
	return conv.messages[idx], true
}

// RemoveMessage deletes a message, used to roll back a failed placeholder.
func (s *Service) RemoveMessage(_ context.Context, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx, ok := s.owner(messageID)
	if !ok {
		return false
	}
	conv.messages = append(conv.messages[:idx], conv.messages[idx+1:]...)
	delete(s.index, messageID)
	if conv.activeAudio == messageID {
		conv.activeAudio = ""
	}
	return true
}

// AttachAudio sets the rendered audio of a message. It is a no-op when the
// message no longer exists.
func (s *Service) AttachAudio(_ context.Context, messageID, audioRef string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx, ok := s.owner(messageID)
	if !ok {
		return chat.Message{}, false
	}
	conv.messages[idx].AudioRef = audioRef
	return conv.messages[idx], true
}

// UpdatePlaybackState applies a partial playback update to one message and
// returns every message it changed. Starting playback on a message first
// stops the one that was playing.
func (s *Service) UpdatePlaybackState(_ context.Context, messageID string, patch chat.PlaybackPatch) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx, ok := s.owner(messageID)
	if !ok {
		return nil
	}

	var changed []chat.Message
	if patch.IsPlaying != nil {
		if *patch.IsPlaying {
			changed = append(changed, conv.stopActive(messageID)...)
			conv.messages[idx].IsPlaying = true
			conv.messages[idx].PlaybackState = chat.PlaybackPlaying
			conv.activeAudio = messageID
		} else {
			conv.messages[idx].IsPlaying = false
			if patch.Progress == nil {
				conv.messages[idx].PlaybackProgress = 0
			}
			if conv.messages[idx].PlaybackState == chat.PlaybackPlaying {
				conv.messages[idx].PlaybackState = chat.PlaybackPaused
			}
			if conv.activeAudio == messageID {
				conv.activeAudio = ""
			}
		}
	}
	if patch.Progress != nil {
		conv.messages[idx].PlaybackProgress = clampProgress(*patch.Progress)
	}

	return append(changed, conv.messages[idx])
}

// HandlePlaybackEvent drives the idle -> playing -> paused|ended machine.
func (s *Service) HandlePlaybackEvent(_ context.Context, messageID string, event chat.PlaybackEvent, progress float64) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx, ok := s.owner(messageID)
	if !ok {
		return nil
	}
	msg := &conv.messages[idx]

	switch event {
	case chat.PlaybackPlay:
		if !msg.HasAudio() {
			return nil
		}
		changed := conv.stopActive(messageID)
		msg.IsPlaying = true
		msg.PlaybackProgress = 0
		msg.PlaybackState = chat.PlaybackPlaying
		conv.activeAudio = messageID
		return append(changed, *msg)

	case chat.PlaybackPause, chat.PlaybackEnd:
		msg.IsPlaying = false
		msg.PlaybackProgress = 0
		msg.PlaybackState = chat.PlaybackPaused
		if event == chat.PlaybackEnd {
			msg.PlaybackState = chat.PlaybackEnded
		}
		if conv.activeAudio == messageID {
			conv.activeAudio = ""
		}
		return []chat.Message{*msg}

	case chat.PlaybackTimeUpdate:
		if !msg.IsPlaying {
			return nil
		}
		msg.PlaybackProgress = clampProgress(progress)
		return []chat.Message{*msg}
	}
	return nil
}

// stopActive clears the currently playing message unless it is keep.
func (c *conversation) stopActive(keep string) []chat.Message {
	if c.activeAudio == "" || c.activeAudio == keep {
		return nil
	}
	idx := c.find(c.activeAudio)
	c.activeAudio = ""
	if idx < 0 {
		return nil
	}
	c.messages[idx].IsPlaying = false
	c.messages[idx].PlaybackProgress = 0
	c.messages[idx].PlaybackState = chat.PlaybackIdle
	return []chat.Message{c.messages[idx]}
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Message returns one message by id.
func (s *Service) Message(_ context.Context, messageID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, ok := s.index[messageID]
	if !ok {
		return chat.Message{}, false
	}
	conv, ok := s.peek(sessionID)
	if !ok {
		return chat.Message{}, false
	}
	idx := conv.find(messageID)
	if idx < 0 {
		return chat.Message{}, false
	}
	return conv.messages[idx], true
}

// Messages returns a copy of every message in the session, placeholders included.
func (s *Service) Messages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.peek(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := make([]chat.Message, len(conv.messages))
	copy(copied, conv.messages)
	return copied, nil
}

// History returns the confirmed turns of a session in order.
func (s *Service) History(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.peek(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	turns := make([]chat.Turn, 0, len(conv.messages))
	for _, msg := range conv.messages {
		if msg.Pending || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		turns = append(turns, msg.Turn())
	}
	return turns, nil
}

// BeginTurn marks a turn in flight. A second call before EndTurn fails with
// ErrTurnInFlight.
func (s *Service) BeginTurn(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if conv.inFlight {
		return ErrTurnInFlight
	}
	conv.inFlight = true
	return nil
}

// EndTurn releases the in-flight flag.
func (s *Service) EndTurn(_ context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.peek(sessionID); ok {
		conv.inFlight = false
	}
}

// Len 返回当前保留的会话数量。
func (s *Service) Len() int {
	return s.sessions.Len()
}
