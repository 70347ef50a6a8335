package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/relay/internal/config"
	"github.com/zhouzirui/z-tavern/relay/internal/metrics"
	"github.com/zhouzirui/z-tavern/relay/internal/model/character"
	"github.com/zhouzirui/z-tavern/relay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/relay/internal/service/ai"
	chatservice "github.com/zhouzirui/z-tavern/relay/internal/service/chat"
)

// Fixed texts pushed to the client.
const (
	MsgCharacterNotFound = "Error: Character not found."
	MsgSessionExpired    = "Error: Session expired."
	MsgApology           = "AI: Sorry, an error occurred. Please try again."
)

// Generator produces the next assistant reply for a transcript.
type Generator interface {
	Generate(ctx context.Context, messages []chat.Message) (string, error)
}

// Options tunes a Handler.
type Options struct {
	Scope       config.SessionScope
	Guidelines  []string
	CheckOrigin func(r *http.Request) bool
	// PongWait is how long a channel may stay silent before it is dropped.
	// Pings go out at nine tenths of it. Defaults to 60s.
	PongWait time.Duration
	Logger   *slog.Logger
}

// Handler serves the chat channel: one WebSocket per client, bound to one
// character for its lifetime.
type Handler struct {
	characters character.Store
	sessions   *chatservice.Registry
	ai         Generator
	scope      config.SessionScope
	guidelines []string
	pongWait   time.Duration
	upgrader   websocket.Upgrader
	log        *slog.Logger

	mu       sync.Mutex
	channels map[*channel]struct{}
	closing  bool
}

// New 创建聊天处理器
func New(characters character.Store, sessions *chatservice.Registry, generator Generator, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := opts.Scope
	if scope == "" {
		scope = config.ScopeCharacter
	}
	guidelines := opts.Guidelines
	if guidelines == nil {
		guidelines = ai.DefaultGuidelines
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		characters: characters,
		sessions:   sessions,
		ai:         generator,
		scope:      scope,
		guidelines: guidelines,
		pongWait:   opts.PongWait,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:      logger.With("component", "chat"),
		channels: make(map[*channel]struct{}),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{characterID}", h.handleWebSocket)
}

// CloseAll cancels every open channel and sends each a going-away close
// frame. Channels opened afterwards are refused. It is meant for
// http.Server.RegisterOnShutdown, since Shutdown does not track hijacked
// connections.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	h.closing = true
	open := make([]*channel, 0, len(h.channels))
	for ch := range h.channels {
		open = append(open, ch)
	}
	h.mu.Unlock()

	for _, ch := range open {
		ch.shutdown()
	}
	if len(open) > 0 {
		h.log.Info("closed channels for shutdown", "channels", len(open))
	}
}

// Open returns the number of channels currently served.
func (h *Handler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

func (h *Handler) track(ch *channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.channels[ch] = struct{}{}
	metrics.ChannelsOpen.Inc()
	return true
}

func (h *Handler) untrack(ch *channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[ch]; ok {
		delete(h.channels, ch)
		metrics.ChannelsOpen.Dec()
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "characterID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.log.Warn("upgrade failed", "character", characterID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	ch := newChannel(ctx, cancel, conn, h.log.With("character", characterID), h.pongWait)
	defer ch.close()

	if !h.track(ch) {
		ch.shutdown()
		return
	}
	defer h.untrack(ch)

	h.serve(ch, characterID)
}

// sessionKey maps a channel onto its registry key under the configured scope.
func (h *Handler) sessionKey(characterID string) string {
	if h.scope == config.ScopeConnection {
		return characterID + "/" + uuid.NewString()
	}
	return characterID
}

func (h *Handler) serve(ch *channel, characterID string) {
	key := h.sessionKey(characterID)
	if h.scope == config.ScopeConnection {
		// Nothing else can reach a per-connection transcript once it closes.
		defer h.sessions.Remove(key)
	}

	// Reading starts before the greeting so pongs and disconnects are seen
	// while it runs. Frames sent meanwhile queue up in order.
	inbox := make(chan string, inboxSize)
	go ch.readPump(inbox)
	go ch.pingLoop()

	_, created, err := h.sessions.GetOrCreate(key, h.personaFactory(characterID), h.greet(ch))
	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			ch.log.Info("character not found")
			_ = ch.push(chat.RoleSystem, MsgCharacterNotFound)
			ch.closeNormal()
			return
		}
		ch.log.Error("open session", "error", err)
		ch.closeWith(websocket.CloseInternalServerErr, "")
		return
	}

	ch.log.Info("channel opened", "session", key, "scope", h.scope, "created", created)

	h.turnLoop(ch, key, inbox)
}

func (h *Handler) personaFactory(characterID string) chatservice.Factory {
	return func() (chat.Message, error) {
		c, ok := h.characters.FindByID(characterID)
		if !ok {
			return chat.Message{}, character.ErrNotFound
		}
		return ai.BuildPersonaPrompt(c, h.guidelines), nil
	}
}

// greet runs the opening completion for a new session. The registry holds the
// session exclusively, so no user turn can land before the greeting.
func (h *Handler) greet(ch *channel) chatservice.InitFunc {
	return func(s *chatservice.Session) {
		reply, err := h.ai.Generate(ch.ctx, s.Messages())
		if err != nil {
			if ch.ctx.Err() != nil {
				return
			}
			ch.log.Warn("greeting failed", "error", err)
			_ = ch.push(chat.RoleSystem, MsgApology)
			return
		}

		s.Append(chat.AssistantMessage(reply))
		if err := ch.push(chat.RoleAssistant, reply); err != nil {
			ch.log.Debug("push greeting", "error", err)
		}
	}
}

// turnLoop answers user frames one at a time until the read pump stops.
func (h *Handler) turnLoop(ch *channel, key string, inbox <-chan string) {
	log := ch.log.With("session", key)
	for text := range inbox {
		reply, err := h.turn(ch.ctx, key, text)
		switch {
		case err == nil:
			log.Info("turn completed", "input_length", len(text), "reply_length", len(reply))
			if err := ch.push(chat.RoleAssistant, reply); err != nil {
				log.Debug("push reply", "error", err)
				return
			}
		case errors.Is(err, chatservice.ErrSessionNotFound):
			log.Warn("session no longer available")
			_ = ch.push(chat.RoleSystem, MsgSessionExpired)
			ch.closeNormal()
			return
		case ch.ctx.Err() != nil:
			log.Info("turn cancelled", "error", err)
			return
		default:
			log.Warn("model call failed", "error", err)
			if err := ch.push(chat.RoleSystem, MsgApology); err != nil {
				return
			}
		}
	}
}

// turn runs one user message against the transcript under key. The user
// message and the reply are appended together, and only when the model
// answers, so a failed turn leaves the transcript as it was.
func (h *Handler) turn(ctx context.Context, key, text string) (string, error) {
	var reply string
	err := h.sessions.Do(key, func(s *chatservice.Session) error {
		user := chat.UserMessage(text)
		out, err := h.ai.Generate(ctx, append(s.Messages(), user))
		if err != nil {
			return err
		}
		s.Append(user, chat.AssistantMessage(out))
		reply = out
		return nil
	})
	return reply, err
}
