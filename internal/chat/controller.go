// Package chat drives one open chat widget: resolving the conversation,
// loading history, exchanging messages over the shared channel, typing
// indicators, attachments, voice messages and history clearing.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/internal/crypto"
	"github.com/eldtechnologies/carelink/internal/metrics"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/notify"
	"github.com/eldtechnologies/carelink/internal/realtime"
)

// Timing.
const (
	TypingIdleTimeout   = time.Second
	RemoteTypingTimeout = 3 * time.Second
	markReadTimeout     = 10 * time.Second
)

var (
	// ErrNoChat is returned by actions that need a resolved conversation.
	ErrNoChat = errors.New("no chat selected")
	// ErrStale is returned by Open when the widget was closed or reopened
	// before initialization finished. The result is discarded.
	ErrStale = errors.New("chat open cycle superseded")
)

// API is the chat slice of the backend. *carelink.Client implements it.
type API interface {
	CreateOrGetChat(ctx context.Context, counterpartID string) (*models.Chat, error)
	GetMessages(ctx context.Context, chatID string) ([]models.Message, error)
	MarkRead(ctx context.Context, chatID string) error
	ClearHistory(ctx context.Context, chatID string) error
	UploadFile(ctx context.Context, filename, contentType string, r io.Reader) (*models.Attachment, error)
}

// Channel is the borrowed realtime connection. *realtime.Manager implements it.
type Channel interface {
	Emit(ev realtime.Outbound) error
	Subscribe(fn func(realtime.Inbound)) func()
	Connected() bool
}

// Notifier receives user-facing errors and confirmations. *notify.Surface implements it.
type Notifier interface {
	Add(ctx context.Context, e notify.Entry, showToast bool) (models.Notification, error)
}

// Status is the widget lifecycle state.
type Status int

const (
	Idle Status = iota
	Initializing
	Ready
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	}
	return "idle"
}

// Target selects the conversation to open. ChatID wins when set; otherwise
// the conversation with CounterpartID is created or fetched.
type Target struct {
	ChatID        string
	CounterpartID string
	Counterpart   models.Counterpart
}

func (t Target) same(o Target) bool {
	if t.ChatID != "" || o.ChatID != "" {
		return t.ChatID == o.ChatID
	}
	return t.CounterpartID == o.CounterpartID
}

// View is a snapshot of the widget for rendering.
type View struct {
	Status            Status
	ChatID            string
	Counterpart       models.Counterpart
	Messages          []models.Message
	Draft             string
	CounterpartTyping bool
	// ScrollToLatest is set on the update that follows a received message.
	ScrollToLatest bool
}

// Controller is the state of one chat widget instance.
type Controller struct {
	api      API
	channel  Channel
	notifier Notifier
	timers   *Debouncer
	selfID   string
	logger   zerolog.Logger

	mu                sync.Mutex
	status            Status
	gen               uint64
	cycle             string
	target            Target
	chatID            string
	counterpart       models.Counterpart
	messages          []models.Message
	draft             string
	counterpartTyping bool
	unsubscribe       func()

	listenMu  sync.Mutex
	listeners map[int]func(View)
	nextID    int

	wg sync.WaitGroup
}

// NewController creates an idle widget controller. selfID is the viewer's
// user id; typing events from it are ignored.
func NewController(api API, channel Channel, notifier Notifier, clock Clock, selfID string, logger zerolog.Logger) *Controller {
	if clock == nil {
		clock = SystemClock()
	}
	return &Controller{
		api:       api,
		channel:   channel,
		notifier:  notifier,
		timers:    NewDebouncer(clock),
		selfID:    selfID,
		logger:    logger.With().Str("component", "chat").Logger(),
		listeners: make(map[int]func(View)),
	}
}

// Open initializes the widget for target. On failure the widget stays in
// Initializing with no messages and Open can be called again to retry.
// Opening the conversation that is already Ready is a no-op; opening a
// different one closes the current conversation first.
func (c *Controller) Open(ctx context.Context, target Target) error {
	c.mu.Lock()
	if c.status == Ready {
		if c.target.same(target) {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		c.Close()
		c.mu.Lock()
	}
	c.gen++
	gen := c.gen
	c.cycle = crypto.NewULID()
	cycle := c.cycle
	c.status = Initializing
	c.target = target
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.chatID = ""
	c.counterpart = target.Counterpart
	c.messages = nil
	c.counterpartTyping = false
	c.mu.Unlock()
	c.emitUpdate(false)

	logger := c.logger.With().Str("cycle", cycle).Logger()

	chatID := target.ChatID
	counterpart := target.Counterpart
	if chatID == "" {
		if target.CounterpartID == "" {
			return c.initFailed(ctx, gen, logger, "resolve", ErrNoChat)
		}
		chat, err := c.api.CreateOrGetChat(ctx, target.CounterpartID)
		if err != nil {
			return c.initFailed(ctx, gen, logger, "resolve", err)
		}
		chatID = chat.ID
		if chat.Counterpart.Name != "" {
			counterpart = chat.Counterpart
		}
	}

	history, err := c.api.GetMessages(ctx, chatID)
	if err != nil {
		return c.initFailed(ctx, gen, logger, "history", err)
	}
	if err := c.api.MarkRead(ctx, chatID); err != nil {
		return c.initFailed(ctx, gen, logger, "mark_read", err)
	}

	// Subscribe before joining so nothing sent to the room in between is lost.
	c.mu.Lock()
	if c.gen != gen || c.status != Initializing {
		c.mu.Unlock()
		logger.Debug().Str("chat_id", chatID).Msg("discarding stale init")
		return ErrStale
	}
	c.chatID = chatID
	c.counterpart = counterpart
	c.messages = history
	c.unsubscribe = c.channel.Subscribe(func(ev realtime.Inbound) { c.handleInbound(gen, ev) })
	c.mu.Unlock()

	joined := false
	if c.channel.Connected() {
		if err := c.channel.Emit(realtime.Join{Chat: chatID}); err != nil {
			c.abandonInit(gen)
			return c.initFailed(ctx, gen, logger, "join", err)
		}
		joined = true
	}

	c.mu.Lock()
	if c.gen != gen || c.status != Initializing {
		c.mu.Unlock()
		if joined {
			c.emit(realtime.Leave{Chat: chatID})
		}
		logger.Debug().Str("chat_id", chatID).Msg("discarding stale init")
		return ErrStale
	}
	c.status = Ready
	count := len(c.messages)
	c.mu.Unlock()

	logger.Info().Str("chat_id", chatID).Int("messages", count).Msg("chat ready")
	c.emitUpdate(true)
	return nil
}

// abandonInit drops the subscription and partial state of a failed cycle.
func (c *Controller) abandonInit(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.chatID = ""
	c.messages = nil
	c.counterpartTyping = false
}

func (c *Controller) initFailed(ctx context.Context, gen uint64, logger zerolog.Logger, step string, err error) error {
	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return ErrStale
	}

	logger.Error().Err(err).Str("step", step).Msg("chat init failed")
	c.report(ctx, models.NotificationError, "Chat", "Failed to load chat")
	return fmt.Errorf("open chat (%s): %w", step, err)
}

// Close leaves the room and returns the widget to Idle. A pending
// typing-stop is sent right away instead of on its timer.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.status == Idle {
		c.mu.Unlock()
		return
	}
	wasReady := c.status == Ready
	chatID := c.chatID
	c.status = Idle
	c.gen++
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.chatID = ""
	c.messages = nil
	c.draft = ""
	c.counterpartTyping = false
	c.mu.Unlock()

	stopPending := chatID != "" && c.timers.Cancel(chatID)
	c.timers.CancelAll()
	if wasReady && chatID != "" {
		if stopPending {
			c.emit(realtime.TypingStop{Chat: chatID})
		}
		c.emit(realtime.Leave{Chat: chatID})
		c.logger.Info().Str("chat_id", chatID).Msg("chat closed")
	}
	c.emitUpdate(false)
}

// Type records the draft and drives the outgoing typing indicator: a start
// on every keystroke and a single stop after TypingIdleTimeout of silence.
func (c *Controller) Type(text string) {
	c.mu.Lock()
	c.draft = text
	chatID := c.chatID
	ready := c.status == Ready
	c.mu.Unlock()

	if !ready || !c.channel.Connected() {
		return
	}
	c.emit(realtime.TypingStart{Chat: chatID})
	c.timers.Schedule(chatID, TypingIdleTimeout, func() {
		c.emit(realtime.TypingStop{Chat: chatID})
	})
}

// SendText sends the trimmed draft. A blank draft is ignored and kept.
func (c *Controller) SendText(ctx context.Context) error {
	c.mu.Lock()
	draft := c.draft
	content := strings.TrimSpace(draft)
	chatID := c.chatID
	ready := c.status == Ready
	c.mu.Unlock()

	if content == "" {
		return nil
	}
	if err := c.checkSendable(ctx, ready, chatID); err != nil {
		return err
	}

	if err := c.channel.Emit(realtime.Send{Chat: chatID, Content: content}); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Msg("send failed")
		c.report(ctx, models.NotificationError, "Chat", "Failed to send message")
		return err
	}
	metrics.MessagesSent.WithLabelValues(string(models.MessageText)).Inc()

	c.clearDraft(draft)
	c.timers.Cancel(chatID)
	c.emit(realtime.TypingStop{Chat: chatID})
	c.emitUpdate(false)
	return nil
}

// SendAttachment validates f, uploads it, and only then sends a message
// referencing the stored attachment. The draft, if any, becomes the caption.
func (c *Controller) SendAttachment(ctx context.Context, f File) error {
	c.mu.Lock()
	draft := c.draft
	caption := strings.TrimSpace(draft)
	chatID := c.chatID
	ready := c.status == Ready
	c.mu.Unlock()

	kind, err := ValidateAttachment(&f)
	if err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		c.report(ctx, models.NotificationWarning, "Attachment", err.Error())
		return err
	}
	if err := c.checkSendable(ctx, ready, chatID); err != nil {
		return err
	}

	att, err := c.upload(ctx, f.Name, f.ContentType, f.Body)
	if err != nil {
		return err
	}

	content := caption
	if content == "" {
		content = att.Filename
	}
	if content == "" {
		content = f.Name
	}
	if err := c.sendAttachment(ctx, chatID, kind, content, att); err != nil {
		return err
	}
	c.clearDraft(draft)
	c.emitUpdate(false)
	return nil
}

// SendVoiceMessage uploads a reviewed recording and sends it as an audio
// message labelled models.VoiceMessageLabel.
func (c *Controller) SendVoiceMessage(ctx context.Context, rec *Recording) error {
	c.mu.Lock()
	chatID := c.chatID
	ready := c.status == Ready
	c.mu.Unlock()

	if rec == nil || rec.Size() == 0 {
		c.report(ctx, models.NotificationWarning, "Voice message", ReasonEmptyRecording)
		return &ValidationError{Reason: ReasonEmptyRecording}
	}
	if rec.Size() > MaxAttachmentSize {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		c.report(ctx, models.NotificationWarning, "Voice message", ReasonTooLarge)
		return &ValidationError{Reason: ReasonTooLarge}
	}
	if err := c.checkSendable(ctx, ready, chatID); err != nil {
		return err
	}

	name := "voice-message-" + crypto.NewULID() + audioExtension(rec.ContentType)
	att, err := c.upload(ctx, name, rec.ContentType, rec.Reader())
	if err != nil {
		return err
	}
	return c.sendAttachment(ctx, chatID, models.MessageAudio, models.VoiceMessageLabel, att)
}

func audioExtension(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "audio/wav"), strings.HasPrefix(contentType, "audio/x-wav"):
		return ".wav"
	case strings.HasPrefix(contentType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(contentType, "audio/mpeg"):
		return ".mp3"
	}
	return ".webm"
}

func (c *Controller) checkSendable(ctx context.Context, ready bool, chatID string) error {
	if !ready || chatID == "" {
		c.report(ctx, models.NotificationWarning, "Chat", "No chat selected")
		return ErrNoChat
	}
	if !c.channel.Connected() {
		c.report(ctx, models.NotificationWarning, "Chat", "Not connected")
		return realtime.ErrNotConnected
	}
	return nil
}

func (c *Controller) upload(ctx context.Context, name, contentType string, body io.Reader) (*models.Attachment, error) {
	att, err := c.api.UploadFile(ctx, name, contentType, body)
	if err != nil {
		metrics.Uploads.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("filename", name).Msg("upload failed")
		c.report(ctx, models.NotificationError, "Attachment", "Failed to upload file")
		return nil, err
	}
	metrics.Uploads.WithLabelValues("ok").Inc()
	return att, nil
}

func (c *Controller) sendAttachment(ctx context.Context, chatID string, kind models.MessageType, content string, att *models.Attachment) error {
	err := c.channel.Emit(realtime.Send{Chat: chatID, Content: content, Type: kind, Attachment: att})
	if err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Msg("send failed")
		c.report(ctx, models.NotificationError, "Chat", "Failed to send message")
		return err
	}
	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()
	return nil
}

// ClearHistory asks confirm and, if it returns true, clears the viewer's
// copy of the conversation. Declining is not an error.
func (c *Controller) ClearHistory(ctx context.Context, confirm func(prompt string) bool) error {
	c.mu.Lock()
	chatID := c.chatID
	ready := c.status == Ready
	c.mu.Unlock()

	if !ready || chatID == "" {
		c.report(ctx, models.NotificationWarning, "Chat", "No chat selected")
		return ErrNoChat
	}
	if confirm == nil || !confirm("Clear chat history? This removes your copy of the conversation.") {
		return nil
	}

	if err := c.api.ClearHistory(ctx, chatID); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Msg("clear history failed")
		c.report(ctx, models.NotificationError, "Chat", "Failed to clear chat history")
		return err
	}

	c.mu.Lock()
	if c.chatID == chatID {
		c.messages = nil
	}
	c.mu.Unlock()

	c.report(ctx, models.NotificationSuccess, "Chat", "Chat history cleared")
	c.emitUpdate(false)
	return nil
}

func remoteTypingKey(chatID string) string {
	return "remote:" + chatID
}

func (c *Controller) handleInbound(gen uint64, ev realtime.Inbound) {
	c.mu.Lock()
	if c.gen != gen || c.status == Idle || c.chatID == "" || ev.ChatID() != c.chatID {
		c.mu.Unlock()
		return
	}
	chatID := c.chatID

	switch e := ev.(type) {
	case realtime.MessageReceived:
		if hasMessage(c.messages, e.Message.ID) {
			c.mu.Unlock()
			return
		}
		c.messages = append(c.messages, e.Message)
		c.mu.Unlock()

		metrics.MessagesReceived.Inc()
		c.emitUpdate(true)
		c.wg.Add(1)
		go c.markRead(gen, chatID)

	case realtime.UserTyping:
		if e.UserID != "" && e.UserID == c.selfID {
			c.mu.Unlock()
			return
		}
		c.counterpartTyping = true
		c.mu.Unlock()

		c.timers.Schedule(remoteTypingKey(chatID), RemoteTypingTimeout, func() {
			c.setCounterpartTyping(gen, false)
		})
		c.emitUpdate(false)

	case realtime.UserStoppedTyping:
		if e.UserID != "" && e.UserID == c.selfID {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.timers.Cancel(remoteTypingKey(chatID))
		c.setCounterpartTyping(gen, false)

	default:
		c.mu.Unlock()
	}
}

// hasMessage reports whether id is already in msgs. A message sent during
// the join can also be part of the fetched history.
func hasMessage(msgs []models.Message, id string) bool {
	if id == "" {
		return false
	}
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (c *Controller) setCounterpartTyping(gen uint64, typing bool) {
	c.mu.Lock()
	if c.gen != gen || c.counterpartTyping == typing {
		c.mu.Unlock()
		return
	}
	c.counterpartTyping = typing
	c.mu.Unlock()
	c.emitUpdate(false)
}

func (c *Controller) markRead(gen uint64, chatID string) {
	defer c.wg.Done()

	c.mu.Lock()
	open := c.gen == gen && c.status != Idle
	c.mu.Unlock()
	if !open {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()
	if err := c.api.MarkRead(ctx, chatID); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Msg("mark read failed")
	}
}

// Wait blocks until background read receipts have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) clearDraft(sent string) {
	c.mu.Lock()
	if c.draft == sent {
		c.draft = ""
	}
	c.mu.Unlock()
}

func (c *Controller) emit(ev realtime.Outbound) {
	if err := c.channel.Emit(ev); err != nil {
		c.logger.Debug().Err(err).Str("event", ev.Name()).Str("chat_id", ev.ChatID()).Msg("emit failed")
	}
}

func (c *Controller) report(ctx context.Context, typ models.NotificationType, title, message string) {
	if c.notifier == nil {
		return
	}
	if _, err := c.notifier.Add(ctx, notify.Entry{Title: title, Message: message, Type: typ}, true); err != nil {
		c.logger.Error().Err(err).Msg("failed to record notification")
	}
}

// OnUpdate registers fn to receive a View after every change.
func (c *Controller) OnUpdate(fn func(View)) func() {
	c.listenMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenMu.Unlock()

	return func() {
		c.listenMu.Lock()
		delete(c.listeners, id)
		c.listenMu.Unlock()
	}
}

// View returns the current snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(false)
}

func (c *Controller) viewLocked(scroll bool) View {
	msgs := make([]models.Message, len(c.messages))
	copy(msgs, c.messages)
	return View{
		Status:            c.status,
		ChatID:            c.chatID,
		Counterpart:       c.counterpart,
		Messages:          msgs,
		Draft:             c.draft,
		CounterpartTyping: c.counterpartTyping,
		ScrollToLatest:    scroll,
	}
}

func (c *Controller) emitUpdate(scroll bool) {
	c.mu.Lock()
	v := c.viewLocked(scroll)
	c.mu.Unlock()

	c.listenMu.Lock()
	fns := make([]func(View), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenMu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
