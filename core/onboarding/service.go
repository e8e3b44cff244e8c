// Package onboarding drives a user through the welcome sequence:
// welcome video, synthesized greeting, completion.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/concierge/core/fsm"
	"github.com/m3rciful/concierge/core/greeting"
	"github.com/m3rciful/concierge/core/locale"
	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/media"
	"github.com/m3rciful/concierge/core/store"
	"github.com/m3rciful/concierge/core/telegram"
	"github.com/m3rciful/concierge/core/telegram/keyboard"
	"github.com/m3rciful/concierge/core/token"
)

// Store is the persistence the flow needs.
type Store interface {
	UpsertProfile(ctx context.Context, c store.Contact, mark store.StartMark) (store.User, bool, error)
	TransitionState(ctx context.Context, t store.Transition) error
	ResetState(ctx context.Context, id string) error
}

// Greetings resolves the cached greeting audio for a user.
type Greetings interface {
	GetOrCreate(ctx context.Context, userID, lang string) (greeting.Result, error)
}

// Messenger delivers bot messages.
type Messenger interface {
	Send(ctx context.Context, m telegram.Message) error
}

// Options tunes the flow.
type Options struct {
	MediaTTL    time.Duration
	TokenMaxAge time.Duration
	// InlineMedia sends signed URLs as native attachments instead of URL buttons.
	InlineMedia bool
}

// Service runs the /start and /restart commands.
type Service struct {
	store     Store
	signer    media.Signer
	greetings Greetings
	messenger Messenger
	opts      Options
	now       func() time.Time
}

// NewService wires the flow.
func NewService(st Store, signer media.Signer, greetings Greetings, messenger Messenger, opts Options) *Service {
	if opts.MediaTTL <= 0 {
		opts.MediaTTL = media.DefaultTTL
	}
	if opts.TokenMaxAge <= 0 {
		opts.TokenMaxAge = token.DefaultMaxAge
	}
	return &Service{
		store:     st,
		signer:    signer,
		greetings: greetings,
		messenger: messenger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register binds the commands to reg.
func (s *Service) Register(reg *telegram.Registry) error {
	if err := reg.RegisterCommand("/start", telegram.Command{Handler: s.Start, Description: "Start onboarding"}); err != nil {
		return err
	}
	return reg.RegisterCommand("/restart", telegram.Command{Handler: s.Restart, Description: "Restart onboarding", Hidden: true})
}

// ContactOf maps a Telegram user onto the stored profile fields.
func ContactOf(u *tele.User) store.Contact {
	return store.Contact{
		TelegramID:   u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}

// Start records the contact and runs the action of the next onboarding state.
func (s *Service) Start(ctx context.Context, msg *tele.Message, payload string) error {
	if msg == nil || msg.Sender == nil || msg.Chat == nil {
		logger.Warn(ctx, logger.CompOnboarding, "onboarding.start.skip", slog.String("reason", "missing_sender"))
		return nil
	}
	now := s.now()
	lang := locale.OrDefault(msg.Sender.LanguageCode)
	attrs := token.Parse(payload)
	if !attrs.Empty() && !token.IsValid(attrs, s.opts.TokenMaxAge, now) {
		logger.Warn(ctx, logger.CompOnboarding, "token.expired",
			slog.Int64("issued_at", *attrs.IssuedAt),
			slog.Duration("max_age", s.opts.TokenMaxAge),
		)
	}

	contact := ContactOf(msg.Sender)
	contact.LanguageCode = lang
	user, created, err := s.store.UpsertProfile(ctx, contact, store.StartMark{At: now, Referral: attrs})
	if err != nil {
		return fmt.Errorf("onboarding: upsert %d: %w", msg.Sender.ID, err)
	}

	current := fsm.Normalize(user.State)
	next := fsm.Next(current)
	logger.Info(ctx, logger.CompOnboarding, "onboarding.start",
		slog.String("user_id", user.UserID),
		slog.Bool("created", created),
		slog.String("state", string(current)),
		slog.String("next", string(next)),
		slog.String("lang", locale.Normalize(lang)),
		slog.Bool("ref", attrs.RefCode != ""),
	)

	step := stepContext{user: user, from: current, to: next, chatID: msg.Chat.ID, lang: lang, at: now}
	switch next {
	case fsm.WelcomeVideoSent:
		return s.sendWelcome(ctx, step)
	case fsm.TTSSent:
		return s.sendGreeting(ctx, step)
	case fsm.Done:
		return s.sendDone(ctx, step)
	}
	return fmt.Errorf("onboarding: no action for state %s", next)
}

type stepContext struct {
	user   store.User
	from   fsm.State
	to     fsm.State
	chatID int64
	lang   string
	at     time.Time
}

func (s *Service) sendWelcome(ctx context.Context, st stepContext) error {
	t := textsFor(st.lang)
	url, err := s.signer.Sign(ctx, media.WelcomeVideoKey(st.lang), s.opts.MediaTTL)
	if err != nil {
		return fmt.Errorf("onboarding: sign welcome video: %w", err)
	}
	if err := s.messenger.Send(ctx, s.mediaMessage(st.chatID, t.Welcome, t.WelcomeButton, url, true)); err != nil {
		return fmt.Errorf("onboarding: send welcome: %w", err)
	}
	return s.advance(ctx, st, store.Transition{})
}

func (s *Service) sendGreeting(ctx context.Context, st stepContext) error {
	t := textsFor(st.lang)
	res, err := s.greetings.GetOrCreate(ctx, st.user.UserID, st.lang)
	if err != nil {
		return fmt.Errorf("onboarding: greeting: %w", err)
	}
	url, err := s.signer.Sign(ctx, res.Key, s.opts.MediaTTL)
	if err != nil {
		return fmt.Errorf("onboarding: sign greeting: %w", err)
	}
	if err := s.messenger.Send(ctx, s.mediaMessage(st.chatID, t.Greeting, t.GreetingBtn, url, false)); err != nil {
		return fmt.Errorf("onboarding: send greeting: %w", err)
	}
	return s.advance(ctx, st, store.Transition{TTSKey: res.Key, TTSLang: res.Lang})
}

func (s *Service) sendDone(ctx context.Context, st stepContext) error {
	if err := s.messenger.Send(ctx, telegram.Message{ChatID: st.chatID, Text: textsFor(st.lang).Done}); err != nil {
		return fmt.Errorf("onboarding: send done: %w", err)
	}
	if fsm.IsTerminal(st.from) {
		logger.Debug(ctx, logger.CompOnboarding, "onboarding.done.resent", slog.String("user_id", st.user.UserID))
		return nil
	}
	return s.advance(ctx, st, store.Transition{})
}

func (s *Service) mediaMessage(chatID int64, text, button, url string, video bool) telegram.Message {
	m := telegram.Message{ChatID: chatID, Text: text}
	switch {
	case !s.opts.InlineMedia:
		m.Buttons = []keyboard.Button{keyboard.URL(button, url)}
	case video:
		m.Video = url
	default:
		m.Audio = url
	}
	return m
}

// advance persists the move with compare-and-swap. A lost race is logged:
// the message is already out and the concurrent writer owns the state.
func (s *Service) advance(ctx context.Context, st stepContext, t store.Transition) error {
	t.UserID = st.user.UserID
	t.From = st.from
	t.To = st.to
	t.At = st.at
	err := s.store.TransitionState(ctx, t)
	if errors.Is(err, store.ErrStateConflict) {
		logger.Warn(ctx, logger.CompOnboarding, "onboarding.transition_conflict",
			slog.String("user_id", t.UserID),
			slog.String("from", string(t.From)),
			slog.String("to", string(t.To)),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("onboarding: transition %s: %w", t.UserID, err)
	}
	return nil
}

// Restart resets the sender to NEW so the next /start begins again.
func (s *Service) Restart(ctx context.Context, msg *tele.Message, _ string) error {
	if msg == nil || msg.Sender == nil || msg.Chat == nil {
		logger.Warn(ctx, logger.CompOnboarding, "onboarding.restart.skip", slog.String("reason", "missing_sender"))
		return nil
	}
	t := textsFor(msg.Sender.LanguageCode)
	id := store.UserID(msg.Sender.ID)
	err := s.store.ResetState(ctx, id)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		logger.Info(ctx, logger.CompOnboarding, "onboarding.restart.unknown_user", slog.String("user_id", id))
		if err := s.messenger.Send(ctx, telegram.Message{ChatID: msg.Chat.ID, Text: t.NotRegistered}); err != nil {
			return fmt.Errorf("onboarding: send not registered: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("onboarding: reset %s: %w", id, err)
	}
	if err := s.messenger.Send(ctx, telegram.Message{ChatID: msg.Chat.ID, Text: t.Reset}); err != nil {
		return fmt.Errorf("onboarding: send reset: %w", err)
	}
	return nil
}
