package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/concierge/core/logger"
)

// Update kinds handled by the pipeline.
const (
	KindMessage       = "message"
	KindEditedMessage = "edited_message"
	KindCallbackQuery = "callback_query"
)

// Supported reports whether kind is routed to the worker.
func Supported(kind string) bool {
	switch kind {
	case KindMessage, KindEditedMessage, KindCallbackQuery:
		return true
	}
	return false
}

// routedKinds lists the supported kinds in the order they win when an update
// carries more than one.
var routedKinds = []string{KindMessage, KindEditedMessage, KindCallbackQuery}

// Peek reads the update id and kind of a raw update without decoding the payload.
// The kind is the top-level field next to update_id; supported kinds take
// priority in routedKinds order.
func Peek(raw []byte) (int, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, "", fmt.Errorf("telegram: decode update: %w", err)
	}
	var id int
	if v, ok := fields["update_id"]; ok {
		if err := json.Unmarshal(v, &id); err != nil {
			return 0, "", fmt.Errorf("telegram: decode update_id: %w", err)
		}
	}
	for _, k := range routedKinds {
		if _, ok := fields[k]; ok {
			return id, k, nil
		}
	}
	other := make([]string, 0, len(fields))
	for k := range fields {
		if k != "update_id" {
			other = append(other, k)
		}
	}
	if len(other) == 0 {
		return id, "", nil
	}
	sort.Strings(other)
	return id, other[0], nil
}

// SenderOf returns the user that produced u, or nil.
func SenderOf(u *tele.Update) *tele.User {
	switch {
	case u == nil:
		return nil
	case u.Message != nil:
		return u.Message.Sender
	case u.EditedMessage != nil:
		return u.EditedMessage.Sender
	case u.Callback != nil:
		return u.Callback.Sender
	}
	return nil
}

// ChatOf returns the chat id u belongs to, or zero.
func ChatOf(u *tele.Update) int64 {
	switch {
	case u == nil:
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID
	case u.EditedMessage != nil && u.EditedMessage.Chat != nil:
		return u.EditedMessage.Chat.ID
	case u.Callback != nil && u.Callback.Message != nil && u.Callback.Message.Chat != nil:
		return u.Callback.Message.Chat.ID
	}
	return 0
}

// UpdateContext enriches ctx with RID and update/user/chat metadata for
// consistent service logging.
func UpdateContext(ctx context.Context, u *tele.Update) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	var userID int64
	if s := SenderOf(u); s != nil {
		userID = s.ID
	}
	chatID := ChatOf(u)
	var updateID int
	if u != nil {
		updateID = u.ID
	}
	rid := logger.RIDFrom(ctx)
	if rid == "" {
		rid = logger.BuildRID(updateID, chatID, userID)
	}
	ctx = logger.WithRID(ctx, rid)
	ctx = logger.WithUpdateMeta(ctx, updateID, userID, chatID)
	return logger.WithLogger(ctx, logger.Component(logger.CompTelegram))
}
