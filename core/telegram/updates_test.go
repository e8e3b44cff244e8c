package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/concierge/core/logger"
)

func TestPeek(t *testing.T) {
	id, kind, err := Peek([]byte(`{"update_id":10,"message":{"message_id":1}}`))
	require.NoError(t, err)
	assert.Equal(t, 10, id)
	assert.Equal(t, KindMessage, kind)

	_, kind, err = Peek([]byte(`{"update_id":11,"poll":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "poll", kind)
	assert.False(t, Supported(kind))

	id, kind, err = Peek([]byte(`{}`))
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, kind)

	_, _, err = Peek([]byte(`not json`))
	assert.Error(t, err)
}

func TestPeekPrefersMessage(t *testing.T) {
	cases := map[string]string{
		`{"update_id":1,"callback_query":{"id":"c"},"message":{"message_id":1}}`:        KindMessage,
		`{"update_id":2,"edited_message":{"message_id":1},"callback_query":{"id":"c"}}`: KindEditedMessage,
		`{"update_id":3,"poll":{},"callback_query":{"id":"c"}}`:                         KindCallbackQuery,
	}
	for raw, want := range cases {
		_, kind, err := Peek([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, want, kind, raw)
	}
}

func TestSenderAndChat(t *testing.T) {
	u := &tele.Update{ID: 3, Callback: &tele.Callback{
		Sender:  &tele.User{ID: 7},
		Message: &tele.Message{Chat: &tele.Chat{ID: 70}},
	}}
	assert.Equal(t, int64(7), SenderOf(u).ID)
	assert.Equal(t, int64(70), ChatOf(u))
	assert.Nil(t, SenderOf(&tele.Update{}))
	assert.Zero(t, ChatOf(nil))

	ctx := UpdateContext(context.Background(), u)
	assert.Equal(t, "3:70:7", logger.RIDFrom(ctx))
	assert.Equal(t, int64(7), logger.UserIDFrom(ctx))
}
