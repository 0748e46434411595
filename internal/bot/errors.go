package bot

import (
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"b24bot/internal/bitrix"
	"b24bot/internal/conversation"
	"b24bot/internal/credstore"
	"b24bot/internal/webhook"
)

// userMessage maps an internal error to the text shown in chat. The
// raw error never reaches the user; credentials stay out of chat.
func userMessage(err error) string {
	var apiErr *bitrix.APIError
	var verr *conversation.ValidationError

	switch {
	case errors.Is(err, credstore.ErrNotLinked):
		return conversation.NotLinkedMessage
	case errors.As(err, &verr):
		return verr.Msg
	case errors.As(err, &apiErr):
		return "Bitrix24 reported an error: " + apiErr.UserMessage()
	case errors.Is(err, bitrix.ErrTimeout):
		return "Bitrix24 is not responding right now. Try again later."
	case errors.Is(err, bitrix.ErrNetwork):
		return "Could not reach your Bitrix24 portal. Try again later."
	case errors.Is(err, webhook.ErrMalformedWebhook):
		return "That webhook URL is not valid. Send /auth to start over."
	default:
		return "Something went wrong. Try again later."
	}
}

func zapError(err error) zapcore.Field {
	return zap.Error(err)
}
