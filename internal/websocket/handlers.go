package websocket

import (
	"errors"

	apperrors "codeberg.org/recipechat/server/internal/errors"
	"codeberg.org/recipechat/server/internal/logger"
	"codeberg.org/recipechat/server/internal/stream"
)

// handles generate_text messages: streams an answer about the fetched recipe
func GenerateTextHandler(registry *stream.Registry) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if !client.checkStreamStartRateLimit() {
			client.SendError(apperrors.CodeTooManyRequests, "rate limit exceeded", "too many stream requests, please slow down")
			return nil
		}

		var payload GenerateTextPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError(apperrors.CodeBadRequest, "invalid payload", err.Error())
			return nil
		}

		if len(payload.Prompt) > maxPromptSize {
			client.SendError(apperrors.CodeValidationError, "prompt too large", "prompt exceeds maximum allowed size")
			return nil
		}

		_, err := registry.StartQuestion(client.ID, payload.Prompt, newClientSink(client))
		if err != nil {
			sendStartFailure(client, TypeResponse, err)
		}

		return nil
	}
}

// handles fetch_recipe_stream messages: fetches a video transcript and streams
// the extracted recipe
func FetchRecipeHandler(registry *stream.Registry) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if !client.checkStreamStartRateLimit() {
			client.SendError(apperrors.CodeTooManyRequests, "rate limit exceeded", "too many stream requests, please slow down")
			return nil
		}

		var payload FetchRecipePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError(apperrors.CodeBadRequest, "invalid payload", err.Error())
			return nil
		}

		if len(payload.VideoURL) > maxVideoURLSize {
			client.SendError(apperrors.CodeValidationError, "video url too large", "video url exceeds maximum allowed size")
			return nil
		}

		_, err := registry.StartRecipe(client.ID, payload.VideoURL, newClientSink(client))
		if err != nil {
			sendStartFailure(client, TypeRecipeStream, err)
		}

		return nil
	}
}

// a start that fails validation never becomes a task, so the rejection goes
// out on the same message type the stream would have used
func sendStartFailure(client *Client, msgType string, err error) {
	detail := "unable to start stream"

	switch {
	case errors.Is(err, stream.ErrEmptyPrompt):
		detail = "no prompt provided"
	case errors.Is(err, stream.ErrEmptyVideoURL):
		detail = "video url is required"
	case errors.Is(err, stream.ErrClientNotRegistered):
		detail = "client not registered"
	}

	msg, msgErr := NewMessage(msgType, StreamErrorPayload{Error: detail})
	if msgErr != nil {
		logger.ErrorErr(msgErr, "failed to create stream error message",
			"client_id", client.ID,
		)
		return
	}

	client.Send(msg) //nolint:errcheck,gosec // G104: best effort error notification
}

// handles stop_stream messages: cancels the client's active stream
func StopStreamHandler(registry *stream.Registry) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		// payload is optional; an absent message_id targets the active stream
		var payload StopStreamPayload
		if len(msg.Payload) > 0 {
			if err := msg.UnmarshalPayload(&payload); err != nil {
				client.SendError(apperrors.CodeBadRequest, "invalid payload", err.Error())
				return nil
			}
		}

		// request ids are UUIDs; anything else can never name a stream
		if payload.MessageID != "" && !apperrors.IsValidUUID(payload.MessageID) {
			client.SendError(apperrors.CodeBadRequest, "invalid message_id format", "message_id must be a UUID")
			return nil
		}

		stopped := registry.Stop(client.ID, payload.MessageID)

		result, err := NewMessage(TypeStopResult, StopResultPayload{
			Success:   stopped,
			MessageID: payload.MessageID,
		})
		if err != nil {
			return err
		}

		return client.Send(result)
	}
}

// handles reset_conversation messages: clears the client's question history
func ResetConversationHandler(registry *stream.Registry) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if !registry.ResetConversation(client.ID) {
			client.SendError(apperrors.CodeNotFound, "client not registered", "")
			return nil
		}

		logger.Debug("conversation reset",
			"client_id", client.ID,
		)

		result, err := NewMessage(TypeResponse, map[string]any{
			"reset": true,
		})
		if err != nil {
			return err
		}

		return client.Send(result)
	}
}

// handles ping messages for connection keepalive
func PingHandler() MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		pong, err := NewMessage(TypePong, map[string]string{
			"status": "ok",
		})
		if err != nil {
			return err
		}

		return client.Send(pong)
	}
}
