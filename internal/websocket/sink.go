package websocket

import (
	"codeberg.org/recipechat/server/internal/errors"
	"codeberg.org/recipechat/server/internal/stream"
)

// clientSink delivers stream events to a single client as typed messages.
// recipe streams go out as recipe_stream messages and answers as response
// messages, matching what the frontend listens for.
type clientSink struct {
	client *Client
}

func newClientSink(client *Client) *clientSink {
	return &clientSink{client: client}
}

func (s *clientSink) Send(ev stream.Event) error {
	msgType := TypeResponse
	if ev.Stream == stream.StreamRecipe {
		msgType = TypeRecipeStream
	}

	var payload any

	switch ev.Kind {
	case stream.EventStarted:
		payload = StreamStartedPayload{
			MessageID: ev.RequestID,
			Status:    "started",
		}
	case stream.EventChunk:
		payload = StreamChunkPayload{
			Data:      ev.Data,
			Streaming: true,
			MessageID: ev.RequestID,
		}
	case stream.EventComplete:
		payload = StreamCompletePayload{
			Complete:  true,
			MessageID: ev.RequestID,
		}
	case stream.EventStopped:
		payload = StreamStoppedPayload{
			Stopped:   true,
			MessageID: ev.RequestID,
		}
	case stream.EventError:
		detail := "stream failed"
		if ev.Err != "" {
			detail = errors.Sanitize(ev.Err)
		}

		payload = StreamErrorPayload{
			Error:     detail,
			MessageID: ev.RequestID,
		}
	default:
		return ErrInvalidMessage
	}

	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	return s.client.Send(msg)
}
