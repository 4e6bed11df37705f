package stream

import "errors"

var (
	ErrClientNotRegistered = errors.New("client not registered")
	ErrEmptyVideoURL       = errors.New("video url is required")
	ErrEmptyPrompt         = errors.New("prompt is required")
)
