package orchestrator

import "errors"

var (
	ErrEmptyTranscription = errors.New("transcription text is empty")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrLLMFailed          = errors.New("language model request failed")
	ErrTTSFailed          = errors.New("text-to-speech request failed")
	ErrNilProvider        = errors.New("collaborator provider is nil")
	ErrContextCancelled   = errors.New("context cancelled")

	// ErrStoreWrite wraps a ConversationStore append failure. Append errors
	// propagate to the caller; the FSM still returns to Listening.
	ErrStoreWrite = errors.New("conversation store write failed")

	// ErrFatalInit marks a collaborator initialization failure the host
	// should surface at startup rather than retry (e.g. a missing ASR model
	// file).
	ErrFatalInit = errors.New("fatal collaborator initialization failure")
)
