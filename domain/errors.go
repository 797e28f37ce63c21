package domain

import "errors"

// Error taxonomy shared by adapters and use cases. Adapters wrap the
// provider error with one of these so callers can classify with errors.Is.
var (
	// ErrDevice means the capture device is unavailable, disconnected or
	// timed out. Fatal for the whole session.
	ErrDevice = errors.New("audio device error")

	// ErrEndOfStream is returned by finite audio sources (file replay) once
	// every block has been read. It ends the session cleanly.
	ErrEndOfStream = errors.New("end of audio stream")

	// ErrConnection means the transcription service could not be reached or
	// rejected the session. Fatal for the affected channel only.
	ErrConnection = errors.New("transcription connection error")

	// ErrDispatch covers backend failures: unreachable, timeout, non-2xx
	// status or a malformed response body.
	ErrDispatch = errors.New("backend dispatch error")

	// ErrPersistence means a chunk could not be written to the store.
	ErrPersistence = errors.New("persistence error")
)
