package stt

// Recognition tasks understood by providers that support translation.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// Hints carries optional recognition parameters for one segment. Providers
// ignore fields they cannot use.
type Hints struct {
	// Language is an ISO-639-1 code such as "en" or "de". Empty lets the
	// provider auto-detect.
	Language string

	// Task is [TaskTranscribe] (the default when empty) or [TaskTranslate],
	// which asks for an English translation.
	Task string

	// Prompt is context text that biases recognition, typically the speaker's
	// previous utterances or a vocabulary list (Whisper "initial_prompt").
	Prompt string

	// Filename is the name sent with multipart uploads. Some services log it,
	// so it usually identifies the speaker.
	Filename string
}

// Result is the outcome of a successful transcription.
type Result struct {
	// Text is the recognised speech, possibly with surrounding whitespace.
	Text string

	// Language is the language the provider detected or used. May be empty.
	Language string
}

// Detection is the outcome of language identification.
type Detection struct {
	// Language is the human-readable language name, e.g. "english".
	Language string

	// Code is the ISO-639-1 code, e.g. "en".
	Code string
}
