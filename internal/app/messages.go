package app

import "fmt"

// Replies shown to the requester. Command handlers and the stop orchestrator
// use these verbatim.
const (
	MsgNoActiveSession = "No active scrying session found. Please start a session first."
	MsgStopping        = "Stopping the scrying and processing the vision… This may take a while. Please remain patient and do not leave."
	MsgStopFailed      = "Transcription or summary failed."
	MsgStopError       = "An error occurred while processing the transcription and summary."
	MsgStopInProgress  = "A stop is already in progress."
	MsgSessionActive   = "A scrying session is already in progress. Stop it before starting a new one."
	MsgInvalidName     = "Session names must not be empty or contain slashes."
	MsgNotInVoice      = "You must be in a voice channel to start a scrying session."
	MsgStartFailed     = "The scrying orb failed to awaken. Please try again."
	MsgStartAborted    = "The scrying was stopped before the orb awoke."

	MsgSummaryFailed     = "Unable to reveal the summary of the vision."
	MsgSummaryError      = "An error occurred while attempting to reveal the summary."
	MsgTranscriptError   = "An error occurred while attempting to retrieve the full transcription."
	MsgNoSummary         = "No summary found for the specified session."
	MsgNoTranscript      = "No transcripts found for the specified session."
	MsgRecallUnavailable = "The archive is not configured; past visions cannot be recalled."
	MsgRecallEmpty       = "The orb finds no memory of such a vision."
	MsgRecallError       = "An error occurred while searching past visions."
	MsgNoPermission      = "Only operators may command the scrying orb."
)

// MsgStarted is the reply to a successful session start.
func MsgStarted(session string) string {
	return fmt.Sprintf("The scrying orb awakens… Session %q is now being recorded.", session)
}

// MsgStopped is the reply once a session has been transcribed and summarised.
func MsgStopped(summary string) string {
	return "The orb dims, and the vision is now sealed in writing…\nSummary: " + summary
}

// MsgSummary presents a stored summary.
func MsgSummary(text string) string {
	return "A brief vision appears… Here is the essence of what was revealed:\n\n" + text
}

// MsgTranscript presents a stored transcript.
func MsgTranscript(text string) string {
	return "The orb reveals every word it has transcribed… the complete vision awaits:\n\n" + text
}

// MsgSessionNotFound is the reply when no directory exists for session.
func MsgSessionNotFound(session string) string {
	return fmt.Sprintf("No session named %q found.", session)
}
