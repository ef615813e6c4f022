package vad

// Event represents a voice activity detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the RMS amplitude measured for the frame.
	Energy float64

	// Weight is the remaining patience after the frame. It equals the
	// configured patience while idle or while speech is loud.
	Weight float64
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun with this frame.
	SpeechStart EventType = iota

	// SpeechContinue indicates the utterance is still in progress.
	SpeechContinue

	// SpeechEnd indicates the utterance ended with this frame. The session
	// is idle again afterwards.
	SpeechEnd

	// Silence indicates no speech is active.
	Silence
)

// String returns a short lower-case name for the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	}
	return "unknown"
}
