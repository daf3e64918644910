package audio

// Discord voice (and therefore every capture) uses 48 kHz stereo Opus at 20 ms
// frames.
const (
	SampleRate = 48000
	Channels   = 2
	// FrameSize is the number of samples per channel in one 20 ms frame.
	FrameSize = SampleRate * 20 / 1000 // 960
)

// Packet is one compressed audio packet received from a participant.
type Packet struct {
	// Opus is the raw Opus payload.
	Opus []byte

	// Sequence and Timestamp are the RTP header values of the packet.
	Sequence  uint16
	Timestamp uint32
}
