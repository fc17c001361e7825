// Package worker implements the fixed-size binary message protocol
// exchanged between the coordinator process and a media-subprocess worker
// over a pipe pair (spec.md §4.5), grounded on the teacher's fixed-layout
// chunk header framing (internal/rtmp/chunk/header.go, writer.go).
package worker

// Kind identifies a worker-protocol message. Pipeline-worker and
// target-worker messages share one wire format; each side only recognizes
// the subset relevant to it.
type Kind uint8

const (
	// Pipeline-worker control messages.
	KindSetResolution Kind = iota + 1
	KindSetFps
	KindTerminate

	// Target-worker control messages.
	KindStop
	KindSetBitrate
	KindSetBitrateControl
	KindSetQuantizer
	KindSetAdaptorKind
	KindSetAdaptiveStreaming

	// Target-worker -> parent events.
	KindSrtMode
	KindCallerAdded
	KindCallerRemoved
	KindNotifyEncoderBitrateChange
	KindNotifyEncoderQuantizerChange
	KindNotifyEncoderBitrateControlChange
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSetResolution:
		return "set_resolution"
	case KindSetFps:
		return "set_fps"
	case KindTerminate:
		return "terminate"
	case KindStop:
		return "stop"
	case KindSetBitrate:
		return "set_bitrate"
	case KindSetBitrateControl:
		return "set_bitrate_control"
	case KindSetQuantizer:
		return "set_quantizer"
	case KindSetAdaptorKind:
		return "set_adaptor_kind"
	case KindSetAdaptiveStreaming:
		return "set_adaptive_streaming"
	case KindSrtMode:
		return "srt_mode"
	case KindCallerAdded:
		return "caller_added"
	case KindCallerRemoved:
		return "caller_removed"
	case KindNotifyEncoderBitrateChange:
		return "notify_encoder_bitrate_change"
	case KindNotifyEncoderQuantizerChange:
		return "notify_encoder_quantizer_change"
	case KindNotifyEncoderBitrateControlChange:
		return "notify_encoder_bitrate_control_change"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// stringFieldLen is the fixed width of Msg.S: enough for an SRT mode name
// or a socket address, truncated beyond that (the protocol never carries
// full URIs over this channel — those live in the daemon IPC records,
// spec.md §6).
const stringFieldLen = 32

// Msg is the fixed-size record exchanged over the worker pipe pair. A is
// the primary integer payload (resolution width, bitrate, quantizer,
// socket fd...); B is a secondary integer payload (resolution height);
// S carries short string payloads (srt_mode name, peer address).
type Msg struct {
	Kind Kind
	A    int32
	B    int32
	S    [stringFieldLen]byte
}

func newStringMsg(k Kind, s string) Msg {
	var m Msg
	m.Kind = k
	n := copy(m.S[:], s)
	_ = n
	return m
}

func (m Msg) stringField() string {
	n := 0
	for n < len(m.S) && m.S[n] != 0 {
		n++
	}
	return string(m.S[:n])
}

func NewSetResolution(width, height int) Msg {
	return Msg{Kind: KindSetResolution, A: int32(width), B: int32(height)}
}

func NewSetFps(fps int) Msg { return Msg{Kind: KindSetFps, A: int32(fps)} }

func NewTerminate() Msg { return Msg{Kind: KindTerminate} }

func NewStop() Msg { return Msg{Kind: KindStop} }

func NewSetBitrate(bps int) Msg { return Msg{Kind: KindSetBitrate, A: int32(bps)} }

func NewSetBitrateControl(rc int) Msg { return Msg{Kind: KindSetBitrateControl, A: int32(rc)} }

func NewSetQuantizer(q int) Msg { return Msg{Kind: KindSetQuantizer, A: int32(q)} }

func NewSetAdaptorKind(kind int) Msg { return Msg{Kind: KindSetAdaptorKind, A: int32(kind)} }

func NewSetAdaptiveStreaming(on bool) Msg {
	v := int32(0)
	if on {
		v = 1
	}
	return Msg{Kind: KindSetAdaptiveStreaming, A: v}
}

func NewSrtMode(mode string) Msg { return newStringMsg(KindSrtMode, mode) }

func NewCallerAdded(sock int, address string) Msg {
	m := newStringMsg(KindCallerAdded, address)
	m.A = int32(sock)
	return m
}

func NewCallerRemoved(sock int, address string) Msg {
	m := newStringMsg(KindCallerRemoved, address)
	m.A = int32(sock)
	return m
}

func NewNotifyEncoderBitrateChange(bitrate int) Msg {
	return Msg{Kind: KindNotifyEncoderBitrateChange, A: int32(bitrate)}
}

func NewNotifyEncoderQuantizerChange(q int) Msg {
	return Msg{Kind: KindNotifyEncoderQuantizerChange, A: int32(q)}
}

func NewNotifyEncoderBitrateControlChange(rc int) Msg {
	return Msg{Kind: KindNotifyEncoderBitrateControlChange, A: int32(rc)}
}

func NewError(code int, text string) Msg {
	m := newStringMsg(KindError, text)
	m.A = int32(code)
	return m
}
