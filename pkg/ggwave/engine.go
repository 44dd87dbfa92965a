package ggwave

// Handle is an opaque native instance token. A negative value from Init
// signals failure; any other value is a live instance, whatever its
// magnitude. The allocator caps how many are live at once, not their IDs.
type Handle int

// IsValidHandle reports whether h denotes a successful Init.
func IsValidHandle(h Handle) bool { return h >= 0 }

// Engine is the native codec boundary. Method semantics and return-code
// conventions mirror the C API one to one:
//
//   - Init returns a handle, negative on failure.
//   - Encode with query=true returns the waveform size in bytes without
//     writing; with query=false it fills out. Non-positive means failure.
//   - DecodeBounded scans a whole waveform. Positive is the payload length,
//     anything else means no payload was found.
//   - DecodeStreaming feeds one chunk into the instance's receive state.
//     Zero means no message has completed yet, positive is the payload
//     length, negative is a fault. out must hold at least MaxDataSize bytes.
//
// Protocol toggles, frequency starts and the log file are process-wide.
//
// Implementations are not required to be safe for concurrent use; callers
// serialise access per handle (see [Bridge]).
type Engine interface {
	DefaultParameters() Parameters
	Init(p Parameters) Handle
	Free(h Handle)

	Encode(h Handle, payload []byte, protocol ProtocolID, volume int, out []byte, query bool) int
	DecodeBounded(h Handle, waveform, out []byte) int
	DecodeStreaming(h Handle, chunk, out []byte) int
	RxDurationFrames(h Handle) int

	ToggleRxProtocol(p ProtocolID, enabled bool)
	ToggleTxProtocol(p ProtocolID, enabled bool)
	SetRxProtocolFreqStart(p ProtocolID, freqStart int)
	SetTxProtocolFreqStart(p ProtocolID, freqStart int)

	// SetLogFile redirects native logging to path. An empty path disables it.
	SetLogFile(path string) error
}

// ToggleProtocols enables or disables every protocol in list on the receive
// side (rx=true) or the transmit side.
func ToggleProtocols(e Engine, list []ProtocolID, enabled, rx bool) {
	for _, p := range list {
		if rx {
			e.ToggleRxProtocol(p, enabled)
		} else {
			e.ToggleTxProtocol(p, enabled)
		}
	}
}
