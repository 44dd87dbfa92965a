//go:build cgo && ggwave

// This file binds libggwave through cgo. The library and its header
// (ggwave/ggwave.h) must be reachable at build time, for example via
// LIBRARY_PATH and C_INCLUDE_PATH, and the build must set -tags ggwave.

package native

/*
#cgo LDFLAGS: -lggwave -lstdc++ -lm
#include <stdio.h>
#include <stdlib.h>
#include "ggwave/ggwave.h"
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// Compile-time assertion that Engine satisfies ggwave.Engine.
var _ ggwave.Engine = (*Engine)(nil)

// Engine forwards every call to libggwave. The zero value is ready to use,
// but all Engines share the library's process-wide state.
type Engine struct{}

var (
	logMu   sync.Mutex
	logFile *C.FILE

	// libMu guards libggwave's global instance table and protocol tables,
	// which every Engine shares. Init, Free and the protocol setters write
	// them; calls on a single instance only read them.
	libMu sync.RWMutex
)

// Available reports whether the binary was built against libggwave.
func Available() bool { return true }

// New returns an Engine backed by libggwave.
func New() (ggwave.Engine, error) { return &Engine{}, nil }

func toC(p ggwave.Parameters) C.ggwave_Parameters {
	var cp C.ggwave_Parameters
	cp.payloadLength = C.int(p.PayloadLength)
	cp.sampleRateInp = C.float(p.SampleRateInp)
	cp.sampleRateOut = C.float(p.SampleRateOut)
	cp.sampleRate = C.float(p.SampleRate)
	cp.samplesPerFrame = C.int(p.SamplesPerFrame)
	cp.soundMarkerThreshold = C.float(p.SoundMarkerThreshold)
	cp.sampleFormatInp = C.ggwave_SampleFormat(p.SampleFormatInp)
	cp.sampleFormatOut = C.ggwave_SampleFormat(p.SampleFormatOut)
	cp.operatingMode = C.int(p.OperatingMode)
	return cp
}

func fromC(cp C.ggwave_Parameters) ggwave.Parameters {
	return ggwave.Parameters{
		PayloadLength:        int(cp.payloadLength),
		SampleRateInp:        float32(cp.sampleRateInp),
		SampleRateOut:        float32(cp.sampleRateOut),
		SampleRate:           float32(cp.sampleRate),
		SamplesPerFrame:      int(cp.samplesPerFrame),
		SoundMarkerThreshold: float32(cp.soundMarkerThreshold),
		SampleFormatInp:      ggwave.SampleFormat(cp.sampleFormatInp),
		SampleFormatOut:      ggwave.SampleFormat(cp.sampleFormatOut),
		OperatingMode:        ggwave.OperatingMode(cp.operatingMode),
	}
}

// ptr returns a pointer to the first byte of b, or nil for an empty slice.
func ptr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func (e *Engine) DefaultParameters() ggwave.Parameters {
	return fromC(C.ggwave_getDefaultParameters())
}

func (e *Engine) Init(p ggwave.Parameters) ggwave.Handle {
	libMu.Lock()
	defer libMu.Unlock()
	return ggwave.Handle(C.ggwave_init(toC(p)))
}

func (e *Engine) Free(h ggwave.Handle) {
	libMu.Lock()
	defer libMu.Unlock()
	C.ggwave_free(C.ggwave_Instance(h))
}

func (e *Engine) Encode(h ggwave.Handle, payload []byte, protocol ggwave.ProtocolID, volume int, out []byte, query bool) int {
	q := C.int(0)
	if query {
		q = 1
	}
	// The fill phase writes exactly the queried size; the caller sized out
	// from the same query.
	if !query && len(out) == 0 {
		return -1
	}
	libMu.RLock()
	defer libMu.RUnlock()
	return int(C.ggwave_encode(
		C.ggwave_Instance(h),
		ptr(payload), C.int(len(payload)),
		C.ggwave_ProtocolId(protocol), C.int(volume),
		ptr(out), q,
	))
}

func (e *Engine) DecodeBounded(h ggwave.Handle, waveform, out []byte) int {
	if len(waveform) == 0 || len(out) == 0 {
		return -1
	}
	libMu.RLock()
	defer libMu.RUnlock()
	return int(C.ggwave_ndecode(
		C.ggwave_Instance(h),
		ptr(waveform), C.int(len(waveform)),
		ptr(out), C.int(len(out)),
	))
}

func (e *Engine) DecodeStreaming(h ggwave.Handle, chunk, out []byte) int {
	// ggwave_decode writes up to MaxDataSize bytes without a bound.
	if len(chunk) == 0 || len(out) < ggwave.MaxDataSize {
		return -1
	}
	libMu.RLock()
	defer libMu.RUnlock()
	return int(C.ggwave_decode(
		C.ggwave_Instance(h),
		ptr(chunk), C.int(len(chunk)),
		ptr(out),
	))
}

func (e *Engine) RxDurationFrames(h ggwave.Handle) int {
	libMu.RLock()
	defer libMu.RUnlock()
	return int(C.ggwave_rxDurationFrames(C.ggwave_Instance(h)))
}

func cbool(v bool) C.int {
	if v {
		return 1
	}
	return 0
}

func (e *Engine) ToggleRxProtocol(p ggwave.ProtocolID, enabled bool) {
	libMu.Lock()
	defer libMu.Unlock()
	C.ggwave_rxToggleProtocol(C.ggwave_ProtocolId(p), cbool(enabled))
}

func (e *Engine) ToggleTxProtocol(p ggwave.ProtocolID, enabled bool) {
	libMu.Lock()
	defer libMu.Unlock()
	C.ggwave_txToggleProtocol(C.ggwave_ProtocolId(p), cbool(enabled))
}

func (e *Engine) SetRxProtocolFreqStart(p ggwave.ProtocolID, freqStart int) {
	libMu.Lock()
	defer libMu.Unlock()
	C.ggwave_rxProtocolSetFreqStart(C.ggwave_ProtocolId(p), C.int(freqStart))
}

func (e *Engine) SetTxProtocolFreqStart(p ggwave.ProtocolID, freqStart int) {
	libMu.Lock()
	defer libMu.Unlock()
	C.ggwave_txProtocolSetFreqStart(C.ggwave_ProtocolId(p), C.int(freqStart))
}

// SetLogFile opens path for writing and hands the stream to libggwave. The
// previously installed file, if any, is closed after the switch.
func (e *Engine) SetLogFile(path string) error {
	logMu.Lock()
	defer logMu.Unlock()
	// Calls in flight may be writing to the current file.
	libMu.Lock()
	defer libMu.Unlock()

	var f *C.FILE
	if path != "" {
		cpath := C.CString(path)
		defer C.free(unsafe.Pointer(cpath))
		mode := C.CString("w")
		defer C.free(unsafe.Pointer(mode))

		f = C.fopen(cpath, mode)
		if f == nil {
			return fmt.Errorf("native: open log file %q", path)
		}
	}
	C.ggwave_setLogFile(unsafe.Pointer(f))
	if logFile != nil {
		C.fclose(logFile)
	}
	logFile = f
	return nil
}
