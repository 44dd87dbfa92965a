package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/ggwave-go/pkg/audio"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// ToParameters converts the codec section to session parameters, starting
// from the codec defaults.
func (c CodecConfig) ToParameters() (ggwave.Parameters, error) {
	p := ggwave.DefaultParameters()
	if c.PayloadLength != 0 {
		p.PayloadLength = c.PayloadLength
	}
	if c.SampleRateInp != 0 {
		p.SampleRateInp = c.SampleRateInp
	}
	if c.SampleRateOut != 0 {
		p.SampleRateOut = c.SampleRateOut
	}
	if c.SampleRate != 0 {
		p.SampleRate = c.SampleRate
	}
	if c.SamplesPerFrame != 0 {
		p.SamplesPerFrame = c.SamplesPerFrame
	}
	if c.SoundMarkerThreshold != 0 {
		p.SoundMarkerThreshold = c.SoundMarkerThreshold
	}

	var errs []error
	if c.SampleFormatInp != "" {
		f, err := audio.ParseSampleFormat(c.SampleFormatInp)
		if err != nil {
			errs = append(errs, fmt.Errorf("codec.sample_format_inp: %w", err))
		}
		p.SampleFormatInp = f
	}
	if c.SampleFormatOut != "" {
		f, err := audio.ParseSampleFormat(c.SampleFormatOut)
		if err != nil {
			errs = append(errs, fmt.Errorf("codec.sample_format_out: %w", err))
		}
		p.SampleFormatOut = f
	}
	if len(c.OperatingMode) > 0 {
		m, err := ggwave.ParseOperatingMode(c.OperatingMode)
		if err != nil {
			errs = append(errs, fmt.Errorf("codec.operating_mode: %w", err))
		}
		p.OperatingMode = m
	}
	if err := errors.Join(errs...); err != nil {
		return ggwave.Parameters{}, err
	}
	if err := p.Validate(); err != nil {
		return ggwave.Parameters{}, fmt.Errorf("codec: %w", err)
	}
	return p, nil
}

// DefaultProtocol parses Protocol, falling back to audible_fast.
func (c CodecConfig) DefaultProtocol() (ggwave.ProtocolID, error) {
	if c.Protocol == "" {
		return ggwave.AudibleFast, nil
	}
	return ggwave.ParseProtocol(c.Protocol)
}

// DefaultVolume returns Volume, or ggwave.DefaultVolume when unset.
func (c CodecConfig) DefaultVolume() int {
	if c.Volume == nil {
		return ggwave.DefaultVolume
	}
	return *c.Volume
}

// RxProtocolIDs parses RxProtocols.
func (c CodecConfig) RxProtocolIDs() ([]ggwave.ProtocolID, error) {
	ids := make([]ggwave.ProtocolID, 0, len(c.RxProtocols))
	for _, name := range c.RxProtocols {
		id, err := ggwave.ParseProtocol(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Apply installs the process-wide engine settings (receive protocol set,
// frequency-start overrides, log file) through b. It is called at startup
// and again when a reloaded file changes them.
func (c CodecConfig) Apply(ctx context.Context, b *ggwave.Bridge) error {
	rx, err := c.RxProtocolIDs()
	if err != nil {
		return err
	}
	if err := b.EnableAllRxProtocols(ctx); err != nil {
		return err
	}
	if len(rx) > 0 {
		keep := make(map[ggwave.ProtocolID]bool, len(rx))
		for _, id := range rx {
			keep[id] = true
		}
		for _, id := range ggwave.AllProtocols() {
			if keep[id] {
				continue
			}
			if err := b.ToggleRxProtocol(ctx, id, false); err != nil {
				return err
			}
		}
	}

	for _, fs := range c.FreqStart {
		id, err := ggwave.ParseProtocol(fs.Protocol)
		if err != nil {
			return err
		}
		if fs.appliesTo(true) {
			if err := b.SetRxProtocolFreqStart(ctx, id, fs.Value); err != nil {
				return err
			}
		}
		if fs.appliesTo(false) {
			if err := b.SetTxProtocolFreqStart(ctx, id, fs.Value); err != nil {
				return err
			}
		}
	}

	return b.SetLogFile(ctx, c.LogFile)
}

// ToStreamConfig converts the stream section.
func (s StreamConfig) ToStreamConfig() ggwave.StreamConfig {
	return ggwave.StreamConfig{
		ChunkSize:      s.ChunkSize,
		MaxPayloadSize: s.MaxPayloadSize,
		BufferSize:     s.BufferSize,
	}
}
