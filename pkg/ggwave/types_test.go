package ggwave_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

func TestDefaultParameters(t *testing.T) {
	p := ggwave.DefaultParameters()
	if p.PayloadLength != 0 {
		t.Errorf("PayloadLength = %d, want 0", p.PayloadLength)
	}
	if p.SampleRate != 48000 || p.SampleRateInp != 48000 || p.SampleRateOut != 48000 {
		t.Errorf("sample rates = %v/%v/%v, want 48000", p.SampleRateInp, p.SampleRateOut, p.SampleRate)
	}
	if p.SamplesPerFrame != 1024 {
		t.Errorf("SamplesPerFrame = %d, want 1024", p.SamplesPerFrame)
	}
	if p.SampleFormatInp != ggwave.SampleFormatF32 || p.SampleFormatOut != ggwave.SampleFormatF32 {
		t.Errorf("formats = %s/%s, want f32/f32", p.SampleFormatInp, p.SampleFormatOut)
	}
	if p.OperatingMode != ggwave.ModeRxAndTx {
		t.Errorf("OperatingMode = %s, want rx|tx", p.OperatingMode)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestParametersValidate(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*ggwave.Parameters)
		field string
	}{
		{"payload length 200", func(p *ggwave.Parameters) { p.PayloadLength = 200 }, "PayloadLength"},
		{"payload length 65", func(p *ggwave.Parameters) { p.PayloadLength = 65 }, "PayloadLength"},
		{"negative payload length", func(p *ggwave.Parameters) { p.PayloadLength = -1 }, "PayloadLength"},
		{"zero input rate", func(p *ggwave.Parameters) { p.SampleRateInp = 0 }, "SampleRateInp"},
		{"zero output rate", func(p *ggwave.Parameters) { p.SampleRateOut = 0 }, "SampleRateOut"},
		{"negative processing rate", func(p *ggwave.Parameters) { p.SampleRate = -1 }, "SampleRate"},
		{"zero frame", func(p *ggwave.Parameters) { p.SamplesPerFrame = 0 }, "SamplesPerFrame"},
		{"undefined input format", func(p *ggwave.Parameters) { p.SampleFormatInp = ggwave.SampleFormatUndefined }, "SampleFormatInp"},
		{"unknown output format", func(p *ggwave.Parameters) { p.SampleFormatOut = 42 }, "SampleFormatOut"},
		{"no rx or tx", func(p *ggwave.Parameters) { p.OperatingMode = ggwave.ModeUseDSS }, "OperatingMode"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := ggwave.DefaultParameters()
			tc.mod(&p)
			err := p.Validate()
			if !errors.Is(err, ggwave.ErrInvalidParameter) {
				t.Fatalf("Validate() = %v, want ErrInvalidParameter", err)
			}
			var pe *ggwave.ParameterError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *ParameterError", err)
			}
			if pe.Field != tc.field {
				t.Errorf("Field = %q, want %q", pe.Field, tc.field)
			}
		})
	}
}

func TestParametersValidate_Accepts(t *testing.T) {
	for _, p := range []ggwave.Parameters{
		ggwave.FixedPayloadParameters(1, ggwave.ModeTx),
		ggwave.FixedPayloadParameters(ggwave.MaxLengthFixed, ggwave.ModeRx),
		ggwave.NewParameters(ggwave.WithSampleRate(44100), ggwave.WithInputSampleFormat(ggwave.SampleFormatI16)),
	} {
		if err := p.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v", p, err)
		}
	}
}

func TestMaxPayload(t *testing.T) {
	if got := ggwave.DefaultParameters().MaxPayload(); got != ggwave.MaxLengthVariable {
		t.Errorf("variable MaxPayload = %d, want %d", got, ggwave.MaxLengthVariable)
	}
	if got := ggwave.FixedPayloadParameters(16, ggwave.ModeRxAndTx).MaxPayload(); got != 16 {
		t.Errorf("fixed MaxPayload = %d, want 16", got)
	}
}

func TestFrameBytes(t *testing.T) {
	p := ggwave.NewParameters(
		ggwave.WithSamplesPerFrame(512),
		ggwave.WithInputSampleFormat(ggwave.SampleFormatI16),
		ggwave.WithOutputSampleFormat(ggwave.SampleFormatU8),
	)
	if got := p.InputFrameBytes(); got != 1024 {
		t.Errorf("InputFrameBytes = %d, want 1024", got)
	}
	if got := p.OutputFrameBytes(); got != 512 {
		t.Errorf("OutputFrameBytes = %d, want 512", got)
	}
}

func TestNewParametersOptions(t *testing.T) {
	p := ggwave.NewParameters(
		ggwave.WithInputSampleRate(16000),
		ggwave.WithOutputSampleRate(44100),
		ggwave.WithSoundMarkerThreshold(5),
		ggwave.WithOperatingMode(ggwave.ModeRx),
		ggwave.WithFixedPayloadLength(8),
	)
	if p.SampleRateInp != 16000 || p.SampleRateOut != 44100 || p.SampleRate != 48000 {
		t.Errorf("rates = %v/%v/%v", p.SampleRateInp, p.SampleRateOut, p.SampleRate)
	}
	if p.SoundMarkerThreshold != 5 {
		t.Errorf("SoundMarkerThreshold = %v, want 5", p.SoundMarkerThreshold)
	}
	if p.OperatingMode != ggwave.ModeRx {
		t.Errorf("OperatingMode = %s, want rx", p.OperatingMode)
	}
	if !p.FixedLength() || p.PayloadLength != 8 {
		t.Errorf("PayloadLength = %d, want fixed 8", p.PayloadLength)
	}
}

func TestOperatingMode(t *testing.T) {
	m, err := ggwave.ParseOperatingMode([]string{"RX", "tx", "use_dss"})
	if err != nil {
		t.Fatalf("ParseOperatingMode: %v", err)
	}
	if m != ggwave.ModeRxAndTx|ggwave.ModeUseDSS {
		t.Errorf("mode = %d, want %d", m, ggwave.ModeRxAndTx|ggwave.ModeUseDSS)
	}
	if got := m.String(); got != "rx|tx|use_dss" {
		t.Errorf("String() = %q", got)
	}
	if m, _ := ggwave.ParseOperatingMode([]string{"rx_and_tx"}); m != ggwave.ModeRxAndTx {
		t.Errorf("rx_and_tx = %s", m)
	}
	if _, err := ggwave.ParseOperatingMode([]string{"duplex"}); err == nil {
		t.Error("expected error for unknown flag")
	}
	if got := ggwave.OperatingMode(0).String(); got != "none" {
		t.Errorf("zero mode String() = %q, want none", got)
	}
}

func TestFilterString(t *testing.T) {
	if got := ggwave.FilterFirstOrderHighPass.String(); got != "first_order_high_pass" {
		t.Errorf("String() = %q", got)
	}
}
