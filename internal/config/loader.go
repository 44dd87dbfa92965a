package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format by file extension. Anything other than
// .toml is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := Decode(bytes.NewReader(data), FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	return Decode(r, FormatYAML)
}

// Decode reads a config in format f over [Default] and validates it.
// Unknown keys are rejected in both formats.
func Decode(r io.Reader, f Format) (*Config, error) {
	cfg := Default()
	switch f {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	case FormatTOML:
		meta, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
		if extra := meta.Undecoded(); len(extra) > 0 {
			keys := make([]string, len(extra))
			for i, k := range extra {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: decode toml: unknown keys %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("config: unknown format %q", f)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}

	// Codec
	c := cfg.Codec
	if c.Engine != "" && c.Engine != EngineNative && c.Engine != EngineMock {
		errs = append(errs, fmt.Errorf("codec.engine %q is invalid; valid values: native, mock", c.Engine))
	}
	if _, err := c.ToParameters(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DefaultProtocol(); err != nil {
		errs = append(errs, fmt.Errorf("codec.protocol: %w", err))
	}
	if v := c.DefaultVolume(); v < ggwave.MinVolume || v > ggwave.MaxVolume {
		errs = append(errs, fmt.Errorf("codec.volume %d is out of range [0, 100]", v))
	}
	for i, name := range c.RxProtocols {
		if _, err := ggwave.ParseProtocol(name); err != nil {
			errs = append(errs, fmt.Errorf("codec.rx_protocols[%d]: %w", i, err))
		}
	}
	for i, fs := range c.FreqStart {
		prefix := fmt.Sprintf("codec.freq_start[%d]", i)
		if _, err := ggwave.ParseProtocol(fs.Protocol); err != nil {
			errs = append(errs, fmt.Errorf("%s.protocol: %w", prefix, err))
		}
		switch strings.ToLower(fs.Direction) {
		case "", "rx", "tx", "both":
		default:
			errs = append(errs, fmt.Errorf("%s.direction %q is invalid; valid values: rx, tx, both", prefix, fs.Direction))
		}
		if fs.Value < 0 {
			errs = append(errs, fmt.Errorf("%s.value %d must not be negative", prefix, fs.Value))
		}
	}

	// Stream
	s := cfg.Stream
	if s.ChunkSize < 0 || s.MaxPayloadSize < 0 || s.BufferSize < 0 {
		errs = append(errs, errors.New("stream sizes must not be negative"))
	}

	// Journal
	if cfg.Journal.MemoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("journal.memory_capacity %d must not be negative", cfg.Journal.MemoryCapacity))
	}

	return errors.Join(errs...)
}
