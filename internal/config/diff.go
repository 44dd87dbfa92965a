package config

import (
	"reflect"
)

// ConfigDiff describes what changed between two configs. Only the fields
// the service can apply without a restart are broken out; everything else
// sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineSettingsChanged is set when the process-wide codec settings
	// (rx_protocols, freq_start, log_file) differ. Re-apply them with
	// [CodecConfig.Apply].
	EngineSettingsChanged bool

	// DefaultsChanged is set when the default protocol or volume differ.
	DefaultsChanged bool

	// RestartRequired lists sections whose changes only take effect on the
	// next start.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EngineSettingsChanged || d.DefaultsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Codec, new.Codec
	if !reflect.DeepEqual(oc.RxProtocols, nc.RxProtocols) ||
		!reflect.DeepEqual(oc.FreqStart, nc.FreqStart) ||
		oc.LogFile != nc.LogFile {
		d.EngineSettingsChanged = true
	}
	if oc.Protocol != nc.Protocol || oc.DefaultVolume() != nc.DefaultVolume() {
		d.DefaultsChanged = true
	}

	// Compare the rest of the codec section with the hot fields masked out.
	oc.RxProtocols, nc.RxProtocols = nil, nil
	oc.FreqStart, nc.FreqStart = nil, nil
	oc.LogFile, nc.LogFile = "", ""
	oc.Protocol, nc.Protocol = "", ""
	oc.Volume, nc.Volume = nil, nil
	if !reflect.DeepEqual(oc, nc) {
		d.RestartRequired = append(d.RestartRequired, "codec")
	}

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if !reflect.DeepEqual(oldSrv, newSrv) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Stream != new.Stream {
		d.RestartRequired = append(d.RestartRequired, "stream")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
