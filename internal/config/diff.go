package config

import "fmt"

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes are broken out per field group; everything else lands in
// RestartRequired so the daemon can log what it is ignoring.
type ConfigDiff struct {
	// LogLevelChanged indicates server.log_level changed; applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatchingChanged indicates thresholds, toggles, or weights changed;
	// the resolver re-reads them on the next utterance.
	MatchingChanged bool

	// RepeatThresholdChanged indicates adaptation.repeat_threshold changed.
	RepeatThresholdChanged bool

	// HistoryCapacityChanged indicates context.history_capacity changed.
	HistoryCapacityChanged bool

	// ConfirmationTimeoutChanged indicates confirmation.timeout changed.
	ConfirmationTimeoutChanged bool

	// RestartRequired lists dotted field paths that changed but only take
	// effect after a restart (listen address, stores, embeddings provider...).
	RestartRequired []string
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged &&
		!d.MatchingChanged &&
		!d.RepeatThresholdChanged &&
		!d.HistoryCapacityChanged &&
		!d.ConfirmationTimeoutChanged &&
		len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matching != new.Matching {
		d.MatchingChanged = true
	}

	if old.Adaptation.RepeatThreshold != new.Adaptation.RepeatThreshold {
		d.RepeatThresholdChanged = true
	}

	if old.Context.HistoryCapacity != new.Context.HistoryCapacity {
		d.HistoryCapacityChanged = true
	}

	if old.Confirmation.Timeout != new.Confirmation.Timeout {
		d.ConfirmationTimeoutChanged = true
	}

	// Cold fields: record the path so the daemon can warn.
	cold := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	cold("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	cold("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	cold("commands_file", old.CommandsFile != new.CommandsFile)
	cold("data_dir", old.DataDir != new.DataDir)
	cold("adaptation.store", old.Adaptation.Store != new.Adaptation.Store ||
		old.Adaptation.PostgresDSN != new.Adaptation.PostgresDSN)
	cold("embeddings", old.Embeddings != new.Embeddings)
	cold("dispatch", old.Dispatch != new.Dispatch)
	cold("watch", old.Watch != new.Watch)

	return d
}

// Describe returns a short human-readable summary of the diff for logging.
func (d ConfigDiff) Describe() string {
	if d.Empty() {
		return "no changes"
	}
	hot := 0
	for _, changed := range []bool{
		d.LogLevelChanged,
		d.MatchingChanged,
		d.RepeatThresholdChanged,
		d.HistoryCapacityChanged,
		d.ConfirmationTimeoutChanged,
	} {
		if changed {
			hot++
		}
	}
	return fmt.Sprintf("%d hot change group(s), %d restart-required field(s)", hot, len(d.RestartRequired))
}

// tlsEqual compares two optional TLS configs.
func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
