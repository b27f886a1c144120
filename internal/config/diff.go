package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable sections are reported individually; everything else is
// collected in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChatChanged is true if any chat tuning value changed.
	ChatChanged bool

	// SafetyChanged is true if the phrase list, fuzzy settings or crisis
	// reply changed.
	SafetyChanged bool

	// RestartRequired lists the top-level keys that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether the diff carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ChatChanged && !d.SafetyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ChatChanged = old.Chat != new.Chat
	d.SafetyChanged = !safetyEqual(old.Safety, new.Safety)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Sessions != new.Sessions {
		d.RestartRequired = append(d.RestartRequired, "sessions")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Incidents != new.Incidents {
		d.RestartRequired = append(d.RestartRequired, "incidents")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}

	return d
}

func safetyEqual(a, b SafetyConfig) bool {
	return slices.Equal(a.ExtraPhrases, b.ExtraPhrases) &&
		a.Fuzzy == b.Fuzzy &&
		a.FuzzyThreshold == b.FuzzyThreshold &&
		a.HelplineNumber == b.HelplineNumber &&
		a.CrisisReply == b.CrisisReply
}
