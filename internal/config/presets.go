package config

import "sort"

var Presets = map[string]*Config{
	"host-smoke": {
		NumWorlds: 1, ExecMode: ExecModeHost,
		RenderWidth: 64, RenderHeight: 64,
		DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
	},
	"emulated": {
		NumWorlds: 4, ExecMode: ExecModeDevice, Emulate: true,
		RenderWidth: 64, RenderHeight: 64,
		DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
	},
	"emulated-large": {
		NumWorlds: 1024, ExecMode: ExecModeDevice, Emulate: true,
		RenderWidth: 32, RenderHeight: 32,
		DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
	},
	"gpu-train": {
		NumWorlds: 4096, ExecMode: ExecModeDevice,
		RenderWidth: 64, RenderHeight: 64,
		DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
	},
	"gpu-debug": {
		NumWorlds: 32, ExecMode: ExecModeDevice, DebugCompile: true,
		RenderWidth: 128, RenderHeight: 128,
		DataDir: DefaultDataDir, LogLevel: "debug",
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
