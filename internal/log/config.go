package log

// AppenderConfig describes one log output. Type is "stdout" or "file";
// "loki" is deliberately not supported — logging transport is an external
// collaborator's concern, not this core's.
type AppenderConfig struct {
	Type    string                 `yaml:"type"`
	Level   string                 `yaml:"level,omitempty"`
	Options map[string]interface{} `yaml:"options,omitempty"`
}

type FormatterConfig struct {
	EnableColors   bool `yaml:"enable_colors,omitempty"`
	FullTimestamp  bool `yaml:"full_timestamp,omitempty"`
	DisableSorting bool `yaml:"disable_sorting,omitempty"`
}

type FileAppenderOptions struct {
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"maxsize,omitempty"` // MB
	MaxAge     int    `yaml:"maxage,omitempty"`  // days
	MaxBackups int    `yaml:"maxbackups,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}
