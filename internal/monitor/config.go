package monitor

// Config controls the monitor service. Loaded by cleanenv as part of
// the top-level Cadenza configuration.
type Config struct {
	WatchDirectory          string `yaml:"watch_directory" env:"CADENZA_WATCH_DIR"`
	TargetExtension         string `yaml:"target_extension" env:"CADENZA_TARGET_EXT" env-default:".mp3"`
	StabilizeCeilingSeconds int    `yaml:"stabilize_ceiling_seconds" env:"CADENZA_STABILIZE_CEILING" env-default:"30"`
}
