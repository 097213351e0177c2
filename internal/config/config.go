package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dirs      DirsConfig      `mapstructure:"dirs"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Episodes  EpisodesConfig  `mapstructure:"episodes"`
	CardTypes CardTypesConfig `mapstructure:"card_types"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// MetricsConfig holds the Prometheus exposition endpoint settings. An
// empty listen address disables the endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// DirsConfig holds the on-disk layout. Directory names are contractual;
// see the persisted state layout documented in the README.
type DirsConfig struct {
	Config string `mapstructure:"config"`
	Source string `mapstructure:"source"`
	Cards  string `mapstructure:"cards"`
	Assets string `mapstructure:"assets"`
}

// JobsConfig holds per-job cron expressions. An empty expression disables
// the job.
type JobsConfig struct {
	Sync            string `mapstructure:"sync"`
	RefreshEpisodes string `mapstructure:"refresh_episodes"`
	SetIDs          string `mapstructure:"set_ids"`
	Translate       string `mapstructure:"translate"`
	FetchSources    string `mapstructure:"fetch_sources"`
	BuildCards      string `mapstructure:"build_cards"`
	LoadCards       string `mapstructure:"load_cards"`
	WatchedSync     string `mapstructure:"watched_sync"`
	Snapshot        string `mapstructure:"snapshot"`
	Backup          string `mapstructure:"backup"`
}

// BackupConfig holds backup rotation configuration.
type BackupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// EpisodesConfig holds episode lifecycle tuning.
type EpisodesConfig struct {
	// DeleteAfterMissingSyncs is the number of consecutive syncs an episode
	// must be absent from every source before it is soft-deleted.
	DeleteAfterMissingSyncs int `mapstructure:"delete_after_missing_syncs"`
	// TranslationBackoffHours is how long a rejected generic translation is
	// remembered before it is requested again.
	TranslationBackoffHours int `mapstructure:"translation_backoff_hours"`
	// CardFilenameFormat is the default card path pattern inside the cards
	// directory.
	CardFilenameFormat string `mapstructure:"card_filename_format"`
}

// CardTypesConfig holds remote card type loader configuration.
type CardTypesConfig struct {
	RepositoryURL string `mapstructure:"repository_url"`
	CacheDir      string `mapstructure:"cache_dir"`
}

// Default returns a Config with default values.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.titlecardmaker")
	}

	v.SetEnvPrefix("TCM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "./config/db.sqlite")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "./config/logs")

	v.SetDefault("dirs.config", "./config")
	v.SetDefault("dirs.source", "./source")
	v.SetDefault("dirs.cards", "./cards")
	v.SetDefault("dirs.assets", "./assets")

	v.SetDefault("jobs.sync", "0 */6 * * *")
	v.SetDefault("jobs.refresh_episodes", "30 */6 * * *")
	v.SetDefault("jobs.set_ids", "45 */12 * * *")
	v.SetDefault("jobs.translate", "15 */4 * * *")
	v.SetDefault("jobs.fetch_sources", "0 */4 * * *")
	v.SetDefault("jobs.build_cards", "10 */4 * * *")
	v.SetDefault("jobs.load_cards", "20 */4 * * *")
	v.SetDefault("jobs.watched_sync", "*/30 * * * *")
	v.SetDefault("jobs.snapshot", "0 0 * * *")
	v.SetDefault("jobs.backup", "0 2 * * *")

	v.SetDefault("backup.retention_days", 21)

	v.SetDefault("episodes.delete_after_missing_syncs", 3)
	v.SetDefault("episodes.translation_backoff_hours", 48)
	v.SetDefault("episodes.card_filename_format",
		"{series}/Season {season}/{series} - S{season2}E{episode2}")

	v.SetDefault("metrics.listen", "127.0.0.1:2112")

	v.SetDefault("card_types.repository_url",
		"https://raw.githubusercontent.com/TitleCardMaker/cards/master")
	v.SetDefault("card_types.cache_dir", "./config/remote_cards")
}

// BackupDir returns the directory backups are written to.
func (c *Config) BackupDir() string {
	return filepath.Join(c.Dirs.Config, "backups")
}

// FontsDir returns the directory font files are stored under.
func (c *Config) FontsDir() string {
	return filepath.Join(c.Dirs.Assets, "fonts")
}
