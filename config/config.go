package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Game     GameConfig     `mapstructure:"game"`
	Security SecurityConfig `mapstructure:"security"`
	Export   ExportConfig   `mapstructure:"export"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type CatalogConfig struct {
	Path     string `mapstructure:"path"`
	Validate bool   `mapstructure:"validate"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// GameConfig holds the timing knobs of the synchronization core.
type GameConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	RotationInterval  time.Duration `mapstructure:"rotation_interval"`
	RotationBatchSize int           `mapstructure:"rotation_batch_size"`
	RotationGrace     time.Duration `mapstructure:"rotation_grace"`
	InstanceLifetime  time.Duration `mapstructure:"instance_lifetime"`
	RegenUnit         time.Duration `mapstructure:"regen_unit"` // per second of collection_time
	MessageCap        int           `mapstructure:"message_cap"`
	MessageTTL        time.Duration `mapstructure:"message_ttl"`
	ActionTTL         time.Duration `mapstructure:"action_ttl"`
	ViewRadius        int           `mapstructure:"view_radius"`
	ChatHistory       int           `mapstructure:"chat_history"`
	SpawnX            int           `mapstructure:"spawn_x"`
	SpawnY            int           `mapstructure:"spawn_y"`
	ActionTick        time.Duration `mapstructure:"action_tick"`
	ResyncInterval    time.Duration `mapstructure:"resync_interval"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RequireSession bool          `mapstructure:"require_session"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminIPs       []string `mapstructure:"admin_ips"`
}

// ExportConfig enables the optional event taps. Empty values disable them.
type ExportConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	ArchiveDir   string   `mapstructure:"archive_dir"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("catalog.path", "./data/catalog.yaml")
	v.SetDefault("catalog.validate", true)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/world.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("game.sweep_interval", "5s")
	v.SetDefault("game.rotation_interval", "1h")
	v.SetDefault("game.rotation_batch_size", 20)
	v.SetDefault("game.rotation_grace", "1h")
	v.SetDefault("game.instance_lifetime", "2h")
	v.SetDefault("game.regen_unit", "5s")
	v.SetDefault("game.message_cap", 20)
	v.SetDefault("game.message_ttl", "10m")
	v.SetDefault("game.action_ttl", "1h")
	v.SetDefault("game.view_radius", 3)
	v.SetDefault("game.chat_history", 50)
	v.SetDefault("game.spawn_x", 0)
	v.SetDefault("game.spawn_y", 0)
	v.SetDefault("game.action_tick", "1s")
	v.SetDefault("game.resync_interval", "30s")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.require_session", false)
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("export.kafka_topic", "tilequest.events")
}
