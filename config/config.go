package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Sect     SectConfig     `mapstructure:"sect"`
	Task     TaskConfig     `mapstructure:"task"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
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

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// SectConfig holds the membership rules applied when sects are created.
type SectConfig struct {
	MaxMembers    int           `mapstructure:"max_members"`
	NameMinLen    int           `mapstructure:"name_min_len"`
	NameMaxLen    int           `mapstructure:"name_max_len"`
	CreateCost    int64         `mapstructure:"create_cost"`
	InviteTTL     time.Duration `mapstructure:"invite_ttl"`
	SaveIntervalS int           `mapstructure:"save_interval_s"`
}

// TaskConfig holds the task refresh cadence settings.
type TaskConfig struct {
	DailyTime      string        `mapstructure:"daily_time"`  // "06:00"
	WeeklyTime     string        `mapstructure:"weekly_time"` // "MON 06:00"
	Timezone       string        `mapstructure:"timezone"`    // IANA zone name
	DriverInterval time.Duration `mapstructure:"driver_interval"`
	ErrorHistory   int           `mapstructure:"error_history"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/sectd.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("sect.max_members", 10)
	v.SetDefault("sect.name_min_len", 2)
	v.SetDefault("sect.name_max_len", 32)
	v.SetDefault("sect.create_cost", 1000)
	v.SetDefault("sect.invite_ttl", "60s")
	v.SetDefault("sect.save_interval_s", 300)
	v.SetDefault("task.daily_time", "06:00")
	v.SetDefault("task.weekly_time", "MON 06:00")
	v.SetDefault("task.timezone", "Asia/Shanghai")
	v.SetDefault("task.driver_interval", "1m")
	v.SetDefault("task.error_history", 20)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
