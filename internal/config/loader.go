package config

import (
	"fmt"
	"time"

	"github.com/bitempo/bitempo/internal/db"
	"github.com/spf13/viper"
)

// Engine holds the engine tunables that are deployment policy rather than
// behavior: the activation grace window, the durable worker's poll interval,
// and the distributed lock lease.
type Engine struct {
	ActivationGrace time.Duration
	WorkerPoll      time.Duration
	LockTTL         time.Duration
	RedisURL        string
	LogMode         string
	MetricsAddr     string
	TrackedTypes    []string
}

// DefaultEngine returns the default engine configuration.
func DefaultEngine() Engine {
	return Engine{
		ActivationGrace: 5 * time.Second,
		WorkerPoll:      time.Second,
		LockTTL:         30 * time.Second,
		LogMode:         "dev",
		MetricsAddr:     ":9090",
	}
}

// Load reads config.yaml from configPath with environment overrides
// (BITEMPO_DATABASE_HOST etc) and returns the database and engine config.
func Load(configPath string) (db.Config, Engine, error) {
	dbCfg := db.DefaultConfig()
	engCfg := DefaultEngine()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("BITEMPO")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("engine.activation_grace")
	v.BindEnv("engine.worker_poll")
	v.BindEnv("engine.lock_ttl")
	v.BindEnv("engine.redis_url")
	v.BindEnv("engine.log_mode")
	v.BindEnv("engine.metrics_addr")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		dbCfg.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		dbCfg.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		dbCfg.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		dbCfg.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		dbCfg.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		dbCfg.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("engine.activation_grace") {
		engCfg.ActivationGrace = v.GetDuration("engine.activation_grace")
	}
	if v.IsSet("engine.worker_poll") {
		engCfg.WorkerPoll = v.GetDuration("engine.worker_poll")
	}
	if v.IsSet("engine.lock_ttl") {
		engCfg.LockTTL = v.GetDuration("engine.lock_ttl")
	}
	if v.IsSet("engine.redis_url") {
		engCfg.RedisURL = v.GetString("engine.redis_url")
	}
	if v.IsSet("engine.log_mode") {
		engCfg.LogMode = v.GetString("engine.log_mode")
	}
	if v.IsSet("engine.metrics_addr") {
		engCfg.MetricsAddr = v.GetString("engine.metrics_addr")
	}
	if v.IsSet("engine.tracked_types") {
		engCfg.TrackedTypes = v.GetStringSlice("engine.tracked_types")
	}

	return dbCfg, engCfg, nil
}
