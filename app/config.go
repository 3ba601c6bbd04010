package app

import (
	"encoding/json"
	"fmt"
	"github.com/caarlos0/env/v11"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/flipmatch/deck"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/gatekeeping"
	"github.com/lefinal/flipmatch/games"
	"github.com/lefinal/flipmatch/scheduling"
	"go.uber.org/zap/zapcore"
	"os"
	"time"
)

// envPrefix is the prefix for all environment variables that override config
// values.
const envPrefix = "FLIPMATCH_"

const (
	defaultListenAddr = ":8080"
	defaultMaxLogSize = 10
	defaultKeepDays   = 30
)

// Duration is a time.Duration that is read from strings like "1s" or "250ms".
type Duration time.Duration

// UnmarshalText parses the duration with time.ParseDuration.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON parses a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	err := json.Unmarshal(raw, &n)
	if err != nil {
		return fmt.Errorf("duration must be a string like 1s or a number of nanoseconds: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Config is the configuration needed in order to boot an App.
type Config struct {
	// DBConn is the connection string for the PostgreSQL database. If empty, an
	// in-memory store is used.
	DBConn string `json:"db_conn" env:"DB_CONN"`
	// ListenAddr is the address the web server listens on.
	ListenAddr string `json:"listen_addr" env:"LISTEN_ADDR"`
	// JWTSecret is the HMAC secret for identity tokens.
	JWTSecret string `json:"jwt_secret" env:"JWT_SECRET"`
	// TokenCookie is the name of the cookie holding the identity token.
	TokenCookie string `json:"token_cookie" env:"TOKEN_COOKIE"`
	// TickDelay is the delay before a mismatched pair is hidden again.
	TickDelay Duration `json:"tick_delay" env:"TICK_DELAY"`
	// StoreTimeout is the timeout for each persistence call of the engine.
	StoreTimeout Duration `json:"store_timeout" env:"STORE_TIMEOUT"`
	// Users maps user ids to usernames. They are the known identities when the
	// in-memory store is used and ignored otherwise.
	Users map[string]string `json:"users" env:"USERS"`
	// CreateEmpty creates matches without their creator as initial player.
	CreateEmpty bool `json:"create_empty" env:"CREATE_EMPTY"`
	// CardValues is an optional custom pool of card values. If empty,
	// deck.DefaultValues is used.
	CardValues []string `json:"card_values" env:"CARD_VALUES"`
	// MQTTAddr is the optional address of the MQTT broker for the match feed.
	MQTTAddr nulls.String `json:"mqtt_addr" env:"MQTT_ADDR"`
	// MQTTClientID is the client id for the MQTT connection.
	MQTTClientID string `json:"mqtt_client_id" env:"MQTT_CLIENT_ID"`
	// Log is the logging configuration.
	Log LogConfig `json:"log" envPrefix:"LOG_"`
}

// LogConfig is the configuration for logging.
type LogConfig struct {
	// StdoutLogLevel is the minimum level for logging to stdout.
	StdoutLogLevel zapcore.Level `json:"stdout_level" env:"STDOUT_LEVEL"`
	// HighPriorityOutput is the optional file for warn and above.
	HighPriorityOutput nulls.String `json:"high_priority_output" env:"HIGH_PRIORITY_OUTPUT"`
	// DebugOutput is the optional file for all log entries.
	DebugOutput nulls.String `json:"debug_output" env:"DEBUG_OUTPUT"`
	// MaxSize is the maximum size in megabytes of log files before rotating.
	MaxSize int `json:"max_size" env:"MAX_SIZE"`
	// KeepDays is the number of days to keep rotated log files.
	KeepDays int `json:"keep_days" env:"KEEP_DAYS"`
	// PublishLevel is the minimum level for publishing log entries via MQTT. Only
	// used if Config.MQTTAddr is set.
	PublishLevel zapcore.Level `json:"publish_level" env:"PUBLISH_LEVEL"`
	// SystemDebugStatsInterval is the interval for logging debug stats. Zero
	// disables them.
	SystemDebugStatsInterval Duration `json:"system_debug_stats_interval" env:"SYSTEM_DEBUG_STATS_INTERVAL"`
}

// defaultConfig returns the Config with default values that are overwritten by
// the config file and environment.
func defaultConfig() Config {
	return Config{
		ListenAddr:   defaultListenAddr,
		TokenCookie:  gatekeeping.DefaultTokenCookie,
		TickDelay:    Duration(scheduling.DefaultTickDelay),
		StoreTimeout: Duration(games.DefaultStoreTimeout),
		MQTTClientID: "flipmatch-server",
		Log: LogConfig{
			StdoutLogLevel: zapcore.InfoLevel,
			MaxSize:        defaultMaxLogSize,
			KeepDays:       defaultKeepDays,
			PublishLevel:   zapcore.WarnLevel,
		},
	}
}

// LoadConfig reads the Config from the JSON file at the given path and applies
// overrides from environment variables. If the path is empty, only defaults and
// environment variables are used.
func LoadConfig(path string) (Config, error) {
	config := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Error{
				Code:    errors.ErrFatal,
				Err:     err,
				Message: "read config file",
				Details: errors.Details{"path": path},
			}
		}
		err = json.Unmarshal(raw, &config)
		if err != nil {
			return Config{}, errors.Error{
				Code:    errors.ErrFatal,
				Kind:    errors.KindDecodeJSON,
				Err:     err,
				Message: "parse config file",
				Details: errors.Details{"path": path},
			}
		}
	}
	err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix})
	if err != nil {
		return Config{}, errors.Error{
			Code:    errors.ErrFatal,
			Err:     err,
			Message: "parse environment",
		}
	}
	return config, nil
}

// ValidateConfig validates the given Config.
func ValidateConfig(config Config) error {
	if config.ListenAddr == "" {
		return errors.NewInternalError("missing listen addr", nil)
	}
	if config.JWTSecret == "" {
		return errors.NewInternalError("missing jwt secret", nil)
	}
	if config.TokenCookie == "" {
		return errors.NewInternalError("missing token cookie", nil)
	}
	if config.TickDelay <= 0 {
		return errors.NewInternalError("tick delay must be positive", errors.Details{"was": time.Duration(config.TickDelay).String()})
	}
	if config.StoreTimeout <= 0 {
		return errors.NewInternalError("store timeout must be positive", errors.Details{"was": time.Duration(config.StoreTimeout).String()})
	}
	if config.Log.SystemDebugStatsInterval < 0 {
		return errors.NewInternalError("system debug stats interval must not be negative", nil)
	}
	if len(config.CardValues) > 0 {
		_, err := deck.NewGenerator(config.CardValues, nil)
		if err != nil {
			return errors.Wrap(err, "card values", nil)
		}
	}
	for userID, username := range config.Users {
		if userID == "" || username == "" {
			return errors.NewInternalError("users need id and username", errors.Details{
				"user_id":  userID,
				"username": username,
			})
		}
	}
	if config.MQTTAddr.Valid && config.MQTTAddr.String == "" {
		return errors.NewInternalError("mqtt addr set but empty", nil)
	}
	return nil
}
