package config // package config loads application configuration from environment variables

import (
    "os"
    "strconv"
    "time"

    "github.com/rs/zerolog/log"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Redis, rate limiting and caching have their own
// loaders in this package.
type Config struct {
    Env            string // APP_ENV (e.g. "dev", "prod")
    Port           string // APP_PORT
    DBUser         string // DB_USER
    DBPass         string // DB_PASS (optional)
    DBHost         string // DB_HOST
    DBPort         string // DB_PORT
    DBName         string // DB_NAME
    JWTSecret      string // JWT_SECRET
    AccessTTLMin   int    // ACCESS_TOKEN_TTL_MIN
    RefreshTTLDays int    // REFRESH_TOKEN_TTL_DAYS
    BcryptCost     int    // BCRYPT_COST, used for passwords and room PINs

    SessionScope   string        // SESSION_SCOPE: "user" (default) or "room_device"
    JoinMaxRetries int           // JOIN_MAX_RETRIES: re-runs after a deadlock or lock timeout
    SweepInterval  time.Duration // SWEEP_INTERVAL, 0 disables the sweep
    SweepGrace     time.Duration // SWEEP_GRACE: minimum session age before it can be swept
    WSSendBuffer   int           // WS_SEND_BUFFER: frames queued per connection before dropping
    WSPingPeriod   time.Duration // WS_PING_PERIOD
    GuestTTL       time.Duration // GUEST_TTL_HOURS
    FanoutRedis    bool          // FANOUT_REDIS: relay events through Redis pub/sub
    RabbitMQURL    string        // RABBITMQ_URL, empty disables the activity queue
    LogDir         string        // LOG_DIR for the activity audit log
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    return Config{
        Env:            must("APP_ENV"),
        Port:           must("APP_PORT"),
        DBUser:         must("DB_USER"),
        DBPass:         os.Getenv("DB_PASS"),
        DBHost:         must("DB_HOST"),
        DBPort:         must("DB_PORT"),
        DBName:         must("DB_NAME"),
        JWTSecret:      must("JWT_SECRET"),
        AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
        RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
        BcryptCost:     mustInt("BCRYPT_COST"),

        SessionScope:   envStr("SESSION_SCOPE", "user"),
        JoinMaxRetries: envInt("JOIN_MAX_RETRIES", 3),
        SweepInterval:  envDur("SWEEP_INTERVAL", time.Minute),
        SweepGrace:     envDur("SWEEP_GRACE", 2*time.Minute),
        WSSendBuffer:   envInt("WS_SEND_BUFFER", 64),
        WSPingPeriod:   envDur("WS_PING_PERIOD", 30*time.Second),
        GuestTTL:       time.Duration(envInt("GUEST_TTL_HOURS", 24)) * time.Hour,
        FanoutRedis:    envBool("FANOUT_REDIS", false),
        RabbitMQURL:    os.Getenv("RABBITMQ_URL"),
        LogDir:         envStr("LOG_DIR", "logs"),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatal().Str("key", key).Msg("missing required env var")
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatal().Str("key", key).Str("value", s).Msg("invalid int env var")
    }
    return n
}
