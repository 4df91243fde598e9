package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// TickInterval is the cadence of the periodic simulation tick.
	TickInterval time.Duration
	// RefreshDelay is the simulated latency of an operator-triggered refresh.
	RefreshDelay time.Duration

	// SimSeed seeds the simulation when HasSimSeed is set; otherwise the
	// seed is taken from the clock at startup.
	SimSeed    int64
	HasSimSeed bool

	// ProfilePath is the optional farm profile YAML file (FARM_PROFILE).
	ProfilePath string
	Farm        FarmProfile
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	tickInterval, err := parsePositiveDuration("TICK_INTERVAL", "10s")
	if err != nil {
		return Config{}, err
	}
	refreshDelay, err := parsePositiveDuration("REFRESH_DELAY", "1s")
	if err != nil {
		return Config{}, err
	}

	var (
		simSeed    int64
		hasSimSeed bool
	)
	if s := strings.TrimSpace(os.Getenv("SIM_SEED")); s != "" {
		simSeed, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SIM_SEED %q: %w", s, err)
		}
		hasSimSeed = true
	}

	profilePath := strings.TrimSpace(os.Getenv("FARM_PROFILE"))
	farm := DefaultFarmProfile()
	if profilePath != "" {
		farm, err = LoadFarmProfile(profilePath)
		if err != nil {
			return Config{}, fmt.Errorf("FARM_PROFILE %q: %w", profilePath, err)
		}
	}

	return Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		HTTPAddr:     httpAddr,
		TickInterval: tickInterval,
		RefreshDelay: refreshDelay,
		SimSeed:      simSeed,
		HasSimSeed:   hasSimSeed,
		ProfilePath:  profilePath,
		Farm:         farm,
	}, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
