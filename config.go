package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/reversal/shared"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	// defaultWindow is the default candle window duration.
	defaultWindow = time.Minute * 15
	// defaultLogLevel is the default log level.
	defaultLogLevel = "info"
)

// Config is the configuration struct for the service.
type Config struct {
	// Instruments represents the tracked instruments.
	Instruments []string
	// Window is the candle window duration.
	Window time.Duration
	// Grace is the period from the start of an entry's candle window before stop losses can
	// be ratcheted.
	Grace time.Duration
	// PollInterval is the interval between live price checks of position monitors.
	PollInterval time.Duration
	// Tolerance is the maximum percentage distance for a price to be considered close to a
	// day extreme.
	Tolerance float64
	// Timezone is the locality used for wall-clock alignment.
	Timezone string
	// SessionReset is the time of day (HH:MM) session state is reset.
	SessionReset string
	// ReplayFile is the filepath to recorded ticks to replay.
	ReplayFile string
	// ReplayBatchSize is the number of ticks submitted per replayed batch.
	ReplayBatchSize int
	// ReplayInterval is the wait between replayed tick batches.
	ReplayInterval time.Duration
	// StreamURL is the websocket endpoint streaming live ticks.
	StreamURL string
	// JournalEndpoint is the closed position journal endpoint.
	JournalEndpoint string
	// JournalUser is the closed position journal user.
	JournalUser string
	// JournalPass is the closed position journal user pass.
	JournalPass string
	// MetricsAddr is the address metrics are served on.
	MetricsAddr string
	// LogLevel is the minimum level of logged events.
	LogLevel string
	// LogFile is the filepath of the rotated log file.
	LogFile string

	registeredFlags map[string]bool
}

// applyDefaults sets defaults for unset values.
func (cfg *Config) applyDefaults() {
	if cfg.Window == 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Timezone == "" {
		cfg.Timezone = shared.DefaultLocation
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	switch {
	case cfg.ReplayFile == "" && cfg.StreamURL == "":
		errs = errors.Join(errs, fmt.Errorf("either a replay file or a stream url must be provided"))
	case cfg.ReplayFile != "" && cfg.StreamURL != "":
		errs = errors.Join(errs, fmt.Errorf("only one of a replay file or a stream url can be provided"))
	}

	err := shared.ValidateWindow(cfg.Window)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.Grace < 0 {
		errs = errors.Join(errs, fmt.Errorf("grace period cannot be negative"))
	}
	if cfg.PollInterval < 0 {
		errs = errors.Join(errs, fmt.Errorf("poll interval cannot be negative"))
	}
	if cfg.ReplayBatchSize < 0 {
		errs = errors.Join(errs, fmt.Errorf("replay batch size cannot be negative"))
	}
	if cfg.Tolerance < 0 {
		errs = errors.Join(errs, fmt.Errorf("tolerance cannot be negative"))
	}

	_, err = shared.LoadLocation(cfg.Timezone)
	if err != nil {
		errs = errors.Join(errs, err)
	}

	if cfg.SessionReset != "" {
		_, err := time.Parse(shared.SessionTimeLayout, cfg.SessionReset)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("session reset must be formatted as HH:MM, got '%s'",
				cfg.SessionReset))
		}
	}

	if cfg.LogLevel != "" {
		_, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("parsing log level: %w", err))
		}
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Int64:
		// Only handle time.Duration
		if val.Elem().Type() != reflect.TypeOf(time.Duration(0)) {
			return fmt.Errorf("%s: unsupported int64 type", name)
		}
		var def time.Duration
		if defValue != "" {
			def, _ = time.ParseDuration(defValue)
		}
		flag.DurationVar(value.(*time.Duration), name, def, usage)
	case reflect.Float64:
		var def float64
		if defValue != "" {
			def, _ = strconv.ParseFloat(defValue, 64)
		}
		flag.Float64Var(value.(*float64), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	flags := []struct {
		name  string
		value interface{}
		usage string
	}{
		{"instruments", &cfg.Instruments, "the tracked instruments, all streamed instruments when empty"},
		{"window", &cfg.Window, "the candle window duration"},
		{"grace", &cfg.Grace, "the stop loss ratchet grace period"},
		{"pollinterval", &cfg.PollInterval, "the live price poll interval of position monitors"},
		{"tolerance", &cfg.Tolerance, "the day extreme closeness tolerance percent"},
		{"timezone", &cfg.Timezone, "the timezone candle windows are aligned in"},
		{"sessionreset", &cfg.SessionReset, "the daily session reset time (HH:MM)"},
		{"replayfile", &cfg.ReplayFile, "the recorded ticks filepath"},
		{"replaybatchsize", &cfg.ReplayBatchSize, "the number of ticks per replayed batch"},
		{"replayinterval", &cfg.ReplayInterval, "the wait between replayed tick batches"},
		{"streamurl", &cfg.StreamURL, "the tick stream websocket url"},
		{"journalendpoint", &cfg.JournalEndpoint, "the closed position journal endpoint"},
		{"journaluser", &cfg.JournalUser, "the closed position journal user"},
		{"journalpass", &cfg.JournalPass, "the closed position journal pass"},
		{"metricsaddr", &cfg.MetricsAddr, "the metrics server address"},
		{"loglevel", &cfg.LogLevel, "the minimum log level"},
		{"logfile", &cfg.LogFile, "the rotated log filepath"},
	}

	// Register command line arguments using loaded environment variables as defaults.
	for idx := range flags {
		err = cfg.registerFlag(flags[idx].name, flags[idx].value, flags[idx].usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	cfg.applyDefaults()

	return cfg.Validate()
}
