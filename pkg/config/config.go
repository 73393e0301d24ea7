package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ericogr/luxmeter/pkg/conversion"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid config")

const (
	SourceSerial     = "serial"
	SourceADS1115    = "ads1115"
	SourceSimulation = "simulation"

	DispatchDetached = "detached"
	DispatchQueued   = "queued"

	OutputSQLite     = "sqlite"
	OutputClickHouse = "clickhouse"
	OutputMQTT       = "mqtt"
	OutputConsole    = "console"
)

type SourceConfig struct {
	Type           string `json:"type"`
	Address        string `json:"address"`
	BaudRate       int    `json:"baud_rate"`
	ReadTimeoutMs  int    `json:"read_timeout_ms"`
	PollIntervalMs int    `json:"poll_interval_ms"`
	I2CBus         string `json:"i2c_bus"`
	I2CAddress     int    `json:"i2c_address"`
	ADCChannel     int    `json:"adc_channel"`
	SampleRate     int    `json:"sample_rate"`
	IntervalMs     int    `json:"interval_ms"`
}

type DeviceConfig struct {
	FullScaleVolts  float64 `json:"full_scale_volts"`
	FullScaleCounts float64 `json:"full_scale_counts"`
}

type BufferConfig struct {
	Capacity int `json:"capacity"`
}

type PipelineConfig struct {
	RefreshIntervalMs int    `json:"refresh_interval_ms"`
	ChannelSize       int    `json:"channel_size"`
	EventChannelSize  int    `json:"event_channel_size"`
	Dispatch          string `json:"dispatch"`
	QueueSize         int    `json:"queue_size"`
	Workers           int    `json:"workers"`
	MaxAttempts       int    `json:"max_attempts"`
	RetryDelayMs      int    `json:"retry_delay_ms"`
}

type MQTTConfig struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	// DiscoveryTopic enables Home Assistant discovery. A %s is replaced by
	// the record kind (raw, derived); without it only derived is announced.
	DiscoveryTopic    string `json:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type ClickHouseConfig struct {
	Addr     string `json:"addr"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type OutputConfig struct {
	Type       string            `json:"type"`
	SQLite     *SQLiteConfig     `json:"sqlite,omitempty"`
	ClickHouse *ClickHouseConfig `json:"clickhouse,omitempty"`
	MQTT       *MQTTConfig       `json:"mqtt,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type Config struct {
	Source      SourceConfig      `json:"source"`
	Device      DeviceConfig      `json:"device"`
	Calibration conversion.Params `json:"calibration"`
	Buffer      BufferConfig      `json:"buffer"`
	Pipeline    PipelineConfig    `json:"pipeline"`
	Outputs     []OutputConfig    `json:"outputs"`
	Logging     LoggingConfig     `json:"logging"`
	MetricsAddr string            `json:"metrics_addr"`

	// Path is the JSON file the config was loaded from, if any.
	Path string `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		Source: SourceConfig{
			Type:           SourceSerial,
			Address:        "/dev/ttyUSB0",
			BaudRate:       9600,
			ReadTimeoutMs:  30,
			PollIntervalMs: 10,
			I2CBus:         "2",
			I2CAddress:     0x48,
			ADCChannel:     0,
			SampleRate:     128,
			IntervalMs:     100,
		},
		Device:      DeviceConfig{FullScaleVolts: 3.3, FullScaleCounts: 1000},
		Calibration: conversion.DefaultParams(),
		Buffer:      BufferConfig{Capacity: 300},
		Pipeline: PipelineConfig{
			RefreshIntervalMs: 100,
			ChannelSize:       256,
			EventChannelSize:  64,
			Dispatch:          DispatchDetached,
			QueueSize:         512,
			Workers:           2,
			MaxAttempts:       3,
			RetryDelayMs:      100,
		},
		Outputs: []OutputConfig{
			{Type: OutputSQLite, SQLite: &SQLiteConfig{Path: "luxmeter.db"}},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadFromFlags loads configuration from the process command line.
func LoadFromFlags() (Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load builds the configuration in layers: defaults, the JSON file given by
// -config, a .env file plus LUXMETER_* environment variables, and finally
// flags. Flags override everything else.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfgPath := fs.String("config", "", "Path to JSON config file")
	envFile := fs.String("env-file", ".env", "Path to .env file (ignored when missing)")
	flagSource := fs.String("source", "", "sample source: serial|ads1115|simulation")
	flagPort := fs.String("port", "", "serial device address (e.g., /dev/ttyUSB0)")
	flagBaud := fs.Int("baud", -1, "serial baud rate")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '2' -> /dev/i2c-2)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagADCChannel := fs.Int("adc-channel", -1, "ADS1115 channel (0-3)")
	flagSampleRate := fs.Int("sample-rate", -1, "ADS1115 sample rate (SPS)")
	flagModelA := fs.Float64("model-a", math.NaN(), "calibration model coefficient A")
	flagModelB := fs.Float64("model-b", math.NaN(), "calibration model exponent B")
	flagGuess := fs.Float64("initial-guess", math.NaN(), "solver initial guess")
	flagTolerance := fs.Float64("tolerance", math.NaN(), "solver tolerance")
	flagMaxIter := fs.Int("max-iterations", -1, "solver iteration cap")
	flagCapacity := fs.Int("capacity", -1, "series buffer capacity")
	flagRefresh := fs.Int("refresh-ms", -1, "pipeline tick interval in ms")
	flagDispatch := fs.String("dispatch", "", "persistence dispatch: detached|queued")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (sqlite,clickhouse,mqtt,console)")
	flagSQLitePath := fs.String("sqlite-path", "", "SQLite database file")
	flagCHAddr := fs.String("clickhouse-addr", "", "ClickHouse address (host:port)")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT topic base")
	flagLogLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	flagLogFormat := fs.String("log-format", "", "log format: json|text")
	flagMetrics := fs.String("metrics-addr", "", "listen address for /metrics (empty disables)")

	if err := fs.Parse(args); err != nil {
		return DefaultConfig(), err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := readJSON(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
		cfg.Path = *cfgPath
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load env file: %w", err)
	}
	applyEnv(&cfg)

	if *flagSource != "" {
		cfg.Source.Type = *flagSource
	}
	if *flagPort != "" {
		cfg.Source.Address = *flagPort
	}
	if *flagBaud != -1 {
		cfg.Source.BaudRate = *flagBaud
	}
	if *flagI2CBus != "" {
		cfg.Source.I2CBus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.Source.I2CAddress = v
	}
	if *flagADCChannel != -1 {
		cfg.Source.ADCChannel = *flagADCChannel
	}
	if *flagSampleRate != -1 {
		cfg.Source.SampleRate = *flagSampleRate
	}
	if !math.IsNaN(*flagModelA) {
		cfg.Calibration.ModelA = *flagModelA
	}
	if !math.IsNaN(*flagModelB) {
		cfg.Calibration.ModelB = *flagModelB
	}
	if !math.IsNaN(*flagGuess) {
		cfg.Calibration.InitialGuess = *flagGuess
	}
	if !math.IsNaN(*flagTolerance) {
		cfg.Calibration.Tolerance = *flagTolerance
	}
	if *flagMaxIter != -1 {
		cfg.Calibration.MaxIterations = *flagMaxIter
	}
	if *flagCapacity != -1 {
		cfg.Buffer.Capacity = *flagCapacity
	}
	if *flagRefresh != -1 {
		cfg.Pipeline.RefreshIntervalMs = *flagRefresh
	}
	if *flagDispatch != "" {
		cfg.Pipeline.Dispatch = *flagDispatch
	}
	if *flagOutputs != "" {
		cfg.Outputs = outputsFromCSV(*flagOutputs, cfg.Outputs)
	}
	if *flagSQLitePath != "" {
		ensureOutput(&cfg, OutputSQLite).SQLite.Path = *flagSQLitePath
	}
	if *flagCHAddr != "" {
		ensureOutput(&cfg, OutputClickHouse).ClickHouse.Addr = *flagCHAddr
	}
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		m := ensureOutput(&cfg, OutputMQTT).MQTT
		if *flagMQTTServer != "" {
			m.Server = *flagMQTTServer
		}
		if *flagMQTTUser != "" {
			m.Username = *flagMQTTUser
		}
		if *flagMQTTPass != "" {
			m.Password = *flagMQTTPass
		}
		if *flagClientID != "" {
			m.ClientID = *flagClientID
		}
		if *flagTopic != "" {
			m.Topic = *flagTopic
		}
	}
	if *flagLogLevel != "" {
		cfg.Logging.Level = *flagLogLevel
	}
	if *flagLogFormat != "" {
		cfg.Logging.Format = *flagLogFormat
	}
	if *flagMetrics != "" {
		cfg.MetricsAddr = *flagMetrics
	}

	fillOutputDefaults(&cfg)
	return cfg, cfg.Validate()
}

// Reload re-reads the JSON file and environment on top of defaults. Only
// the calibration and buffer sections are meant to be applied live.
func Reload(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := readJSON(path, &cfg); err != nil {
			return cfg, err
		}
		cfg.Path = path
	}
	applyEnv(&cfg)
	fillOutputDefaults(&cfg)
	return cfg, cfg.Validate()
}

func readJSON(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate reports every invalid setting, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Source.Type {
	case SourceSerial:
		if c.Source.Address == "" {
			bad("source.address is required for serial")
		}
		if c.Source.BaudRate < 300 || c.Source.BaudRate > 115200 {
			bad("source.baud_rate %d out of range 300..115200", c.Source.BaudRate)
		}
	case SourceADS1115:
		if c.Source.ADCChannel < 0 || c.Source.ADCChannel > 3 {
			bad("source.adc_channel %d out of range 0..3", c.Source.ADCChannel)
		}
		if c.Source.SampleRate <= 0 {
			bad("source.sample_rate must be > 0")
		}
	case SourceSimulation:
	default:
		bad("unknown source.type %q", c.Source.Type)
	}
	if c.Source.ReadTimeoutMs <= 0 {
		bad("source.read_timeout_ms must be > 0")
	}
	if c.Source.PollIntervalMs < 0 {
		bad("source.poll_interval_ms must be >= 0")
	}
	if c.Device.FullScaleCounts <= 0 {
		bad("device.full_scale_counts must be > 0")
	}
	if c.Calibration.Tolerance <= 0 {
		bad("calibration.tolerance must be > 0")
	}
	if c.Calibration.MaxIterations < 0 {
		bad("calibration.max_iterations must be >= 0")
	}
	if c.Buffer.Capacity < 0 {
		bad("buffer.capacity must be >= 0")
	}
	if c.Pipeline.RefreshIntervalMs <= 0 {
		bad("pipeline.refresh_interval_ms must be > 0")
	}
	if c.Pipeline.ChannelSize <= 0 || c.Pipeline.EventChannelSize <= 0 {
		bad("pipeline channel sizes must be > 0")
	}
	switch c.Pipeline.Dispatch {
	case DispatchDetached:
	case DispatchQueued:
		if c.Pipeline.QueueSize <= 0 || c.Pipeline.Workers <= 0 || c.Pipeline.MaxAttempts < 1 {
			bad("queued dispatch needs queue_size > 0, workers > 0 and max_attempts >= 1")
		}
	default:
		bad("unknown pipeline.dispatch %q", c.Pipeline.Dispatch)
	}
	for i, o := range c.Outputs {
		switch o.Type {
		case OutputConsole:
		case OutputSQLite:
			if o.SQLite == nil || o.SQLite.Path == "" {
				bad("outputs[%d]: sqlite.path is required", i)
			}
		case OutputClickHouse:
			if o.ClickHouse == nil || o.ClickHouse.Addr == "" {
				bad("outputs[%d]: clickhouse.addr is required", i)
			}
		case OutputMQTT:
			if o.MQTT == nil || o.MQTT.Server == "" {
				bad("outputs[%d]: mqtt.server is required", i)
			}
		default:
			bad("outputs[%d]: unknown type %q", i, o.Type)
		}
	}
	return errors.Join(errs...)
}

func outputsFromCSV(s string, existing []OutputConfig) []OutputConfig {
	parts := parseCSV(s)
	outs := make([]OutputConfig, 0, len(parts))
	for _, p := range parts {
		t := strings.ToLower(p)
		oc := OutputConfig{Type: t}
		// keep settings already configured for the same type
		for _, e := range existing {
			if e.Type == t {
				oc = e
				break
			}
		}
		outs = append(outs, oc)
	}
	return outs
}

// ensureOutput returns the first output of type t, appending one when
// missing, with its settings struct allocated.
func ensureOutput(cfg *Config, t string) *OutputConfig {
	idx := -1
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == t {
			idx = i
			break
		}
	}
	if idx == -1 {
		cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: t})
		idx = len(cfg.Outputs) - 1
	}
	o := &cfg.Outputs[idx]
	switch t {
	case OutputSQLite:
		if o.SQLite == nil {
			o.SQLite = &SQLiteConfig{}
		}
	case OutputClickHouse:
		if o.ClickHouse == nil {
			o.ClickHouse = &ClickHouseConfig{}
		}
	case OutputMQTT:
		if o.MQTT == nil {
			o.MQTT = &MQTTConfig{}
		}
	}
	return o
}

func fillOutputDefaults(cfg *Config) {
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		switch o.Type {
		case OutputSQLite:
			if o.SQLite == nil {
				o.SQLite = &SQLiteConfig{}
			}
			if o.SQLite.Path == "" {
				o.SQLite.Path = "luxmeter.db"
			}
		case OutputClickHouse:
			if o.ClickHouse == nil {
				o.ClickHouse = &ClickHouseConfig{}
			}
			if o.ClickHouse.Database == "" {
				o.ClickHouse.Database = "luxmeter"
			}
			if o.ClickHouse.Username == "" {
				o.ClickHouse.Username = "default"
			}
		case OutputMQTT:
			if o.MQTT != nil && o.MQTT.Topic == "" {
				o.MQTT.Topic = "luxmeter"
			}
		}
	}
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
