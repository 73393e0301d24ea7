package config

import (
	"log/slog"
	"os"
	"strconv"
)

const envPrefix = "LUXMETER_"

// applyEnv overrides cfg with LUXMETER_* variables. Unparseable numbers are
// logged and ignored.
func applyEnv(cfg *Config) {
	cfg.Source.Type = getEnv("SOURCE", cfg.Source.Type)
	cfg.Source.Address = getEnv("PORT", cfg.Source.Address)
	cfg.Source.BaudRate = getEnvInt("BAUD_RATE", cfg.Source.BaudRate)
	cfg.Source.I2CBus = getEnv("I2C_BUS", cfg.Source.I2CBus)
	cfg.Source.ADCChannel = getEnvInt("ADC_CHANNEL", cfg.Source.ADCChannel)

	cfg.Calibration.ModelA = getEnvFloat("MODEL_A", cfg.Calibration.ModelA)
	cfg.Calibration.ModelB = getEnvFloat("MODEL_B", cfg.Calibration.ModelB)
	cfg.Calibration.InitialGuess = getEnvFloat("INITIAL_GUESS", cfg.Calibration.InitialGuess)
	cfg.Calibration.Tolerance = getEnvFloat("TOLERANCE", cfg.Calibration.Tolerance)
	cfg.Calibration.MaxIterations = getEnvInt("MAX_ITERATIONS", cfg.Calibration.MaxIterations)
	cfg.Buffer.Capacity = getEnvInt("BUFFER_CAPACITY", cfg.Buffer.Capacity)

	if v := getEnv("OUTPUTS", ""); v != "" {
		cfg.Outputs = outputsFromCSV(v, cfg.Outputs)
	}
	if v := getEnv("SQLITE_PATH", ""); v != "" {
		ensureOutput(cfg, OutputSQLite).SQLite.Path = v
	}
	if v := getEnv("CLICKHOUSE_ADDR", ""); v != "" {
		ch := ensureOutput(cfg, OutputClickHouse).ClickHouse
		ch.Addr = v
		ch.Database = getEnv("CLICKHOUSE_DB", ch.Database)
		ch.Username = getEnv("CLICKHOUSE_USER", ch.Username)
		ch.Password = getEnv("CLICKHOUSE_PASS", ch.Password)
	}
	if v := getEnv("MQTT_SERVER", ""); v != "" {
		m := ensureOutput(cfg, OutputMQTT).MQTT
		m.Server = v
		m.Username = getEnv("MQTT_USER", m.Username)
		m.Password = getEnv("MQTT_PASS", m.Password)
	}

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring unparseable env var", "key", envPrefix+key, "error", err)
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("ignoring unparseable env var", "key", envPrefix+key, "error", err)
		return defaultValue
	}
	return v
}
