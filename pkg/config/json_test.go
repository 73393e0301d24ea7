package config

import (
	"encoding/json"
	"testing"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "source": { "type": "ads1115", "i2c_bus": "1", "i2c_address": 72, "adc_channel": 2, "sample_rate": 250 },
        "device": { "full_scale_volts": 5.0, "full_scale_counts": 1023 },
        "calibration": { "model_a": 0.0002, "model_b": 1.1, "initial_guess": 10, "tolerance": 1e-8, "max_iterations": 30 },
        "buffer": { "capacity": 120 },
        "pipeline": { "dispatch": "queued", "max_attempts": 5 },
        "outputs": [
            {"type":"clickhouse", "clickhouse": {"addr": "localhost:9000", "database": "iot"}},
            {"type":"mqtt", "mqtt": {"server": "tcp://localhost:1883", "topic": "lab"}}
        ],
        "metrics_addr": ":9100"
    }`

	cfg := DefaultConfig()
	if err := json.Unmarshal([]byte(js), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Source.Type != SourceADS1115 || cfg.Source.I2CAddress != 72 || cfg.Source.ADCChannel != 2 {
		t.Fatalf("source: %+v", cfg.Source)
	}
	if cfg.Source.BaudRate != 9600 {
		t.Fatalf("unset fields should keep defaults: baud=%d", cfg.Source.BaudRate)
	}
	if cfg.Device.FullScaleCounts != 1023 {
		t.Fatalf("device: %+v", cfg.Device)
	}
	if cfg.Calibration.InitialGuess != 10 || cfg.Calibration.MaxIterations != 30 {
		t.Fatalf("calibration: %+v", cfg.Calibration)
	}
	if cfg.Pipeline.Dispatch != DispatchQueued || cfg.Pipeline.MaxAttempts != 5 || cfg.Pipeline.Workers != 2 {
		t.Fatalf("pipeline: %+v", cfg.Pipeline)
	}
	if len(cfg.Outputs) != 2 || cfg.Outputs[0].ClickHouse == nil || cfg.Outputs[0].ClickHouse.Database != "iot" {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if cfg.Outputs[1].MQTT == nil || cfg.Outputs[1].MQTT.Topic != "lab" {
		t.Fatalf("mqtt output: %+v", cfg.Outputs[1])
	}
	if cfg.MetricsAddr != ":9100" {
		t.Fatalf("metrics_addr: %q", cfg.MetricsAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
