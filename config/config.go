// Package config - layered application configuration.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-yolov2/backbone"
	"github.com/nvr-ai/go-yolov2/detector"
	"github.com/nvr-ai/go-yolov2/models/postprocess"
	"github.com/nvr-ai/go-yolov2/server"
)

// EnvPrefix marks environment overrides: YOLO_DETECTOR_NBCLASS=20 sets
// detector.nbclass.
const EnvPrefix = "YOLO_"

// LogConfig controls logging.
type LogConfig struct {
	Debug bool `koanf:"debug"`
}

// AppConfig is the full configuration.
type AppConfig struct {
	Detector    detector.Config       `koanf:"detector"`
	Hub         backbone.HubConfig     `koanf:"hub"`
	Runtime     backbone.RuntimeConfig `koanf:"runtime"`
	Postprocess postprocess.Config     `koanf:"postprocess"`
	Server      server.Config          `koanf:"server"`
	Log         LogConfig              `koanf:"log"`
}

// Config is the configuration loaded by Init.
var Config AppConfig

func defaults() map[string]any {
	d := postprocess.DefaultConfig()
	anchors := make([]any, len(d.Anchors))
	for i, a := range d.Anchors {
		anchors[i] = a
	}
	return map[string]any{
		"detector.nbbox":             5,
		"detector.nbclass":           80,
		"detector.backbone":          "ResNet",
		"hub.baseurl":                "http://127.0.0.1:8000/backbones",
		"hub.cachedir":               ".cache/backbones",
		"hub.timeout":                "5m",
		"hub.retrycount":             3,
		"postprocess.scorethreshold": d.ScoreThreshold,
		"postprocess.iouthreshold":   d.IoUThreshold,
		"postprocess.classaware":     d.ClassAware,
		"postprocess.anchors":        anchors,
		"postprocess.inputsize":      d.InputSize,
		"server.addr":                "127.0.0.1:8080",
		"server.readtimeout":         "60s",
		"server.writetimeout":        "60s",
		"server.maxbodybytes":        10 << 20,
	}
}

// Load builds an AppConfig from the defaults, the YAML file at filePath (when
// not empty) and YOLO_ environment overrides, in that order.
func Load(filePath string) (AppConfig, error) {
	var cfg AppConfig
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return cfg, errors.Wrap(err, "failed to load defaults")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return cfg, errors.Wrapf(err, "failed to load %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return cfg, errors.Wrap(err, "failed to load environment")
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to decode configuration")
	}

	return cfg, ValidateConfig(&cfg)
}

// Init loads the configuration into Config.
func Init(filePath string) error {
	cfg, err := Load(filePath)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

// ValidateConfig checks cross-section constraints.
func ValidateConfig(cfg *AppConfig) error {
	if err := cfg.Detector.Validate(); err != nil {
		return err
	}
	if err := cfg.Postprocess.Validate(cfg.Detector.NbBox); err != nil {
		return errors.Wrap(err, "postprocess")
	}
	if cfg.Hub.BaseURL == "" || cfg.Hub.CacheDir == "" {
		return errors.New("hub.baseurl and hub.cachedir are required")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return errors.Errorf("invalid server.maxbodybytes %d", cfg.Server.MaxBodyBytes)
	}
	return nil
}
