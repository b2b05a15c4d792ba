// Package probeconfig loads the netpulse daemon configuration.
package probeconfig

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	errgo "gopkg.in/errgo.v1"
	yaml "gopkg.in/yaml.v2"
)

// Values used when the configuration file or its keys are absent.
const (
	DefaultInterval = 5 * time.Minute
	DefaultLogPath  = "internet_metrics.csv"
)

// Config holds the daemon configuration. It's loaded once at startup
// and never reloaded.
type Config struct {
	// Interval holds the time between measurement cycles.
	Interval time.Duration
	// LogPath holds the path of the CSV file that samples are appended to.
	LogPath string
}

// configFile mirrors the on-disk YAML layout. The values are loosely
// typed so that an unexpected value shape falls back to the default
// rather than failing the whole file. Unrecognized keys are ignored.
type configFile struct {
	App struct {
		IntervalSeconds interface{} `yaml:"interval_seconds"`
		LogFile         interface{} `yaml:"log_file"`
	} `yaml:"app"`
}

// Load loads the configuration from the YAML file at path.
// If the file doesn't exist, the built-in defaults are returned
// without error. Content that can't be parsed as YAML is an error.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{
				Interval: DefaultInterval,
				LogPath:  DefaultLogPath,
			}, nil
		}
		return nil, errgo.Notef(err, "cannot read config from %q", path)
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, errgo.Notef(err, "cannot parse config from %q", path)
	}
	cfg := &Config{
		Interval: intervalValue(cf.App.IntervalSeconds),
		LogPath:  DefaultLogPath,
	}
	if s, ok := cf.App.LogFile.(string); ok && s != "" {
		cfg.LogPath = s
	}
	return cfg, nil
}

// intervalValue coerces an interval_seconds value to a positive
// whole number of seconds, falling back to the default.
func intervalValue(v interface{}) time.Duration {
	var secs int
	switch v := v.(type) {
	case int:
		secs = v
	case int64:
		secs = int(v)
	case float64:
		secs = int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return DefaultInterval
		}
		secs = n
	default:
		return DefaultInterval
	}
	if secs <= 0 {
		return DefaultInterval
	}
	return time.Duration(secs) * time.Second
}
