package qtnetworkng

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config collects everything a KcpSocket can be configured with from a file.
// The programmatic setters remain the primary interface; this layer is sugar
// for services that keep their tuning in YAML.
type Config struct {
	KCP     KCPConfig     `yaml:"kcp"`
	Logging LoggingConfig `yaml:"logging"`
}

// KCPConfig contains the per-socket tuning knobs.
type KCPConfig struct {
	Mode              string `yaml:"mode"`
	Compression       bool   `yaml:"compression"`
	WaterLine         int    `yaml:"water_line"`
	KeepAliveInterval string `yaml:"keep_alive_interval"`
	TearDownTimeout   string `yaml:"tear_down_timeout"`
	ReuseAddress      bool   `yaml:"reuse_address"`
}

// ParseConfigFile parses a given configuration file into a Config struct.
func ParseConfigFile(configFile string) (*Config, error) {
	configData, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var config Config
	if err = yaml.UnmarshalStrict(configData, &config); err != nil {
		return nil, errors.WithStack(err)
	}
	return &config, nil
}

// Apply configures a socket from this KCPConfig. It must be called before
// the socket is bound or connected.
func (c *KCPConfig) Apply(s *KcpSocket) error {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return err
	}
	s.SetMode(mode)
	s.SetCompression(c.Compression)
	s.SetReuseAddress(c.ReuseAddress)
	if c.WaterLine < 0 {
		return errors.New("'water_line' must be positive")
	} else if c.WaterLine > 0 {
		s.SetWaterLine(c.WaterLine)
	}
	if c.KeepAliveInterval != "" {
		interval, err := time.ParseDuration(c.KeepAliveInterval)
		if err != nil || interval <= 0 {
			return errors.New("invalid 'keep_alive_interval'")
		}
		s.SetKeepAliveInterval(interval)
	}
	if c.TearDownTimeout != "" {
		timeout, err := time.ParseDuration(c.TearDownTimeout)
		if err != nil || timeout <= 0 {
			return errors.New("invalid 'tear_down_timeout'")
		}
		s.SetTearDownTime(timeout)
	}
	return nil
}

// CreateKcpSocket builds a socket from a full Config, logger included.
func CreateKcpSocket(config *Config) (*KcpSocket, error) {
	s := NewKcpSocket()
	if config == nil {
		return s, nil
	}
	log, err := CreateLogger(config.Logging)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create logger")
	}
	s.SetLogger(log)
	if err = config.KCP.Apply(s); err != nil {
		return nil, errors.WithMessage(err, "failed to apply KCP config")
	}
	return s, nil
}
