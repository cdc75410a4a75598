package gamelift

import (
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/spirius/gldeploy/pkg/cfn"
)

// DefaultConfigFile is the project config file.
const DefaultConfigFile = "gldeploy.yml"

// Default poll intervals in seconds.
const (
	DefaultPollInterval    = 2
	DefaultMaxPollInterval = 30
)

// DefaultMaxPollAttempts bounds every wait loop, a bit over
// three hours at DefaultMaxPollInterval.
const DefaultMaxPollAttempts = 400

// Config is the project configuration.
type Config struct {
	// GameName names the stack and the lambda archives.
	GameName string

	// SettingsFile is the settings document holding
	// the session state (profile, region, bucket).
	SettingsFile string

	// CredentialsFile and AWSConfigFile override the
	// shared AWS files.
	CredentialsFile string
	AWSConfigFile   string

	// ScenariosPath is the directory of scenario folders.
	ScenariosPath string

	// BuildFolder is the server build folder. The ServerBuildPath
	// setting takes precedence.
	BuildFolder string

	// PollInterval is the initial interval of status polling in
	// seconds, growing up to MaxPollInterval.
	PollInterval    int
	MaxPollInterval int

	// MaxPollAttempts is the number of status reads after which
	// waiting fails. Zero or less means DefaultMaxPollAttempts.
	MaxPollAttempts int

	GameLiftLocal LocalConfig

	// BucketPolicy is the lifecycle policy applied by bootstrap.
	BucketPolicy string

	AlwaysConfirm bool

	// Parameters override stack parameters. Values are templates.
	Parameters map[string]string
}

// LocalConfig configures GameLift Local.
type LocalConfig struct {
	Path string
	Port int
}

// DefaultConfig returns the configuration used when
// no config file is present.
func DefaultConfig() *Config {
	return &Config{
		ScenariosPath:   "scenarios",
		PollInterval:    DefaultPollInterval,
		MaxPollInterval: DefaultMaxPollInterval,
		MaxPollAttempts: DefaultMaxPollAttempts,
		Parameters:      make(map[string]string),
	}
}

// Poller returns the poller pacing stack status polls.
func (c *Config) Poller() cfn.Poller {
	initial, max := c.PollInterval, c.MaxPollInterval
	if initial <= 0 {
		initial = DefaultPollInterval
	}
	if max < initial {
		max = initial
	}
	attempts := c.MaxPollAttempts
	if attempts <= 0 {
		attempts = DefaultMaxPollAttempts
	}
	return cfn.Poller{
		Clock:       cfn.RealClock,
		Backoff:     cfn.ExponentialBackoff(time.Duration(initial)*time.Second, time.Duration(max)*time.Second),
		MaxAttempts: attempts,
	}
}

func decodeConfig(config *Config, r io.Reader) error {
	m := make(map[string]interface{})
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.Annotatef(err, "syntax error")
	}

	if err := mapstructure.WeakDecode(m, config); err != nil {
		return errors.Annotatef(err, "cannot parse config")
	}

	return nil
}

func decodeConfigFile(config *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	return errors.Annotatef(decodeConfig(config, f), "cannot parse config '%s'", path)
}

// LoadConfig reads the config at path and merges override on top
// of it. Missing config at path yields defaults, while missing
// override is an error.
func LoadConfig(path, override string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		err := decodeConfigFile(config, path)
		if os.IsNotExist(errors.Cause(err)) {
			log.Debugf("config %s not found, using defaults", path)
		} else if err != nil {
			return nil, errors.Trace(err)
		}
	}

	if override != "" {
		if err := decodeConfigFile(config, override); err != nil {
			return nil, errors.Annotatef(err, "cannot load config override")
		}
	}

	return config, nil
}
