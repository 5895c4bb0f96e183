package cli

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/libbyhq/libby/pkg/checksum"
	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/httputil"
	"github.com/libbyhq/libby/pkg/manager"
)

// envPrefix namespaces environment overrides (LIBBY_CACHE_DIR, ...).
const envPrefix = "LIBBY"

// Settings are the resolved CLI settings. Precedence, highest first:
// flags, LIBBY_* environment, config file, defaults.
type Settings struct {
	CacheDir           string
	Repositories       []string
	ChecksumPolicy     checksum.Policy
	Retry              httputil.Policy
	Timeout            time.Duration
	RateLimit          rate.Limit
	Concurrency        int
	TransitiveFallback manager.TransitiveFallback

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", "")
	v.SetDefault("repositories", []string{"central"})
	v.SetDefault("checksum_policy", checksum.PolicyWarn.String())
	v.SetDefault("retry.attempts", httputil.DefaultPolicy.Attempts)
	v.SetDefault("retry.delay", httputil.DefaultPolicy.Delay)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("concurrency", 4)
	v.SetDefault("transitive_fallback", manager.TransitiveAbort.String())
}

// configDir returns $XDG_CONFIG_HOME/libby or ~/.config/libby.
func configDir() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// newViper builds the layered settings source. path selects an explicit
// config file; otherwise config.{toml,yaml,json} is looked up in the
// config directory and its absence is not an error.
func newViper(path string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read settings")
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}
	return v, nil
}

// flagKeys maps settings keys to the persistent flags that override them.
var flagKeys = map[string]string{
	"cache_dir":           "cache-dir",
	"repositories":        "repository",
	"checksum_policy":     "checksum-policy",
	"timeout":             "timeout",
	"concurrency":         "concurrency",
	"transitive_fallback": "transitive-fallback",
}

// loadSettings resolves v into Settings.
func loadSettings(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		CacheDir:     v.GetString("cache_dir"),
		Repositories: v.GetStringSlice("repositories"),
		Retry: httputil.Policy{
			Attempts: v.GetInt("retry.attempts"),
			Delay:    v.GetDuration("retry.delay"),
			MaxDelay: httputil.DefaultPolicy.MaxDelay,
		},
		Timeout:     v.GetDuration("timeout"),
		RateLimit:   rate.Limit(v.GetFloat64("rate_limit")),
		Concurrency: v.GetInt("concurrency"),
		ConfigFile:  v.ConfigFileUsed(),
	}
	var err error
	if s.ChecksumPolicy, err = checksum.ParsePolicy(v.GetString("checksum_policy")); err != nil {
		return nil, err
	}
	if s.TransitiveFallback, err = manager.ParseTransitiveFallback(v.GetString("transitive_fallback")); err != nil {
		return nil, err
	}
	if s.Retry.Attempts < 1 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "retry.attempts must be at least 1")
	}
	if s.Concurrency < 1 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "concurrency must be at least 1")
	}
	if s.CacheDir == "" {
		if s.CacheDir, err = cacheDir(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "locate cache directory")
		}
	}
	return s, nil
}
