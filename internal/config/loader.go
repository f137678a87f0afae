package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "backdrop"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "BACKDROP"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flag
// bindings made by the CLI take effect.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.GetViper())
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from the search paths, environment variables and
// defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		// No config file: defaults and env vars only.
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that AutomaticEnv can override it.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("segmentation.backend", d.Segmentation.Backend)
	l.v.SetDefault("segmentation.default_model", d.Segmentation.DefaultModel)
	l.v.SetDefault("segmentation.max_width", d.Segmentation.MaxWidth)
	l.v.SetDefault("segmentation.max_height", d.Segmentation.MaxHeight)
	l.v.SetDefault("segmentation.num_threads", d.Segmentation.NumThreads)
	l.v.SetDefault("segmentation.warmup_iterations", d.Segmentation.WarmupIterations)
	l.v.SetDefault("segmentation.library_path", d.Segmentation.LibraryPath)
	l.v.SetDefault("segmentation.remote_url", d.Segmentation.RemoteURL)
	l.v.SetDefault("segmentation.remote_timeout_sec", d.Segmentation.RemoteTimeoutSec)
	l.v.SetDefault("segmentation.gpu.use_gpu", d.Segmentation.GPU.UseGPU)
	l.v.SetDefault("segmentation.gpu.device_id", d.Segmentation.GPU.DeviceID)
	l.v.SetDefault("segmentation.gpu.mem_limit", d.Segmentation.GPU.GPUMemLimit)
	l.v.SetDefault("segmentation.gpu.arena_extend_strategy", d.Segmentation.GPU.ArenaExtendStrategy)
	l.v.SetDefault("segmentation.gpu.cudnn_conv_algo_search", d.Segmentation.GPU.CUDNNConvAlgoSearch)
	l.v.SetDefault("segmentation.gpu.copy_in_default_stream", d.Segmentation.GPU.DoCopyInDefaultStream)

	l.v.SetDefault("compose.target_ratio", d.Compose.TargetRatio)
	l.v.SetDefault("compose.canvas_width", d.Compose.CanvasWidth)
	l.v.SetDefault("compose.canvas_height", d.Compose.CanvasHeight)
	l.v.SetDefault("compose.ground_line", d.Compose.GroundLine)
	l.v.SetDefault("compose.centered_offset", d.Compose.CenteredOffset)
	l.v.SetDefault("compose.floor_variance_threshold", d.Compose.FloorVarianceThreshold)
	l.v.SetDefault("compose.floor_multiplier", d.Compose.FloorMultiplier)
	l.v.SetDefault("compose.filter", d.Compose.Filter)
	l.v.SetDefault("compose.smart_placement", d.Compose.SmartPlacement)
	l.v.SetDefault("compose.normalize", d.Compose.Normalize)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout_sec", d.Server.ShutdownTimeoutSec)
	l.v.SetDefault("server.remove_model", d.Server.RemoveModel)
	l.v.SetDefault("server.batch_limit", d.Server.BatchLimit)
	l.v.SetDefault("server.storage_dir", d.Server.StorageDir)
	l.v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", d.Server.RateLimit.MaxRequestsPerDay)

	l.v.SetDefault("batch.workers", d.Batch.Workers)
	l.v.SetDefault("batch.continue_on_error", d.Batch.ContinueOnError)

	l.v.SetDefault("eval.dataset_dir", d.Eval.DatasetDir)
	l.v.SetDefault("eval.results_dir", d.Eval.ResultsDir)
	l.v.SetDefault("eval.threshold", d.Eval.Threshold)
	l.v.SetDefault("eval.models", d.Eval.Models)
}

// WriteDefaultConfig writes DefaultConfig as YAML to w.
func WriteDefaultConfig(w io.Writer) error {
	return WriteConfig(w, DefaultConfig())
}

// WriteConfig writes cfg as YAML to w.
func WriteConfig(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// GenerateDefaultConfigFile writes the default configuration to filename,
// or backdrop.yaml when empty. Existing files are not overwritten.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if err := WriteDefaultConfig(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home, filepath.Join(home, ".config", ConfigFileName))
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}

// PrintConfigInfo writes where configuration is loaded from to w. Lines are
// YAML comments so the output can precede a config dump.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	used := l.GetConfigFileUsed()
	if used == "" {
		used = "(none, defaults and environment only)"
	}
	_, _ = fmt.Fprintf(w, "# Configuration file used: %s\n", used)
	_, _ = fmt.Fprintf(w, "# Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "# Environment prefix: %s\n", EnvPrefix)
}
