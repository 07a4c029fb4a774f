// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"objstore/pkg/storage/retry"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "config.yaml"
	ConfigDirName  = "objstore"
	EnvPrefix      = "OBJSTORE"
)

type HTTPConfig struct {
	URL               string            `mapstructure:"url" yaml:"url,omitempty" validate:"omitempty,url"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	UserAgent         string            `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
	StrictRanges      bool              `mapstructure:"strict_ranges" yaml:"strict_ranges,omitempty"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty" validate:"gte=0"`
}

type AWSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty" validate:"required_with=AccessKeyID"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token,omitempty"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style,omitempty"`
	// Part size for multipart uploads; zero uses the store default
	PartSize int64 `mapstructure:"part_size" yaml:"part_size,omitempty" validate:"omitempty,gte=5242880"`
}

type GCPConfig struct {
	Project  string `mapstructure:"project" yaml:"project,omitempty"`
	Bucket   string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"omitempty,url"`
	// Skip credential lookup, for emulators and public buckets
	Anonymous bool `mapstructure:"anonymous" yaml:"anonymous,omitempty"`
}

type Config struct {
	// Upper bound on a single storage operation; zero disables it
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" validate:"gte=0"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http,omitempty"`
	AWS     AWSConfig     `mapstructure:"aws" yaml:"aws,omitempty"`
	GCP     GCPConfig     `mapstructure:"gcp" yaml:"gcp,omitempty"`
	Retry   retry.Policy  `mapstructure:"retry" yaml:"retry,omitempty"`
}

// Every settable key with its default. Keys under a map section
// (http.headers) are accepted with any suffix.
func defaults() map[string]any {
	p := retry.DefaultPolicy()
	return map[string]any{
		"timeout":                  time.Duration(0),
		"http.url":                 "",
		"http.headers":             map[string]string{},
		"http.user_agent":          "objstore",
		"http.strict_ranges":       false,
		"http.requests_per_second": 0.0,
		"aws.bucket":               "",
		"aws.region":               "",
		"aws.endpoint":             "",
		"aws.access_key_id":        "",
		"aws.secret_access_key":    "",
		"aws.session_token":        "",
		"aws.path_style":           false,
		"aws.part_size":            int64(0),
		"gcp.project":              "",
		"gcp.bucket":               "",
		"gcp.endpoint":             "",
		"gcp.anonymous":            false,
		"retry.max_attempts":       p.MaxAttempts,
		"retry.base_delay":         p.BaseDelay,
		"retry.max_delay":          p.MaxDelay,
		"retry.jitter":             p.JitterFraction,
	}
}

var mapSections = []string{"http.headers"}

// ConfigManager loads the configuration file, overlays OBJSTORE_* environment
// variables and edits individual keys in the file
type ConfigManager struct {
	path     string
	validate *validator.Validate
}

// Uses path when set, the default location otherwise
func NewConfigManager(path string) (*ConfigManager, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &ConfigManager{
		path:     path,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// $XDG_CONFIG_HOME/objstore/config.yaml, or the platform equivalent
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error locating user config directory: %w", err)
	}
	return filepath.Join(dir, ConfigDirName, ConfigFileName), nil
}

func (m *ConfigManager) Path() string {
	return m.path
}

func (m *ConfigManager) newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetConfigFile(m.path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Reads the file (a missing file is not an error), applies environment
// overrides and validates the result
func (m *ConfigManager) LoadConfig() (*Config, error) {
	v := m.newViper()
	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return m.decode(v)
}

func (m *ConfigManager) decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := m.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: retry: %w", err)
	}
	return &cfg, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// Checks that key is one the configuration knows about
func ValidateKey(key string) error {
	key = strings.ToLower(key)
	if _, ok := defaults()[key]; ok {
		if isMapSection(key) {
			return fmt.Errorf("config key %s is a section; set %s.<name> instead", key, key)
		}
		return nil
	}
	for _, section := range mapSections {
		if strings.HasPrefix(key, section+".") && len(key) > len(section)+1 {
			return nil
		}
	}
	return fmt.Errorf("unknown config key: %s. Known keys are: %s", key, strings.Join(Keys(), ", "))
}

func isMapSection(key string) bool {
	for _, s := range mapSections {
		if key == s {
			return true
		}
	}
	return false
}

// Returns the known keys in sorted order
func Keys() []string {
	keys := make([]string, 0, len(defaults()))
	for k := range defaults() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sets key in the config file. The edited file must still load as a valid config.
func (m *ConfigManager) SetValue(key, value string) error {
	key = strings.ToLower(key)
	if err := ValidateKey(key); err != nil {
		return err
	}

	doc, err := m.readFile()
	if err != nil {
		return err
	}
	setNested(doc, strings.Split(key, "."), scalar(value))

	if err := m.check(doc); err != nil {
		return err
	}
	return m.writeFile(doc)
}

// Returns the value stored in the config file for key; env overrides are not consulted
func (m *ConfigManager) GetValue(key string) (string, bool, error) {
	key = strings.ToLower(key)
	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	doc, err := m.readFile()
	if err != nil {
		return "", false, err
	}
	val, ok := getNested(doc, strings.Split(key, "."))
	if !ok {
		return "", false, nil
	}
	return fmt.Sprint(val), true, nil
}

// Removes key from the config file, reporting whether it was set
func (m *ConfigManager) DeleteValue(key string) (bool, error) {
	key = strings.ToLower(key)
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	doc, err := m.readFile()
	if err != nil {
		return false, err
	}
	if !deleteNested(doc, strings.Split(key, ".")) {
		return false, nil
	}
	if err := m.writeFile(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Returns every key set in the config file, flattened to dotted keys
func (m *ConfigManager) ListValues() (map[string]string, error) {
	doc, err := m.readFile()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	flatten("", doc, out)
	return out, nil
}

func (m *ConfigManager) readFile() (map[string]any, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (m *ConfigManager) writeFile(doc map[string]any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Loads doc the way LoadConfig would, without touching the file or the environment
func (m *ConfigManager) check(doc map[string]any) error {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	if err := v.MergeConfigMap(doc); err != nil {
		return fmt.Errorf("error applying config: %w", err)
	}
	_, err := m.decode(v)
	return err
}

// Interprets a command-line value as a YAML scalar, so "5" is stored as a
// number and "true" as a boolean. Anything that is not a scalar stays a string.
func scalar(value string) any {
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return value
	}
	switch parsed.(type) {
	case bool, int, int64, uint64, float64:
		return parsed
	}
	return value
}

func setNested(doc map[string]any, parts []string, value any) {
	for _, part := range parts[:len(parts)-1] {
		child, ok := doc[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			doc[part] = child
		}
		doc = child
	}
	doc[parts[len(parts)-1]] = value
}

func getNested(doc map[string]any, parts []string) (any, bool) {
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func deleteNested(doc map[string]any, parts []string) bool {
	for _, part := range parts[:len(parts)-1] {
		child, ok := doc[part].(map[string]any)
		if !ok {
			return false
		}
		doc = child
	}
	last := parts[len(parts)-1]
	if _, ok := doc[last]; !ok {
		return false
	}
	delete(doc, last)
	return true
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(key, child, out)
			continue
		}
		out[key] = fmt.Sprint(v)
	}
}
