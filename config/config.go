// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package config loads the client's configuration from a YAML file, a .env
// file and SSO_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/metis/ssoclient/apiclient"
	"github.com/metis/ssoclient/session"
	"github.com/metis/ssoclient/sso"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Defaults of the original deployment.
const (
	DefaultResponseType = "code"
	DefaultScope        = "openid profile offline_access"
	DefaultAPIBaseURL   = "http://localhost:7161"
	DefaultListenAddr   = "127.0.0.1:5001"
	DefaultLogLevel     = "info"
	DefaultEnvFile      = ".env"
)

// Storage kinds.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config is the configuration of the whole client.
type Config struct {
	// Authority is the provider's issuer URL.
	Authority             string `yaml:"authority"`
	ClientID              string `yaml:"client_id"`
	ClientSecret          string `yaml:"client_secret"`
	RedirectURI           string `yaml:"redirect_uri"`
	PostLogoutRedirectURI string `yaml:"post_logout_redirect_uri"`
	SilentRedirectURI     string `yaml:"silent_redirect_uri"`
	ResponseType          string `yaml:"response_type"`

	// Scope is the space delimited scope string requested of the provider.
	Scope    string `yaml:"scope"`
	Audience string `yaml:"audience"`

	// ProviderCAFile is an optional PEM file of CAs trusted for the provider.
	ProviderCAFile string   `yaml:"provider_ca_file"`
	SigningAlgs    []string `yaml:"signing_algs"`

	// Endpoints pins the provider's endpoints instead of discovering them.
	Endpoints *Endpoints `yaml:"endpoints"`

	AutomaticSilentRenew     *bool         `yaml:"automatic_silent_renew"`
	LoadUserInfo             *bool         `yaml:"load_user_info"`
	MonitorSession           *bool         `yaml:"monitor_session"`
	MonitorInterval          time.Duration `yaml:"monitor_interval"`
	ExpiringNotificationTime time.Duration `yaml:"expiring_notification_time"`

	CallbackPath  string `yaml:"callback_path"`
	LoginPath     string `yaml:"login_path"`
	AllowedOrigin string `yaml:"allowed_origin"`
	APIBaseURL    string `yaml:"api_base_url"`

	// ListenAddr is where the serve command listens for host connections.
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	Storage  Storage `yaml:"storage"`
	LogLevel string  `yaml:"log_level"`
}

// Endpoints are the provider's endpoints. Relative values are resolved
// against the Authority.
type Endpoints struct {
	Authorization string `yaml:"authorization"`
	Token         string `yaml:"token"`
	UserInfo      string `yaml:"userinfo"`
	EndSession    string `yaml:"end_session"`
	JWKS          string `yaml:"jwks"`
}

// Storage selects where session state is persisted.
type Storage struct {
	Kind  string `yaml:"kind"`
	Path  string `yaml:"path"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
}

// Load reads the YAML file at path (optional when path is empty), overlays
// the environment and validates the result. A missing default .env file is
// not an error.
//
// Supported options: WithEnvFiles, WithLookupEnv
func Load(path string, opt ...Option) (*Config, error) {
	const op = "config.Load"
	opts := getOpts(opt...)
	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("%s: unable to parse %s: %w: %w", op, path, ErrInvalidConfig, err)
		}
	}
	lookup, err := opts.lookup()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.overlay(lookup); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	t := true
	if c.ResponseType == "" {
		c.ResponseType = DefaultResponseType
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.AutomaticSilentRenew == nil {
		c.AutomaticSilentRenew = &t
	}
	if c.LoadUserInfo == nil {
		c.LoadUserInfo = &t
	}
	if c.MonitorSession == nil {
		c.MonitorSession = &t
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = session.DefaultMonitorInterval
	}
	if c.ExpiringNotificationTime == 0 {
		c.ExpiringNotificationTime = session.DefaultExpiringNotificationTime
	}
	if c.CallbackPath == "" {
		c.CallbackPath = session.DefaultCallbackPath
		if u, err := url.Parse(c.RedirectURI); err == nil && u.Path != "" && u.Path != "/" {
			c.CallbackPath = u.Path
		}
	}
	if c.LoginPath == "" {
		c.LoginPath = apiclient.DefaultLoginPath
	}
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = sso.DefaultAllowedOrigin
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageMemory
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks every setting and reports all the problems found.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var result *multierror.Error
	add := func(format string, a ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, a...))
	}
	checkURL := func(name, v string, required bool) {
		if v == "" {
			if required {
				add("%s is required", name)
			}
			return
		}
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("%s %q is not an http(s) url", name, v)
		}
	}

	checkURL("authority", c.Authority, true)
	if c.ClientID == "" {
		add("client_id is required")
	}
	checkURL("redirect_uri", c.RedirectURI, true)
	checkURL("post_logout_redirect_uri", c.PostLogoutRedirectURI, false)
	checkURL("silent_redirect_uri", c.SilentRedirectURI, false)
	checkURL("api_base_url", c.APIBaseURL, false)
	if c.ResponseType != "" && c.ResponseType != DefaultResponseType {
		add("response_type %q is not supported, only %q", c.ResponseType, DefaultResponseType)
	}
	if c.AllowedOrigin != "" {
		u, err := url.Parse(c.AllowedOrigin)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			add("allowed_origin %q is not an origin", c.AllowedOrigin)
		}
	}
	for name, p := range map[string]string{"callback_path": c.CallbackPath, "login_path": c.LoginPath} {
		if p != "" && (!strings.HasPrefix(p, "/") || path.Clean(p) != p) {
			add("%s %q is not a clean absolute path", name, p)
		}
	}
	if c.MonitorInterval < 0 {
		add("monitor_interval must not be negative")
	}
	if c.ExpiringNotificationTime < 0 {
		add("expiring_notification_time must not be negative")
	}
	if c.Endpoints != nil {
		if c.Endpoints.Authorization == "" || c.Endpoints.Token == "" || c.Endpoints.JWKS == "" {
			add("endpoints require authorization, token and jwks")
		}
	}
	switch c.Storage.Kind {
	case "", StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			add("storage.path is required for file storage")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			add("storage.redis.addr is required for redis storage")
		}
	default:
		add("storage.kind %q is not one of %s, %s or %s", c.Storage.Kind, StorageMemory, StorageFile, StorageRedis)
	}
	if c.LogLevel != "" && hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		add("log_level %q is not a level", c.LogLevel)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidConfig, err)
	}
	return nil
}

// Logger returns the root logger at the configured level.
func (c *Config) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.LevelFromString(c.LogLevel),
	})
}
