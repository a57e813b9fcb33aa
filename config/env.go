// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// EnvPrefix prefixes every environment variable read.
const EnvPrefix = "SSO_"

// overlay replaces settings with the environment variables which are set.
func (c *Config) overlay(lookup LookupEnvFunc) error {
	var result *multierror.Error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst **bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = &b
	}
	duration := func(name string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}

	str("AUTHORITY", &c.Authority)
	str("CLIENT_ID", &c.ClientID)
	str("CLIENT_SECRET", &c.ClientSecret)
	str("REDIRECT_URI", &c.RedirectURI)
	str("POST_LOGOUT_REDIRECT_URI", &c.PostLogoutRedirectURI)
	str("SILENT_REDIRECT_URI", &c.SilentRedirectURI)
	str("RESPONSE_TYPE", &c.ResponseType)
	str("SCOPE", &c.Scope)
	str("AUDIENCE", &c.Audience)
	str("PROVIDER_CA_FILE", &c.ProviderCAFile)
	if v, ok := lookup(EnvPrefix + "SIGNING_ALGS"); ok {
		c.SigningAlgs = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	boolean("AUTOMATIC_SILENT_RENEW", &c.AutomaticSilentRenew)
	boolean("LOAD_USER_INFO", &c.LoadUserInfo)
	boolean("MONITOR_SESSION", &c.MonitorSession)
	duration("MONITOR_INTERVAL", &c.MonitorInterval)
	duration("EXPIRING_NOTIFICATION_TIME", &c.ExpiringNotificationTime)
	str("CALLBACK_PATH", &c.CallbackPath)
	str("LOGIN_PATH", &c.LoginPath)
	str("ALLOWED_ORIGIN", &c.AllowedOrigin)
	str("API_BASE_URL", &c.APIBaseURL)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("STORAGE", &c.Storage.Kind)
	str("STORAGE_PATH", &c.Storage.Path)
	str("REDIS_ADDR", &c.Storage.Redis.Addr)
	str("REDIS_PASSWORD", &c.Storage.Redis.Password)
	str("REDIS_PREFIX", &c.Storage.Redis.Prefix)
	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err))
		} else {
			c.Storage.Redis.DB = db
		}
	}
	str("LOG_LEVEL", &c.LogLevel)

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
