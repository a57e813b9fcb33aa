// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/metis/ssoclient/apiclient"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/session"
	"github.com/metis/ssoclient/sso"
	"github.com/metis/ssoclient/storage"
	"github.com/redis/go-redis/v9"
)

// OIDCConfig returns the provider configuration. opt are applied after the
// configured settings.
func (c *Config) OIDCConfig(opt ...oidc.Option) (*oidc.Config, error) {
	const op = "Config.OIDCConfig"
	scopes := oidc.ParseScopes(c.Scope)
	opts := []oidc.Option{
		oidc.WithScopes(scopes...),
		oidc.WithPostLogoutRedirectURL(c.PostLogoutRedirectURI),
		oidc.WithSilentRedirectURL(c.SilentRedirectURI),
	}
	if c.ClientSecret != "" {
		opts = append(opts, oidc.WithClientSecret(oidc.ClientSecret(c.ClientSecret)))
	}
	if c.Audience != "" {
		opts = append(opts, oidc.WithAudiences(c.Audience))
	}
	if len(c.SigningAlgs) > 0 {
		algs := make([]oidc.Alg, 0, len(c.SigningAlgs))
		for _, a := range c.SigningAlgs {
			algs = append(algs, oidc.Alg(strings.TrimSpace(a)))
		}
		opts = append(opts, oidc.WithSupportedSigningAlgs(algs...))
	}
	if c.ProviderCAFile != "" {
		pem, err := os.ReadFile(c.ProviderCAFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read provider ca: %w", op, err)
		}
		opts = append(opts, oidc.WithProviderCA(string(pem)))
	}
	if c.Endpoints != nil {
		pc, err := c.providerConfig()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, oidc.WithProviderConfig(pc))
	}
	oc, err := oidc.NewConfig(c.Authority, c.ClientID, c.RedirectURI, append(opts, opt...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return oc, nil
}

func (c *Config) providerConfig() (*oidc.ProviderConfig, error) {
	// a trailing slash keeps the authority's path when resolving relative
	// endpoints
	base, err := url.Parse(strings.TrimSuffix(c.Authority, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("authority: %w: %w", ErrInvalidParameter, err)
	}
	resolve := func(v string) (string, error) {
		if v == "" {
			return "", nil
		}
		ref, err := url.Parse(strings.TrimPrefix(v, "/"))
		if err != nil {
			return "", fmt.Errorf("endpoint %q: %w: %w", v, ErrInvalidParameter, err)
		}
		return base.ResolveReference(ref).String(), nil
	}
	pc := &oidc.ProviderConfig{}
	for _, e := range []struct {
		src string
		dst *string
	}{
		{c.Endpoints.Authorization, &pc.AuthURL},
		{c.Endpoints.Token, &pc.TokenURL},
		{c.Endpoints.UserInfo, &pc.UserInfoURL},
		{c.Endpoints.EndSession, &pc.EndSessionURL},
		{c.Endpoints.JWKS, &pc.JWKSURL},
	} {
		v, err := resolve(e.src)
		if err != nil {
			return nil, err
		}
		*e.dst = v
	}
	return pc, nil
}

// ManagerOptions returns the session.Manager options of the configured
// feature flags.
func (c *Config) ManagerOptions() []session.Option {
	return []session.Option{
		session.WithAutomaticSilentRenew(boolValue(c.AutomaticSilentRenew)),
		session.WithLoadUserInfo(boolValue(c.LoadUserInfo)),
		session.WithMonitorSession(boolValue(c.MonitorSession), c.MonitorInterval),
		session.WithExpiringNotificationTime(c.ExpiringNotificationTime),
		session.WithCallbackPath(c.CallbackPath),
	}
}

// SSOOptions returns the sso options of the configured allow-listed origin.
func (c *Config) SSOOptions() []sso.Option {
	return []sso.Option{sso.WithAllowedOrigin(c.AllowedOrigin)}
}

// APIOptions returns the apiclient options of the configured login path.
func (c *Config) APIOptions() []apiclient.Option {
	return []apiclient.Option{apiclient.WithLoginPath(c.LoginPath)}
}

// NewStore opens the configured storage. The returned func releases it.
func (c *Config) NewStore(opt ...storage.Option) (storage.Store, func() error, error) {
	const op = "Config.NewStore"
	nop := func() error { return nil }
	switch c.Storage.Kind {
	case "", StorageMemory:
		return storage.NewMemory(), nop, nil
	case StorageFile:
		f, err := storage.NewFile(c.Storage.Path, opt...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return f, nop, nil
	case StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
		})
		if c.Storage.Redis.Prefix != "" {
			opt = append(opt, storage.WithKeyPrefix(c.Storage.Redis.Prefix))
		}
		r, err := storage.NewRedis(client, opt...)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return r, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown storage kind %q: %w", op, c.Storage.Kind, ErrInvalidParameter)
	}
}

func boolValue(b *bool) bool {
	return b == nil || *b
}
