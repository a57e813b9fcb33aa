// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyOpts(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	now := func() time.Time { return time.Unix(0, 0) }

	opts := reqDefaults()
	ApplyOpts(&opts, nil, WithScopes("profile"), WithScopes("api"), WithAudiences("metis"), WithNow(now), WithNow(nil))
	assert.Equal([]string{"profile", "api"}, opts.withScopes)
	assert.Equal([]string{"metis"}, opts.withAudiences)
	assert.Equal(time.Unix(0, 0), opts.withNowFunc())

	// config scopes are replaced rather than appended
	cfgOpts := configDefaults()
	ApplyOpts(&cfgOpts, WithScopes("profile"), WithScopes("api"))
	assert.Equal([]string{"api"}, cfgOpts.withScopes)

	// options for other option structs are ignored
	idOpts := idDefaults()
	ApplyOpts(&idOpts, WithScopes("profile"), WithAudiences("metis"))
	assert.Equal(idDefaults(), idOpts)

	uiOpts := getUserInfoOpts(WithAudiences("metis"))
	assert.Equal([]string{"metis"}, uiOpts.withAudiences)
}
