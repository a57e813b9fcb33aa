// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrNotFound             = errors.New("not found")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrLoginFailed          = errors.New("login failed")
	ErrLogoutFailed         = errors.New("logout failed")
	ErrSilentRenewFailed    = errors.New("silent renew failed")
	ErrLoginStarted         = errors.New("interactive login started")
	ErrClosed               = errors.New("manager is closed")
)
