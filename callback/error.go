// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import "errors"

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrInteractionRequired = errors.New("interaction required")
	ErrServerClosed        = errors.New("server is closed")
)
