// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/metis/ssoclient/oidc"
	"github.com/metis/ssoclient/storage"
)

// Persisted key layout.
const (
	KeyPrefix        = "oidc."
	userKeyPrefix    = "oidc.user:"
	requestKeyPrefix = "oidc.request."

	// StateKey and VerifierKey hold the state and PKCE verifier of the flow
	// in progress. They're removed when the flow completes or fails.
	StateKey    = "oauth_state"
	VerifierKey = "pkce_code_verifier"
)

// Store persists the sessions and in-flight requests of one provider and
// client in a storage.Store.
type Store struct {
	kv      storage.Store
	userKey string
}

// NewStore scopes kv to the authority and clientID.
func NewStore(kv storage.Store, authority, clientID string) (*Store, error) {
	const op = "session.NewStore"
	switch {
	case kv == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	case authority == "":
		return nil, fmt.Errorf("%s: authority is empty: %w", op, ErrInvalidParameter)
	case clientID == "":
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	return &Store{
		kv:      kv,
		userKey: userKeyPrefix + authority + ":" + clientID,
	}, nil
}

// UserKey returns the key the user is stored under.
func (s *Store) UserKey() string { return s.userKey }

// User returns the stored user, or nil when there isn't one. An expired
// user is returned as is.
func (s *Store) User(ctx context.Context) (*Session, error) {
	const op = "Store.User"
	raw, ok, err := s.kv.Get(ctx, s.userKey)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case !ok:
		return nil, nil
	}
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("%s: unable to decode stored user: %w", op, err)
	}
	return r.session(), nil
}

// SetUser stores the user, replacing any existing one.
func (s *Store) SetUser(ctx context.Context, u *Session) error {
	const op = "Store.SetUser"
	if u == nil {
		return fmt.Errorf("%s: user is nil: %w", op, ErrNilParameter)
	}
	b, err := json.Marshal(newRecord(u))
	if err != nil {
		return fmt.Errorf("%s: unable to encode user: %w", op, err)
	}
	if err := s.kv.Set(ctx, s.userKey, string(b)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RemoveUser removes the stored user.
func (s *Store) RemoveUser(ctx context.Context) error {
	const op = "Store.RemoveUser"
	if err := s.kv.Remove(ctx, s.userKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// requestRecord is an authentication request waiting for the provider's
// response.
type requestRecord struct {
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURL  string `json:"redirect_uri"`
	ExpiresAt    int64  `json:"expires_at"`
}

func newRequestRecord(r oidc.Request) *requestRecord {
	rec := &requestRecord{
		State:       r.State(),
		Nonce:       r.Nonce(),
		RedirectURL: r.RedirectURL(),
		ExpiresAt:   r.ExpiresAt().Unix(),
	}
	if v := r.PKCEVerifier(); v != nil {
		rec.CodeVerifier = v.Verifier()
	}
	return rec
}

// request rebuilds the oidc.Request, which fails with oidc.ErrExpiredRequest
// once the record expired.
func (r *requestRecord) request(now func() time.Time) (*oidc.Req, error) {
	const op = "requestRecord.request"
	remaining := time.Unix(r.ExpiresAt, 0).Sub(now())
	if remaining <= 0 {
		return nil, fmt.Errorf("%s: request %s: %w", op, r.State, oidc.ErrExpiredRequest)
	}
	opts := []oidc.Option{
		oidc.WithState(r.State),
		oidc.WithNonce(r.Nonce),
		oidc.WithNow(now),
	}
	if r.CodeVerifier != "" {
		v, err := oidc.ParseCodeVerifier(r.CodeVerifier)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, oidc.WithPKCE(v))
	}
	req, err := oidc.NewRequest(remaining, r.RedirectURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// SetRequest stores an in-flight request and records it as the transient
// flow pair.
func (s *Store) SetRequest(ctx context.Context, r oidc.Request) error {
	const op = "Store.SetRequest"
	if r == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	rec := newRequestRecord(r)
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: unable to encode request: %w", op, err)
	}
	if err := s.kv.Set(ctx, requestKeyPrefix+rec.State, string(b)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.SetTransient(ctx, rec.State, rec.CodeVerifier); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// takeRequest removes and returns the request with the state. It returns
// ErrNotFound when there's no such request.
func (s *Store) takeRequest(ctx context.Context, state string) (*requestRecord, error) {
	const op = "Store.takeRequest"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	key := requestKeyPrefix + state
	raw, ok, err := s.kv.Get(ctx, key)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case !ok:
		return nil, fmt.Errorf("%s: no request for state %s: %w", op, state, ErrNotFound)
	}
	if err := s.kv.Remove(ctx, key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var rec requestRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%s: unable to decode request: %w", op, err)
	}
	return &rec, nil
}

// RemoveStaleRequests removes requests which expired before now and returns
// how many were removed.
func (s *Store) RemoveStaleRequests(ctx context.Context, now time.Time) (int, error) {
	const op = "Store.RemoveStaleRequests"
	keys, err := s.kv.Keys(ctx, requestKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	var result *multierror.Error
	removed := 0
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !ok {
			continue
		}
		var rec requestRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && time.Unix(rec.ExpiresAt, 0).After(now) {
			continue
		}
		if err := s.kv.Remove(ctx, k); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		removed++
	}
	if err := result.ErrorOrNil(); err != nil {
		return removed, fmt.Errorf("%s: %w", op, err)
	}
	return removed, nil
}

// SetTransient records the state and verifier of the flow in progress.
func (s *Store) SetTransient(ctx context.Context, state, verifier string) error {
	const op = "Store.SetTransient"
	if state != "" {
		if err := s.kv.Set(ctx, StateKey, state); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if verifier != "" {
		if err := s.kv.Set(ctx, VerifierKey, verifier); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Transient returns the state and verifier of the flow in progress.
func (s *Store) Transient(ctx context.Context) (state, verifier string, err error) {
	const op = "Store.Transient"
	if state, _, err = s.kv.Get(ctx, StateKey); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	if verifier, _, err = s.kv.Get(ctx, VerifierKey); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	return state, verifier, nil
}

// PurgeTransient removes the transient flow pair.
func (s *Store) PurgeTransient(ctx context.Context) error {
	const op = "Store.PurgeTransient"
	var result *multierror.Error
	for _, k := range []string{StateKey, VerifierKey} {
		if err := s.kv.Remove(ctx, k); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Keys returns the keys of every oidc entry, for diagnostics.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	const op = "Store.Keys"
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}
