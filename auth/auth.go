// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package auth validates client credentials presented in MQTT CONNECT
// packets. For MQTT 5.0 enhanced (challenge/response) authentication it
// declares the EnhancedAuthenticator interface only; nothing in this
// package runs the AUTH packet exchange.
package auth

import "context"

// Credentials carries what a client presented in CONNECT.
type Credentials struct {
	ClientID string
	Username string
	Password []byte
}

// Authenticator validates client credentials. A nil Authenticator means
// the broker accepts every client, which is the default for local
// development.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (bool, error)
}

// Authorizer checks per-topic permissions once a client is authenticated.
// A nil Authorizer grants every operation.
type Authorizer interface {
	CanPublish(clientID, topic string) bool
	CanSubscribe(clientID, filter string) bool
}

// Continuation represents the state of an in-progress MQTT 5.0 enhanced
// authentication exchange (CONNECT/AUTH with an Authentication Method).
type Continuation struct {
	State        any
	ResponseData []byte
	ReasonString string
	Complete     bool
}

// EnhancedAuthenticator extends Authenticator with the v5 AUTH handshake.
type EnhancedAuthenticator interface {
	Authenticator

	StartAuth(ctx context.Context, clientID, method string, data []byte) (*Continuation, error)
	ContinueAuth(ctx context.Context, clientID string, data []byte, cont *Continuation) (*Continuation, error)
}

// Engine bundles an Authenticator and Authorizer with permissive defaults
// so callers never need to nil-check.
type Engine struct {
	auth  Authenticator
	authz Authorizer
}

// NewEngine builds an Engine. Either argument may be nil.
func NewEngine(a Authenticator, z Authorizer) *Engine {
	return &Engine{auth: a, authz: z}
}

// Authenticate validates credentials, defaulting to allow when no
// Authenticator is configured.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (bool, error) {
	if e == nil || e.auth == nil {
		return true, nil
	}
	return e.auth.Authenticate(ctx, creds)
}

// CanPublish reports whether clientID may publish to topic.
func (e *Engine) CanPublish(clientID, topic string) bool {
	if e == nil || e.authz == nil {
		return true
	}
	return e.authz.CanPublish(clientID, topic)
}

// CanSubscribe reports whether clientID may subscribe to filter.
func (e *Engine) CanSubscribe(clientID, filter string) bool {
	if e == nil || e.authz == nil {
		return true
	}
	return e.authz.CanSubscribe(clientID, filter)
}
