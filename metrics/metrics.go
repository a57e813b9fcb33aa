// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes Prometheus collectors for the session lifecycle,
// renew-and-replay of API requests and cross-window messages.
package metrics

import (
	"github.com/metis/ssoclient/apiclient"
	"github.com/metis/ssoclient/session"
	"github.com/metis/ssoclient/sso"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ssoclient"

// Metrics holds the collectors. It's an sso.Recorder and an
// apiclient.Recorder, and ObserveChange can subscribe to a session.Manager.
type Metrics struct {
	SessionEvents   *prometheus.CounterVec
	SessionState    *prometheus.GaugeVec
	Initializations *prometheus.CounterVec
	APIReplays      *prometheus.CounterVec
	Messages        *prometheus.CounterVec
}

var (
	_ sso.Recorder       = (*Metrics)(nil)
	_ apiclient.Recorder = (*Metrics)(nil)
)

var states = []session.State{
	session.StateUnauthenticated,
	session.StatePendingCallback,
	session.StateAuthenticated,
	session.StateExpiring,
	session.StateExpired,
}

// New registers the collectors with reg. A nil reg registers with
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := &Metrics{
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Total number of session lifecycle events, by event",
		}, []string{"event"}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 for the others",
		}, []string{"state"}),
		Initializations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "initializations_total",
			Help:      "Total number of session initializations, by flow and outcome",
		}, []string{"flow", "outcome"}),
		APIReplays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_replays_total",
			Help:      "Total number of unauthorized API requests, by renew-and-replay outcome",
		}, []string{"outcome"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sso_messages_total",
			Help:      "Total number of cross-window messages, by direction, type and outcome",
		}, []string{"direction", "type", "outcome"}),
	}
	m.setState(session.StateUnauthenticated)
	return m
}

// ObserveChange counts a session change and tracks its state.
func (m *Metrics) ObserveChange(c session.Change) {
	m.SessionEvents.WithLabelValues(c.Event.String()).Inc()
	m.setState(c.State)
}

// ObserveInitialize counts the outcome of session.Manager.Initialize.
func (m *Metrics) ObserveInitialize(flow session.Flow, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Initializations.WithLabelValues(flow.String(), outcome).Inc()
}

// ObserveReplay implements apiclient.Recorder.
func (m *Metrics) ObserveReplay(outcome string) {
	m.APIReplays.WithLabelValues(outcome).Inc()
}

// ObserveMessage implements sso.Recorder.
func (m *Metrics) ObserveMessage(direction, msgType, outcome string) {
	m.Messages.WithLabelValues(direction, msgType, outcome).Inc()
}

func (m *Metrics) setState(current session.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.SessionState.WithLabelValues(s.String()).Set(v)
	}
}
