/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics registers the engine's Prometheus collectors. Every
// counter lives on the default registry (client_golang's package-level
// registerer) so cmd/constitution-engine's /metrics handler can expose
// them without this package threading a registry handle through every
// caller.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Checkouts counts checkout_work outcomes by result: "leased",
	// "no_work", "ambiguity_lock".
	Checkouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "constitution_engine_checkouts_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"result"})

	// Submits counts submit_work outcomes by the Policy Engine decision:
	// "route", "halt", "inject", "completed", "park_notify".
	Submits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "constitution_engine_submits_total",
		Help: "Submit attempts by routing outcome.",
	}, []string{"outcome"})

	// ZombieReclamations counts soft/hard zombie sweep transitions.
	ZombieReclamations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "constitution_engine_zombie_reclamations_total",
		Help: "Zombie sweeper transitions by kind.",
	}, []string{"kind"})

	// EventsDropped counts event emissions that were dropped because the
	// sink's Append failed or its circuit breaker was open (spec.md C13's
	// degraded-mode counter requirement).
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "constitution_engine_events_dropped_total",
		Help: "Events dropped by sink because the append failed or the circuit breaker was open.",
	}, []string{"backend"})
)

func init() {
	prometheus.MustRegister(Checkouts, Submits, ZombieReclamations, EventsDropped)
}
