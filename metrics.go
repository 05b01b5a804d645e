package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_client",
			Name:      "cache_hits_total",
			Help:      "Fetch calls satisfied from the entity cache.",
		},
		[]string{"entity"},
	)

	cacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_client",
			Name:      "cache_misses_total",
			Help:      "Fetch calls that performed a remote read.",
		},
		[]string{"entity"},
	)

	feedChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_client",
			Name:      "feed_changes_total",
			Help:      "Change-feed records applied to a cache.",
		},
		[]string{"feed", "kind"},
	)

	writesEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay_client",
			Name:      "writes_enqueued_total",
			Help:      "Asynchronous document writes accepted by the queue.",
		},
		[]string{"kind"},
	)
)
