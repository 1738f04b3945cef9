package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package metrics wraps prometheus with a registration-free call style:
// families are created lazily on first use, label names are fixed by the
// first caller (sorted), and later calls with missing labels get "".

var (
	mu        sync.Mutex
	registry  = prometheus.NewRegistry()
	counters  = map[string]*counterFamily{}
	summaries = map[string]*summaryFamily{}
)

type counterFamily struct {
	vec  *prometheus.CounterVec
	keys []string
}

type summaryFamily struct {
	vec  *prometheus.SummaryVec
	keys []string
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelValues(keys []string, labels map[string]string) []string {
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = labels[k]
	}
	return vals
}

// Inc adds 1 to the named counter with the given labels.
func Inc(name string, labels map[string]string) {
	Add(name, labels, 1)
}

// Add adds v to the named counter with the given labels.
func Add(name string, labels map[string]string, v float64) {
	mu.Lock()
	fam, ok := counters[name]
	if !ok {
		keys := sortedKeys(labels)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		if err := registry.Register(vec); err != nil {
			mu.Unlock()
			return
		}
		fam = &counterFamily{vec: vec, keys: keys}
		counters[name] = fam
	}
	vals := labelValues(fam.keys, labels)
	mu.Unlock()
	fam.vec.WithLabelValues(vals...).Add(v)
}

// ObserveSummary records v into the named summary with the given labels.
func ObserveSummary(name string, labels map[string]string, v float64) {
	mu.Lock()
	fam, ok := summaries[name]
	if !ok {
		keys := sortedKeys(labels)
		vec := prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, keys)
		if err := registry.Register(vec); err != nil {
			mu.Unlock()
			return
		}
		fam = &summaryFamily{vec: vec, keys: keys}
		summaries[name] = fam
	}
	vals := labelValues(fam.keys, labels)
	mu.Unlock()
	fam.vec.WithLabelValues(vals...).Observe(v)
}

// Handler exposes the process registry for the monitoring endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
