// Package predict turns indicator records into predictions through a
// pluggable model. Models are pure functions over a single record; the
// engine handles the topic plumbing around them.
package predict

import (
	"fmt"
	"sort"
	"sync"

	"cryptoflow/internal/model"
)

// Output is what a model produces for one record. SignalStrength nil
// means "no directional signal to report".
type Output struct {
	PredictionValue float64
	ConfidenceScore float64
	SignalStrength  *float64
	FeaturesUsed    []string
	PredictionType  string
}

// Model maps one indicator record to a prediction output.
type Model interface {
	Name() string
	Predict(rec model.IndicatorRecord) (Output, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Model{}
)

// Register makes a model available under its name. Called from model
// implementations' init functions; duplicate names panic.
func Register(name string, m Model) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("predict: model %q registered twice", name))
	}
	registry[name] = m
}

// Lookup resolves a configured model name. Unknown names list the
// registered alternatives; the caller treats that as fatal.
func Lookup(name string) (Model, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if m, ok := registry[name]; ok {
		return m, nil
	}
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown model %q, registered models: %v", name, names)
}
