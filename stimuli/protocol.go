// Package stimuli holds the protocols presented on an engine.Display.
package stimuli

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"openpmad/engine"
)

// Protocol is implemented by every registered protocol.
type Protocol = engine.Protocol

// Env carries the session resources a protocol may use.
type Env struct {
	Flag *engine.ProbeFlag
	Rand *rand.Rand
	Log  *zap.Logger
}

// Factory builds a protocol from its YAML parameters.
type Factory func(params map[string]any, env Env) (Protocol, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("stimuli: protocol registered twice: " + name)
	}
	registry[name] = f
}

// New builds the protocol registered as name.
func New(name string, params map[string]any, env Env) (Protocol, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (have %v): %w", name, Names(), engine.ErrInvalidArgument)
	}
	return f(params, env)
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeParams overlays params onto out. Unknown keys are rejected.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("protocol parameters: %w", err)
	}
	return nil
}
