package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"segcomplete/pkg/volume"
)

// Parameter names shared with the host's parameter channel.
const (
	ParamMargin             = "Margin"
	ParamMinimumSegments    = "MinimumSegments"
	ParamOversamplingFactor = "OversamplingFactor"
	ParamIterations         = "Iterations"
	ParamConnectivity       = "Connectivity"
	ParamSimilarity         = "Similarity"
	ParamAutoUpdate         = "AutoUpdate"
	ParamAutoUpdateDelay    = "AutoUpdateDelaySec"
	ParamPreviewOpacity     = "PreviewOpacity"
)

// DefaultParameterValues lists the value each parameter has until it is set.
var DefaultParameterValues = map[string]string{
	ParamMargin:             "17",
	ParamMinimumSegments:    "2",
	ParamOversamplingFactor: "3",
	ParamIterations:         "50",
	ParamConnectivity:       "26",
	ParamSimilarity:         "linear",
	ParamAutoUpdate:         "1",
	ParamAutoUpdateDelay:    "1",
	ParamPreviewOpacity:     "0.6",
}

// Parameters is a named key/value store with per-key defaults. Values are
// kept as strings, the way hosts persist them. It is safe for concurrent use.
type Parameters struct {
	mu       sync.RWMutex
	values   map[string]string
	defaults map[string]string
}

// NewParameters returns a store preloaded with DefaultParameterValues.
func NewParameters() *Parameters {
	p := &Parameters{values: map[string]string{}, defaults: map[string]string{}}
	for k, v := range DefaultParameterValues {
		p.defaults[k] = v
	}
	return p
}

// SetDefault registers the value reported for key while it is unset.
func (p *Parameters) SetDefault(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults[key] = value
}

// Set stores a raw value.
func (p *Parameters) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

func (p *Parameters) SetInt(key string, v int)       { p.Set(key, strconv.Itoa(v)) }
func (p *Parameters) SetFloat(key string, v float64) { p.Set(key, strconv.FormatFloat(v, 'g', -1, 64)) }
func (p *Parameters) SetBool(key string, v bool)     { p.Set(key, boolString(v)) }

// Unset removes an explicit value so the default applies again.
func (p *Parameters) Unset(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
}

// IsSet reports whether key holds an explicit value.
func (p *Parameters) IsSet(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.values[key]
	return ok
}

// Parameter returns the value of key, its default, or "" if neither exists.
func (p *Parameters) Parameter(key string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[key]; ok {
		return v
	}
	return p.defaults[key]
}

// Int parses key as an integer.
func (p *Parameters) Int(key string) (int, error) {
	raw := p.Parameter(key)
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, volume.InvalidParameter(key, raw, "not an integer")
	}
	return v, nil
}

// Float parses key as a floating-point number.
func (p *Parameters) Float(key string) (float64, error) {
	raw := p.Parameter(key)
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, volume.InvalidParameter(key, raw, "not a number")
	}
	return v, nil
}

// Bool parses key as a flag. Hosts store flags as "0"/"1"; "true"/"false"
// are accepted too.
func (p *Parameters) Bool(key string) (bool, error) {
	raw := p.Parameter(key)
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, volume.InvalidParameter(key, raw, "not a flag")
}

// Keys lists every key with a value or default, sorted.
func (p *Parameters) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := map[string]struct{}{}
	for k := range p.values {
		seen[k] = struct{}{}
	}
	for k := range p.defaults {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (p *Parameters) String() string {
	var b strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", k, p.Parameter(k))
	}
	return b.String()
}

func boolString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Parameters exports the tunables of c as a parameter store.
func (c *Config) Parameters() *Parameters {
	p := NewParameters()
	p.SetInt(ParamMargin, c.Geometry.Margin)
	p.SetInt(ParamMinimumSegments, c.Geometry.MinimumSegments)
	p.SetInt(ParamOversamplingFactor, c.Fractional.OversamplingFactor)
	p.SetInt(ParamIterations, c.Growth.Iterations)
	p.SetInt(ParamConnectivity, c.Growth.Connectivity)
	p.Set(ParamSimilarity, c.Growth.Similarity)
	p.SetBool(ParamAutoUpdate, c.Session.AutoUpdate)
	p.SetFloat(ParamAutoUpdateDelay, c.Session.AutoUpdateDelaySec)
	p.SetFloat(ParamPreviewOpacity, c.Session.PreviewOpacity)
	return p
}

// ApplyParameters copies parameter values back into c and validates the
// result. c is left unchanged on error.
func (c *Config) ApplyParameters(p *Parameters) error {
	next := *c
	ints := []struct {
		key string
		dst *int
	}{
		{ParamMargin, &next.Geometry.Margin},
		{ParamMinimumSegments, &next.Geometry.MinimumSegments},
		{ParamOversamplingFactor, &next.Fractional.OversamplingFactor},
		{ParamIterations, &next.Growth.Iterations},
		{ParamConnectivity, &next.Growth.Connectivity},
	}
	for _, f := range ints {
		v, err := p.Int(f.key)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{ParamAutoUpdateDelay, &next.Session.AutoUpdateDelaySec},
		{ParamPreviewOpacity, &next.Session.PreviewOpacity},
	}
	for _, f := range floats {
		v, err := p.Float(f.key)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	autoUpdate, err := p.Bool(ParamAutoUpdate)
	if err != nil {
		return err
	}
	next.Session.AutoUpdate = autoUpdate
	next.Growth.Similarity = p.Parameter(ParamSimilarity)

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
