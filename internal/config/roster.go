package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/bardlex/promine/internal/work"
)

// Duration is a time.Duration that decodes from strings such as "45s" in
// TOML, YAML and JSON.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ProducerSpec configures one autonomous producer loop. An empty WorkType
// makes a general producer that picks a random minable type each iteration.
type ProducerSpec struct {
	Name     string `toml:"name" yaml:"name" json:"name"`
	WorkType string `toml:"work_type" yaml:"work_type" json:"work_type"`

	MinDifficulty int `toml:"min_difficulty" yaml:"min_difficulty" json:"min_difficulty"`
	MaxDifficulty int `toml:"max_difficulty" yaml:"max_difficulty" json:"max_difficulty"`
	// Range used once consecutive errors exceed DegradeAfter
	DegradedMinDifficulty int `toml:"degraded_min_difficulty" yaml:"degraded_min_difficulty" json:"degraded_min_difficulty"`
	DegradedMaxDifficulty int `toml:"degraded_max_difficulty" yaml:"degraded_max_difficulty" json:"degraded_max_difficulty"`
	DegradeAfter          int `toml:"degrade_after" yaml:"degrade_after" json:"degrade_after"`

	MinRest Duration `toml:"min_rest" yaml:"min_rest" json:"min_rest"`
	MaxRest Duration `toml:"max_rest" yaml:"max_rest" json:"max_rest"`

	BackoffBase          Duration `toml:"backoff_base" yaml:"backoff_base" json:"backoff_base"`
	BackoffMax           Duration `toml:"backoff_max" yaml:"backoff_max" json:"backoff_max"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors" yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	ResetPause           Duration `toml:"reset_pause" yaml:"reset_pause" json:"reset_pause"`
}

// Specialized reports whether the producer mines a single work type
func (p ProducerSpec) Specialized() bool {
	return p.WorkType != ""
}

// Roster is the set of autonomous producers
type Roster struct {
	Producers []ProducerSpec `toml:"producers" yaml:"producers" json:"producers"`
}

func specializedDefaults(name string, wt work.Type) ProducerSpec {
	return ProducerSpec{
		Name:                  name,
		WorkType:              string(wt),
		MinDifficulty:         50,
		MaxDifficulty:         100,
		DegradedMinDifficulty: 30,
		DegradedMaxDifficulty: 60,
		DegradeAfter:          2,
		MinRest:               Duration{45 * time.Second},
		MaxRest:               Duration{90 * time.Second},
		BackoffBase:           Duration{45 * time.Second},
		BackoffMax:            Duration{400 * time.Second},
		MaxConsecutiveErrors:  5,
		ResetPause:            Duration{90 * time.Second},
	}
}

func generalDefaults(name string) ProducerSpec {
	return ProducerSpec{
		Name:                  name,
		MinDifficulty:         40,
		MaxDifficulty:         80,
		DegradedMinDifficulty: 25,
		DegradedMaxDifficulty: 45,
		DegradeAfter:          2,
		MinRest:               Duration{15 * time.Second},
		MaxRest:               Duration{45 * time.Second},
		BackoffBase:           Duration{30 * time.Second},
		BackoffMax:            Duration{300 * time.Second},
		MaxConsecutiveErrors:  5,
		ResetPause:            Duration{60 * time.Second},
	}
}

// DefaultRoster returns five specialized producers and three general ones
func DefaultRoster() *Roster {
	return &Roster{Producers: []ProducerSpec{
		specializedDefaults("autonomous_riemann", work.RiemannZero),
		specializedDefaults("autonomous_prime", work.PrimePattern),
		specializedDefaults("autonomous_yang_mills", work.YangMills),
		specializedDefaults("autonomous_navier_stokes", work.NavierStokes),
		specializedDefaults("autonomous_goldbach", work.GoldbachVerification),
		generalDefaults("autonomous_general_1"),
		generalDefaults("autonomous_general_2"),
		generalDefaults("autonomous_general_3"),
	}}
}

// applyDefaults fills zero fields from the defaults of the producer's kind
func (p *ProducerSpec) applyDefaults() {
	d := generalDefaults(p.Name)
	if p.Specialized() {
		d = specializedDefaults(p.Name, work.Type(p.WorkType))
	}
	if p.MinDifficulty == 0 && p.MaxDifficulty == 0 {
		p.MinDifficulty, p.MaxDifficulty = d.MinDifficulty, d.MaxDifficulty
	}
	if p.DegradedMinDifficulty == 0 && p.DegradedMaxDifficulty == 0 {
		p.DegradedMinDifficulty, p.DegradedMaxDifficulty = d.DegradedMinDifficulty, d.DegradedMaxDifficulty
	}
	if p.DegradeAfter == 0 {
		p.DegradeAfter = d.DegradeAfter
	}
	if p.MinRest.Duration == 0 && p.MaxRest.Duration == 0 {
		p.MinRest, p.MaxRest = d.MinRest, d.MaxRest
	}
	if p.BackoffBase.Duration == 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffMax.Duration == 0 {
		p.BackoffMax = d.BackoffMax
	}
	if p.MaxConsecutiveErrors == 0 {
		p.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if p.ResetPause.Duration == 0 {
		p.ResetPause = d.ResetPause
	}
}

// Validate checks every producer and rejects duplicate names
func (r *Roster) Validate() error {
	seen := make(map[string]struct{}, len(r.Producers))
	for i, p := range r.Producers {
		if p.Name == "" {
			return fmt.Errorf("producer %d: name cannot be empty", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("producer %s: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}

		if p.Specialized() {
			if _, err := work.ParseMinable(p.WorkType); err != nil {
				return fmt.Errorf("producer %s: %w", p.Name, err)
			}
		}
		if err := checkRange(p.MinDifficulty, p.MaxDifficulty); err != nil {
			return fmt.Errorf("producer %s: difficulty %w", p.Name, err)
		}
		if err := checkRange(p.DegradedMinDifficulty, p.DegradedMaxDifficulty); err != nil {
			return fmt.Errorf("producer %s: degraded difficulty %w", p.Name, err)
		}
		if p.MinRest.Duration < 0 || p.MaxRest.Duration < p.MinRest.Duration {
			return fmt.Errorf("producer %s: rest range is invalid", p.Name)
		}
		if p.BackoffBase.Duration <= 0 || p.BackoffMax.Duration < p.BackoffBase.Duration {
			return fmt.Errorf("producer %s: backoff must satisfy 0 < base <= max", p.Name)
		}
		if p.MaxConsecutiveErrors <= 0 {
			return fmt.Errorf("producer %s: max_consecutive_errors must be positive", p.Name)
		}
	}
	return nil
}

func checkRange(lo, hi int) error {
	if lo < work.MinDifficulty || hi > work.MaxDifficulty || lo > hi {
		return fmt.Errorf("range [%d, %d] must lie within [%d, %d]", lo, hi, work.MinDifficulty, work.MaxDifficulty)
	}
	return nil
}

// LoadRoster reads a roster file. An empty path yields the default roster.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		return DefaultRoster(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	r := &Roster{}
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), r); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported roster format %q", filepath.Ext(path))
	}

	for i := range r.Producers {
		r.Producers[i].applyDefaults()
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validate roster: %w", err)
	}
	return r, nil
}

// RosterLoader loads a roster file and reloads it when the file changes
type RosterLoader struct {
	path     string
	roster   *Roster
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(*Roster)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewRosterLoader creates a loader for path
func NewRosterLoader(path string) *RosterLoader {
	ctx, cancel := context.WithCancel(context.Background())
	return &RosterLoader{
		path:    path,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load reads the roster
func (l *RosterLoader) Load() (*Roster, error) {
	r, err := LoadRoster(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.roster = r
	l.mu.Unlock()
	return r, nil
}

// Roster returns the last successfully loaded roster
func (l *RosterLoader) Roster() *Roster {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.roster
}

// OnChange registers a callback invoked after each successful reload.
// Callbacks must be registered before Watch.
func (l *RosterLoader) OnChange(cb func(*Roster)) {
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel for receiving errors that occur during watching
func (l *RosterLoader) Errors() <-chan error {
	return l.errChan
}

// Watch starts watching the roster file. It is a no-op without a path.
func (l *RosterLoader) Watch() error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Editors often replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *RosterLoader) watchLoop() {
	var debounceTimer *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-l.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.sendError(err)
		}
	}
}

func (l *RosterLoader) reload() {
	r, err := l.Load()
	if err != nil {
		l.sendError(fmt.Errorf("reload roster: %w", err))
		return
	}
	for _, cb := range l.onChange {
		cb(r)
	}
}

func (l *RosterLoader) sendError(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// Close stops the watcher and releases resources
func (l *RosterLoader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
