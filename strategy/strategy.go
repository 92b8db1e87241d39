// Package strategy defines the capability every trading strategy
// implements, the lifecycle state the scheduler tracks for it, and the
// catalog strategies are registered in.
package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/davidmag854/fpg-trading/source"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy is one stateful trading decision. The scheduler guarantees that
// at most one goroutine calls into an instance at a time.
type Strategy interface {
	Instance() *Instance

	// Initialize seeds indicators from history and moves the instance to
	// Monitoring.
	Initialize(ctx context.Context, src source.Source) error

	// Evaluate consumes one price sample and returns zero or more intents.
	Evaluate(price float64, now time.Time) []Intent

	// CheckExpiry does day-boundary accounting and may expire the instance.
	CheckExpiry(now time.Time)

	Serialize() (Snapshot, error)
	Deserialize(Snapshot) (ignored []string, err error)

	Describe() string
}

// Snapshot is the persisted form of an instance: lifecycle columns plus the
// strategy's declared fields.
type Snapshot struct {
	Instance
	Settings map[string]json.RawMessage
}

// Base carries the lifecycle Instance and the declared field table.
// Concrete strategies embed it and call Declare from their constructor.
type Base struct {
	inst   Instance
	fields Fields
}

func NewBase(inst Instance) Base { return Base{inst: inst} }

func (b *Base) Instance() *Instance { return &b.inst }

func (b *Base) Declare(fs ...Field) { b.fields = fs }

func (b *Base) Fields() Fields { return b.fields }

func (b *Base) Serialize() (Snapshot, error) {
	settings, err := b.fields.Encode()
	if err != nil {
		return Snapshot{}, fmt.Errorf("serialize %s: %w", b.inst.ID, err)
	}
	return Snapshot{Instance: b.inst, Settings: settings}, nil
}

func (b *Base) Deserialize(snap Snapshot) ([]string, error) {
	ignored, err := b.fields.Decode(snap.Settings)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", snap.ID, err)
	}
	b.inst = snap.Instance
	return ignored, nil
}

// Factory builds a strategy around lifecycle state. The strategy's own
// fields take their defaults.
type Factory func(inst Instance) Strategy

type Catalog struct {
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

func (c *Catalog) Register(name string, f Factory) {
	c.factories[name] = f
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.factories))
	for n := range c.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) New(name string, inst Instance) (Strategy, error) {
	f, ok := c.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	inst.Name = name
	return f(inst), nil
}

// Restore rebuilds a strategy from a snapshot. Settings the strategy does
// not declare are skipped and returned.
func (c *Catalog) Restore(snap Snapshot) (Strategy, []string, error) {
	s, err := c.New(snap.Name, snap.Instance)
	if err != nil {
		return nil, nil, fmt.Errorf("restore %s: %w", snap.ID, err)
	}
	ignored, err := s.Deserialize(snap)
	if err != nil {
		return nil, nil, err
	}
	return s, ignored, nil
}
