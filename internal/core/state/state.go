package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/color"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
)

// Hub resource collections.
const (
	ResourceLights  = "lights"
	ResourceGroups  = "groups"
	ResourceSensors = "sensors"
	ResourceScenes  = "scenes"
)

// Category names the top-level key of a relayed message.
type Category string

const (
	CategoryLight    Category = "light"
	CategoryGroup    Category = "group"
	CategorySensor   Category = "sensor"
	CategoryScene    Category = "scene"
	CategoryLightRGB Category = "light_rgb"
	CategoryGroupRGB Category = "group_rgb"
)

// CategoryFor returns the message category for a resource collection
// ("lights" -> "light"). Unknown resources lose their trailing s.
func CategoryFor(resource string) Category {
	switch resource {
	case ResourceLights:
		return CategoryLight
	case ResourceGroups:
		return CategoryGroup
	case ResourceSensors:
		return CategorySensor
	case ResourceScenes:
		return CategoryScene
	default:
		return Category(trimPlural(resource))
	}
}

func trimPlural(s string) string {
	for len(s) > 0 && s[len(s)-1] == 's' {
		s = s[:len(s)-1]
	}
	return s
}

// RGB is an 8-bit colour triple derived from a device's xy field.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// ChangeEvent describes one state change. Info is either a normalised
// device record (document.Map) or an RGB triple.
type ChangeEvent struct {
	Category Category
	ID       string
	Info     any
}

// MarshalJSON renders {"<category>": {"id": ..., "info": ...}}.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		string(e.Category): map[string]any{
			"id":   e.ID,
			"info": e.Info,
		},
	})
}

// Line renders the event as a reply line (no terminator).
func (e ChangeEvent) Line() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("state: encode %s %s: %w", e.Category, e.ID, err)
	}
	return string(data), nil
}

// Notification renders the event as a live change line, prefixed with '#'.
func (e ChangeEvent) Notification() (string, error) {
	line, err := e.Line()
	if err != nil {
		return "", err
	}
	return "#" + line, nil
}

// Options configures normalisation and filtering.
type Options struct {
	DeviceTypes   []string
	ExcludedKeys  []string
	TransientKeys []string
	Gamut         color.Gamut
}

// Snapshot is a point-in-time deep copy of the store.
type Snapshot struct {
	All     document.Map
	Lights  document.Map
	Groups  document.Map
	Sensors document.Map
}

// Store holds the last known hub state and diffs successive polls against
// it. ApplyPoll is meant to be called from a single poller goroutine; all
// readers get deep copies.
type Store struct {
	mu      sync.RWMutex
	all     document.Map
	lights  document.Map
	groups  document.Map
	sensors document.Map

	norm *Normalizer
	log  *slog.Logger
}

// NewStore creates an empty store.
func NewStore(opts Options, log *slog.Logger) *Store {
	return &Store{
		lights:  document.Map{},
		groups:  document.Map{},
		sensors: document.Map{},
		norm:    NewNormalizer(opts),
		log:     log,
	}
}

// Normalizer returns the normaliser shared with query responses.
func (s *Store) Normalizer() *Normalizer {
	return s.norm
}

// ApplyPoll compares a full hub document with the cached one and returns
// the resulting change events. Devices seen for the first time are cached
// silently.
func (s *Store) ApplyPoll(fresh document.Map) []ChangeEvent {
	clean := s.norm.StripTransient(fresh)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.all != nil && document.Equal(s.all, clean) {
		return nil
	}

	all, err := document.Clone(clean)
	if err != nil {
		s.log.Error("state: poll result not cacheable", "error", err)
		return nil
	}
	s.all = all

	var events []ChangeEvent
	for _, c := range []struct {
		resource string
		cache    document.Map
	}{
		{ResourceLights, s.lights},
		{ResourceGroups, s.groups},
		{ResourceSensors, s.sensors},
	} {
		coll, ok := document.Object(clean, c.resource)
		if !ok {
			continue
		}
		for _, id := range document.SortedKeys(coll) {
			evts, err := s.diffDevice(c.resource, c.cache, id, coll[id])
			if err != nil {
				s.log.Error("state: device skipped", "resource", c.resource, "id", id, "error", err)
				continue
			}
			events = append(events, evts...)
		}
	}
	return events
}

func (s *Store) diffDevice(resource string, cache document.Map, id string, raw any) ([]ChangeEvent, error) {
	rec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record is %T, not an object", raw)
	}
	if !s.norm.Admits(resource, rec) {
		return nil, nil
	}

	cached, seen := cache[id]
	if seen && document.Equal(cached, rec) {
		return nil, nil
	}

	stored, err := document.Clone(rec)
	if err != nil {
		return nil, err
	}
	cache[id] = stored
	if !seen {
		s.log.Debug("state: new device", "resource", resource, "id", id)
		return nil, nil
	}

	s.log.Debug("state: device changed", "resource", resource, "id", id)
	return s.norm.Events(resource, id, rec)
}

// Replay returns one event per cached light, group and sensor, then one per
// scene with app data, in that order. IDs are ordered numerically.
func (s *Store) Replay() []ChangeEvent {
	snap := s.Snapshot()

	var events []ChangeEvent
	for _, c := range []struct {
		resource string
		coll     document.Map
	}{
		{ResourceLights, snap.Lights},
		{ResourceGroups, snap.Groups},
		{ResourceSensors, snap.Sensors},
	} {
		for _, id := range document.SortedKeys(c.coll) {
			rec, ok := c.coll[id].(map[string]any)
			if !ok {
				continue
			}
			s.norm.Apply(rec)
			events = append(events, ChangeEvent{Category: CategoryFor(c.resource), ID: id, Info: rec})
		}
	}

	scenes, _ := document.Object(snap.All, ResourceScenes)
	for _, id := range document.SortedKeys(scenes) {
		rec, ok := scenes[id].(map[string]any)
		if !ok {
			continue
		}
		info, ok := ProjectScene(rec)
		if !ok {
			continue
		}
		events = append(events, ChangeEvent{Category: CategoryScene, ID: id, Info: info})
	}
	return events
}

// Snapshot returns a deep copy of the cached state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		All:     s.clone(s.all),
		Lights:  s.clone(s.lights),
		Groups:  s.clone(s.groups),
		Sensors: s.clone(s.sensors),
	}
}

func (s *Store) clone(m document.Map) document.Map {
	cp, err := document.Clone(m)
	if err != nil {
		s.log.Error("state: snapshot copy failed", "error", err)
		return document.Map{}
	}
	if cp == nil {
		return document.Map{}
	}
	return cp
}

// DeviceCount returns the number of cached lights, groups and sensors.
func (s *Store) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lights) + len(s.groups) + len(s.sensors)
}
