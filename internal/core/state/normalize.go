package state

import (
	"fmt"
	"strings"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/color"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
)

// Normalizer applies the presentation rules shared by change events,
// replays and query responses: device-type filtering, zeroing of
// brightness/hue/saturation on devices that are off, and removal of vendor
// metadata.
type Normalizer struct {
	types     map[string]struct{}
	excluded  []string
	transient []string
	gamut     color.Gamut
}

// NewNormalizer creates a normaliser. The configuration is copied.
func NewNormalizer(opts Options) *Normalizer {
	types := make(map[string]struct{}, len(opts.DeviceTypes))
	for _, t := range opts.DeviceTypes {
		types[t] = struct{}{}
	}
	return &Normalizer{
		types:     types,
		excluded:  append([]string(nil), opts.ExcludedKeys...),
		transient: append([]string(nil), opts.TransientKeys...),
		gamut:     opts.Gamut,
	}
}

// Gamut returns the configured colour gamut.
func (n *Normalizer) Gamut() color.Gamut {
	return n.gamut
}

// StripTransient returns a shallow copy of a full hub document without the
// transient top-level keys (config, rules, schedules, ...).
func (n *Normalizer) StripTransient(doc document.Map) document.Map {
	out := make(document.Map, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, k := range n.transient {
		delete(out, k)
	}
	return out
}

// Admits reports whether a record passes the device-type filter. Groups
// are matched on "type" and sensors on "modelid"; lights and any other
// resource always pass.
func (n *Normalizer) Admits(resource string, rec document.Map) bool {
	var field string
	switch resource {
	case ResourceGroups:
		field = "type"
	case ResourceSensors:
		field = "modelid"
	default:
		return true
	}
	v, _ := document.String(rec, field)
	_, ok := n.types[v]
	return ok
}

// Apply normalises rec in place.
func (n *Normalizer) Apply(rec document.Map) {
	ZeroWhenOff(rec)
	for _, k := range n.excluded {
		delete(rec, k)
	}
}

// Events builds the change event for a record, plus a companion RGB event
// when the record carries an xy colour. rec is not modified.
func (n *Normalizer) Events(resource, id string, rec document.Map) ([]ChangeEvent, error) {
	info, err := document.Clone(rec)
	if err != nil {
		return nil, fmt.Errorf("normalise %s/%s: %w", resource, id, err)
	}
	n.Apply(info)

	events := []ChangeEvent{{Category: CategoryFor(resource), ID: id, Info: info}}
	if evt, ok := n.RGBEvent(resource, id, rec); ok {
		events = append(events, evt)
	}
	return events, nil
}

// RGBEvent derives the light_rgb/group_rgb companion event from the xy
// field of a light's state or a group's action.
func (n *Normalizer) RGBEvent(resource, id string, rec document.Map) (ChangeEvent, bool) {
	var (
		cat Category
		key string
	)
	switch resource {
	case ResourceLights:
		cat, key = CategoryLightRGB, "state"
	case ResourceGroups:
		cat, key = CategoryGroupRGB, "action"
	default:
		return ChangeEvent{}, false
	}

	sub, ok := document.Object(rec, key)
	if !ok {
		return ChangeEvent{}, false
	}
	x, y, ok := document.Pair(sub, "xy")
	if !ok {
		return ChangeEvent{}, false
	}
	r, g, b := color.XYToRGB(x, y, 1, n.gamut)
	return ChangeEvent{Category: cat, ID: id, Info: RGB{R: r, G: g, B: b}}, true
}

// ZeroWhenOff forces bri, hue and sat to 0 in a record's state or action
// when its "on" flag is false. The hub keeps reporting the last level of a
// light that is off; controllers expect 0.
func ZeroWhenOff(rec document.Map) {
	for _, key := range []string{"state", "action"} {
		sub, ok := document.Object(rec, key)
		if !ok {
			continue
		}
		if on, ok := document.Bool(sub, "on"); ok && !on {
			sub["bri"] = 0.0
			sub["hue"] = 0.0
			sub["sat"] = 0.0
		}
	}
}

// ProjectScene reduces a scene to {name, lights} where lights is a
// comma-separated ID list. Scenes without app data are reported as absent.
func ProjectScene(rec document.Map) (document.Map, bool) {
	appdata, ok := document.Object(rec, "appdata")
	if !ok || len(appdata) == 0 {
		return nil, false
	}

	name, _ := document.String(rec, "name")
	var ids []string
	if lights, ok := rec["lights"].([]any); ok {
		for _, l := range lights {
			if s, ok := l.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	return document.Map{"name": name, "lights": strings.Join(ids, ", ")}, true
}
