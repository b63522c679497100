package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/color"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/hub"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

// HubAPI is the part of the hub client the executor needs.
type HubAPI interface {
	Get(ctx context.Context, path string) (any, error)
	Put(ctx context.Context, path string, body any) ([]hub.Ack, error)
	Post(ctx context.Context, path string, body any) ([]hub.Ack, error)
}

// Executor turns client commands into hub requests and hub replies into
// reply lines.
type Executor struct {
	hub   HubAPI
	norm  *state.Normalizer
	check *validator
	log   *slog.Logger
}

// NewExecutor creates an executor sharing the store's normaliser.
func NewExecutor(api HubAPI, norm *state.Normalizer, log *slog.Logger) (*Executor, error) {
	check, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Executor{hub: api, norm: norm, check: check, log: log}, nil
}

// Query fetches a resource collection ("lights") or a single item
// ("lights/1") and returns one reply line per item, normalised and
// filtered like change events.
func (e *Executor) Query(ctx context.Context, resource string) ([]string, error) {
	resource = strings.Trim(resource, "/")
	res, id, _ := strings.Cut(resource, "/")

	v, err := e.hub.Get(ctx, resource)
	if err != nil {
		return nil, err
	}

	if id != "" {
		rec, ok := v.(map[string]any)
		if !ok {
			return nil, Errorf(ClassTypeMismatch, "%s is not an object", resource)
		}
		line, ok, err := e.project(res, id, rec)
		if err != nil || !ok {
			return nil, err
		}
		return []string{line}, nil
	}

	items, ok := v.(map[string]any)
	if !ok {
		return nil, Errorf(ClassTypeMismatch, "%s is not a collection", resource)
	}
	if !isCollection(res) {
		line, err := state.ChangeEvent{Category: state.CategoryFor(res), Info: items}.Line()
		if err != nil {
			return nil, err
		}
		return []string{line}, nil
	}

	var lines []string
	for _, itemID := range document.SortedKeys(items) {
		rec, ok := items[itemID].(map[string]any)
		if !ok {
			e.log.Warn("skipping malformed item", "resource", res, "id", itemID)
			continue
		}
		line, ok, err := e.project(res, itemID, rec)
		if err != nil {
			e.log.Warn("skipping item", "resource", res, "id", itemID, "error", err)
			continue
		}
		if ok {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func isCollection(res string) bool {
	switch res {
	case state.ResourceLights, state.ResourceGroups, state.ResourceSensors, state.ResourceScenes:
		return true
	}
	return false
}

// project renders one queried item. ok is false when the item is filtered.
func (e *Executor) project(res, id string, rec document.Map) (string, bool, error) {
	var info document.Map
	switch {
	case res == state.ResourceScenes:
		scene, ok := state.ProjectScene(rec)
		if !ok {
			return "", false, nil
		}
		info = scene
	case !e.norm.Admits(res, rec):
		return "", false, nil
	default:
		c, err := document.Clone(rec)
		if err != nil {
			return "", false, err
		}
		e.norm.Apply(c)
		info = c
	}

	line, err := state.ChangeEvent{Category: state.CategoryFor(res), ID: id, Info: info}.Line()
	if err != nil {
		return "", false, err
	}
	return line, true, nil
}

// Command sends body as a PUT to path and returns the normalised
// acknowledgement lines. A non-empty channel ("r", "g" or "b") treats the
// body's bri as that colour channel's new level and rewrites the body into
// an xy colour.
func (e *Executor) Command(ctx context.Context, path string, body document.Map, channel string) ([]string, error) {
	path = strings.Trim(path, "/")
	if err := e.check.Validate(body); err != nil {
		return nil, err
	}

	out, err := e.rewrite(ctx, path, body, channel)
	if err != nil {
		return nil, err
	}

	e.log.Debug("sending command", "path", path, "body", out)
	acks, err := e.hub.Put(ctx, path, out)
	if err != nil {
		return nil, err
	}
	return e.acknowledge(acks, "", nil), nil
}

// Create POSTs body to path and returns the normalised acknowledgement
// lines. Creation replies of the form {"id": "3"} are reported as the new
// item carrying the submitted body.
func (e *Executor) Create(ctx context.Context, path string, body document.Map) ([]string, error) {
	path = strings.Trim(path, "/")
	acks, err := e.hub.Post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	res, _, _ := strings.Cut(path, "/")
	return e.acknowledge(acks, res, body), nil
}

// rewrite returns the body to send for a command.
func (e *Executor) rewrite(ctx context.Context, path string, body document.Map, channel string) (document.Map, error) {
	if channel != "" {
		return e.channelBody(ctx, path, body, channel)
	}

	out := make(document.Map, len(body))
	for k, v := range body {
		out[k] = v
	}
	if bri, ok := document.Number(out, "bri"); ok && bri < 1 {
		out["on"] = false
		delete(out, "bri")
	}
	return out, nil
}

// channelBody replaces one RGB channel of the device's current colour and
// returns the equivalent {on, xy} body. Turning every channel off switches
// the device off instead.
func (e *Executor) channelBody(ctx context.Context, path string, body document.Map, channel string) (document.Map, error) {
	level, ok := document.Number(body, "bri")
	if !ok {
		return nil, Errorf(ClassTypeMismatch, "channel %q needs a numeric bri", channel)
	}
	v := int(math.Max(0, math.Min(255, level)))

	segs := strings.Split(path, "/")
	if len(segs) < 2 {
		return nil, Errorf(ClassUnsupportedPath, "channel command needs resource/id, got %q", path)
	}
	res, id := segs[0], segs[1]

	cur, err := e.hub.Get(ctx, res+"/"+id)
	if err != nil {
		return nil, err
	}
	rec, ok := cur.(map[string]any)
	if !ok {
		return nil, Errorf(ClassTypeMismatch, "%s/%s is not an object", res, id)
	}
	key := "state"
	if res == state.ResourceGroups {
		key = "action"
	}
	sub, _ := document.Object(rec, key)
	x, y, ok := document.Pair(sub, "xy")
	if !ok {
		return nil, Errorf(ClassTypeMismatch, "%s/%s has no xy colour", res, id)
	}

	gamut := e.norm.Gamut()
	r, g, b := color.XYToRGB(x, y, 1, gamut)
	switch channel {
	case "r":
		r = v
	case "g":
		g = v
	case "b":
		b = v
	default:
		return nil, Errorf(ClassParseError, "unknown colour channel %q", channel)
	}

	if r == 0 && g == 0 && b == 0 {
		return document.Map{"on": false}, nil
	}
	p := color.RGBToXY(r, g, b, gamut)
	return document.Map{"on": true, "xy": []any{round4(p.X), round4(p.Y)}}, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// acknowledge converts hub acknowledgements into reply lines. Each success
// entry becomes one event mirroring the change-event shape; each error
// entry becomes an error line. createdRes and body describe a POST so that
// creation replies can be reported as the new item.
func (e *Executor) acknowledge(acks []hub.Ack, createdRes string, body document.Map) []string {
	var lines []string
	for _, ack := range acks {
		if ack.Error != nil {
			lines = append(lines, fromAPIError(ack.Error).Line())
			continue
		}
		for _, key := range document.SortedKeys(ack.Success) {
			value := ack.Success[key]
			var (
				events []state.ChangeEvent
				err    error
			)
			if strings.HasPrefix(key, "/") {
				events, err = e.ackEvents(key, value)
			} else if id, ok := value.(string); ok && key == "id" && createdRes != "" {
				events = []state.ChangeEvent{{Category: state.CategoryFor(createdRes), ID: id, Info: body}}
			} else {
				events = []state.ChangeEvent{{Category: state.Category(key), Info: value}}
			}
			if err != nil {
				e.log.Warn("cannot normalise acknowledgement", "path", key, "error", err)
				lines = append(lines, ErrorLine(err))
				continue
			}
			for _, evt := range events {
				line, err := evt.Line()
				if err != nil {
					e.log.Warn("cannot encode acknowledgement", "path", key, "error", err)
					continue
				}
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// ackEvents normalises one success entry such as
// "/lights/1/state/bri": 200 into {"light":{"id":"1","info":{"state":{"bri":200}}}}.
func (e *Executor) ackEvents(path string, value any) ([]state.ChangeEvent, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")

	var info document.Map
	switch len(segs) {
	case 3:
		info = document.Map{segs[2]: value}
	case 4:
		info = document.Map{segs[2]: document.Map{segs[3]: value}}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAckPath, path)
	}
	res, id := segs[0], segs[1]
	state.ZeroWhenOff(info)

	events := []state.ChangeEvent{{Category: state.CategoryFor(res), ID: id, Info: info}}
	if len(segs) == 4 && segs[3] == "xy" {
		if evt, ok := e.norm.RGBEvent(res, id, info); ok {
			events = append(events, evt)
		}
	}
	return events, nil
}
