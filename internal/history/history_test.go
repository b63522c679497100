package history

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWriter struct {
	points  []*write.Point
	flushed bool
}

func (w *fakeWriter) WritePoint(p *write.Point) { w.points = append(w.points, p) }
func (w *fakeWriter) Flush()                    { w.flushed = true }

var ts = time.Unix(1700000000, 0)

func TestPointForLight(t *testing.T) {
	evt := state.ChangeEvent{
		Category: state.CategoryLight,
		ID:       "1",
		Info: map[string]any{
			"name":  "Desk",
			"state": map[string]any{"on": true, "bri": 200.0, "xy": []any{0.3, 0.4}, "alert": "none"},
		},
	}
	p := PointFor("hue_state", evt, ts)
	if p == nil {
		t.Fatal("PointFor returned nil")
	}
	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{"hue_state,", "category=light", "id=1", "name=Desk", "on=true", "bri=200", "x=0.3", "y=0.4", `alert="none"`} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestPointForRGB(t *testing.T) {
	evt := state.ChangeEvent{Category: state.CategoryGroupRGB, ID: "2", Info: state.RGB{R: 255, G: 10, B: 0}}
	line := write.PointToLineProtocol(PointFor("hue_state", evt, ts), time.Second)
	for _, want := range []string{"category=group_rgb", "r=255i", "g=10i", "b=0i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestPointForWithoutFields(t *testing.T) {
	evt := state.ChangeEvent{Category: state.CategoryScene, ID: "abc", Info: map[string]any{"name": "Relax", "lights": "1, 2"}}
	if p := PointFor("hue_state", evt, ts); p != nil {
		t.Errorf("PointFor = %v, want nil", write.PointToLineProtocol(p, time.Second))
	}
}

func TestRecorderDeliver(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, "", testLogger())
	r.now = func() time.Time { return ts }

	if err := r.Deliver(queue.Data("# not an event")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	msg, err := queue.Notify(state.ChangeEvent{
		Category: state.CategorySensor,
		ID:       "4",
		Info:     map[string]any{"state": map[string]any{"presence": true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Deliver(msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	line := write.PointToLineProtocol(w.points[0], time.Second)
	if !strings.HasPrefix(line, "hue_state,") || !strings.Contains(line, "presence=true") {
		t.Errorf("line = %q", line)
	}

	r.Close()
	if !w.flushed {
		t.Error("Close did not flush")
	}
}
