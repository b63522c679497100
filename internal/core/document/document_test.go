package document

import (
	"reflect"
	"testing"
)

func mustParse(t *testing.T, s string) Map {
	t.Helper()
	m, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(%s): %v", s, err)
	}
	return m
}

func TestParse_RejectsNonObjects(t *testing.T) {
	for _, in := range []string{`[1,2]`, `"x"`, `null`, `{bad`} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%s) expected error", in)
		}
	}
}

func TestEqual(t *testing.T) {
	a := mustParse(t, `{"state":{"on":true,"bri":200,"xy":[0.3,0.3]},"name":"Lamp"}`)
	b := mustParse(t, `{"name":"Lamp","state":{"xy":[0.3,0.3],"bri":200,"on":true}}`)
	c := mustParse(t, `{"name":"Lamp","state":{"xy":[0.3,0.3],"bri":50,"on":true}}`)

	if !Equal(a, b) {
		t.Error("expected key order to be irrelevant")
	}
	if Equal(a, c) {
		t.Error("expected nested difference to be detected")
	}
	if !Equal(map[string]any{"bri": 200}, map[string]any{"bri": 200.0}) {
		t.Error("expected int and float64 of the same value to compare equal")
	}
	if Equal(map[string]any{"xy": []any{0.1, 0.2}}, map[string]any{"xy": []any{0.2, 0.1}}) {
		t.Error("expected array order to matter")
	}
	if Equal(map[string]any{"bad": make(chan int)}, map[string]any{"bad": make(chan int)}) {
		t.Error("expected unrepresentable values to compare unequal")
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := mustParse(t, `{"state":{"on":true,"bri":1},"lights":["1","2"]}`)
	cp, err := Clone(orig)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if !Equal(orig, cp) {
		t.Fatal("clone differs from original")
	}

	state, _ := Object(cp, "state")
	state["bri"] = 99.0
	cp["lights"].([]any)[0] = "9"

	origState, _ := Object(orig, "state")
	if origState["bri"] != 1.0 {
		t.Errorf("mutating clone changed original state: %v", origState["bri"])
	}
	if orig["lights"].([]any)[0] != "1" {
		t.Error("mutating clone changed original array")
	}
}

func TestClone_Nil(t *testing.T) {
	cp, err := Clone(nil)
	if err != nil || cp != nil {
		t.Errorf("Clone(nil) = %v, %v", cp, err)
	}
}

func TestAccessors(t *testing.T) {
	m := mustParse(t, `{"on":false,"bri":12,"name":"x","xy":[0.1,0.2],"bad":[1],"obj":{}}`)

	if v, ok := Bool(m, "on"); !ok || v {
		t.Errorf("Bool = %v, %v", v, ok)
	}
	if v, ok := Number(m, "bri"); !ok || v != 12 {
		t.Errorf("Number = %v, %v", v, ok)
	}
	if v, ok := String(m, "name"); !ok || v != "x" {
		t.Errorf("String = %v, %v", v, ok)
	}
	if x, y, ok := Pair(m, "xy"); !ok || x != 0.1 || y != 0.2 {
		t.Errorf("Pair = %v, %v, %v", x, y, ok)
	}
	if _, _, ok := Pair(m, "bad"); ok {
		t.Error("Pair accepted a one-element array")
	}
	if _, ok := Object(m, "obj"); !ok {
		t.Error("Object rejected an object")
	}
	if _, ok := Object(m, "name"); ok {
		t.Error("Object accepted a string")
	}
}

func TestSortedKeys(t *testing.T) {
	m := Map{"10": 1, "2": 1, "1": 1, "b": 1, "a": 1}
	want := []string{"1", "2", "10", "a", "b"}
	if got := SortedKeys(m); !reflect.DeepEqual(got, want) {
		t.Errorf("SortedKeys = %v, want %v", got, want)
	}
}
