package types

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestValue_String(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{name: "null", value: Null(), want: "null"},
		{name: "zero value is null", value: Value{}, want: "null"},
		{name: "true", value: Bool(true), want: "true"},
		{name: "false", value: Bool(false), want: "false"},
		{name: "integer", value: Number(42), want: "42"},
		{name: "fraction", value: Number(1.5), want: "1.5"},
		{name: "large integer no exponent", value: Number(1e21), want: "1000000000000000000000"},
		{name: "string verbatim", value: String(`a "b"`), want: `a "b"`},
		{name: "array", value: Array(Number(1), String("x"), Null()), want: `[1,"x",null]`},
		{name: "object sorted keys", value: Object(map[string]Value{"b": Number(2), "a": Bool(true)}), want: `{"a":true,"b":2}`},
		{name: "empty object", value: Object(nil), want: `{}`},
		{name: "empty array", value: Array(), want: `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValue_Equal(t *testing.T) {
	obj := func() Value {
		return Object(map[string]Value{"a": Array(Number(1), String("x")), "b": Null()})
	}
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{name: "null null", a: Null(), b: Null(), want: true},
		{name: "numbers", a: Number(1), b: Number(1.0), want: true},
		{name: "number vs string", a: Number(1), b: String("1"), want: false},
		{name: "deep objects", a: obj(), b: obj(), want: true},
		{name: "object extra key", a: obj(), b: Object(map[string]Value{"a": Array(Number(1), String("x")), "b": Null(), "c": Null()}), want: false},
		{name: "array order", a: Array(Number(1), Number(2)), b: Array(Number(2), Number(1)), want: false},
		{name: "array vs object", a: Array(), b: Object(nil), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValue_ConstructorsCopyInputs(t *testing.T) {
	items := []Value{Number(1)}
	arr := Array(items...)
	items[0] = Number(2)
	if v, _ := arr.Index(0); !v.Equal(Number(1)) {
		t.Errorf("Array shares caller slice: got %v", v)
	}

	fields := map[string]Value{"a": Number(1)}
	obj := Object(fields)
	fields["a"] = Number(2)
	fields["b"] = Number(3)
	if v, _ := obj.Get("a"); !v.Equal(Number(1)) || obj.Len() != 1 {
		t.Errorf("Object shares caller map: got %v", obj)
	}

	elems := arr.Elements()
	elems[0] = Null()
	if v, _ := arr.Index(0); !v.Equal(Number(1)) {
		t.Errorf("Elements exposes internal storage")
	}

	copied := obj.Fields()
	copied["a"] = Null()
	if v, _ := obj.Get("a"); !v.Equal(Number(1)) {
		t.Errorf("Fields exposes internal storage")
	}
}

func TestValue_Accessors(t *testing.T) {
	v := Object(map[string]Value{"list": Array(String("a"), String("b"))})

	if _, ok := v.Get("missing"); ok {
		t.Errorf("Get(missing) ok = true")
	}
	list, ok := v.Get("list")
	if !ok || list.Kind() != KindArray || list.Len() != 2 {
		t.Fatalf("Get(list) = %v, %v", list, ok)
	}
	if _, ok := list.Index(2); ok {
		t.Errorf("Index(2) ok = true, want false")
	}
	if _, ok := list.Index(-1); ok {
		t.Errorf("Index(-1) ok = true, want false")
	}
	if _, ok := list.Get("a"); ok {
		t.Errorf("Get on array ok = true, want false")
	}
	if _, ok := String("s").Index(0); ok {
		t.Errorf("Index on string ok = true, want false")
	}
	if n, ok := Number(3).AsNumber(); !ok || n != 3 {
		t.Errorf("AsNumber() = %v, %v", n, ok)
	}
	if _, ok := String("3").AsNumber(); ok {
		t.Errorf("AsNumber() on string ok = true")
	}
	if got := Object(map[string]Value{"z": Null(), "a": Null(), "m": Null()}).Keys(); !reflect.DeepEqual(got, []string{"a", "m", "z"}) {
		t.Errorf("Keys() = %v, want sorted", got)
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	input := `{"a":[1,2.5,"x",true,null],"b":{"c":"d"}}`
	v, err := ParseJSON([]byte(input))
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != input {
		t.Errorf("Marshal() = %s, want %s", out, input)
	}

	var embedded struct {
		Payload Value `json:"payload"`
	}
	if err := json.Unmarshal([]byte(`{"payload": {"n": 1}}`), &embedded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if n, _ := embedded.Payload.Get("n"); !n.Equal(Number(1)) {
		t.Errorf("embedded payload n = %v, want 1", n)
	}
}

func TestValue_NonFiniteNumbersMarshalAsNull(t *testing.T) {
	out, err := json.Marshal(Array(Number(math.NaN()), Number(math.Inf(1))))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != "[null,null]" {
		t.Errorf("Marshal() = %s, want [null,null]", out)
	}
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"i":    7,
		"u":    uint8(3),
		"f":    1.25,
		"s":    "x",
		"b":    false,
		"nil":  nil,
		"list": []any{int64(1), "y"},
		"yaml": map[any]any{"k": 1},
		"num":  json.Number("12"),
	})
	if err != nil {
		t.Fatalf("FromAny() error = %v", err)
	}
	want := `{"b":false,"f":1.25,"i":7,"list":[1,"y"],"nil":null,"num":12,"s":"x","u":3,"yaml":{"k":1}}`
	if got := v.String(); got != want {
		t.Errorf("FromAny() = %s, want %s", got, want)
	}

	if _, err := FromAny(struct{}{}); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("FromAny(struct{}) error = %v, want ErrUnsupportedValue", err)
	}
	if _, err := FromAny([]any{make(chan int)}); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("FromAny(chan) error = %v, want ErrUnsupportedValue", err)
	}
}

func TestValue_ToAny(t *testing.T) {
	v := Object(map[string]Value{"a": Array(Number(1), Bool(true), Null()), "s": String("x")})
	got := v.ToAny()
	want := map[string]any{"a": []any{float64(1), true, nil}, "s": "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToAny() = %#v, want %#v", got, want)
	}
	back, err := FromAny(got)
	if err != nil || !back.Equal(v) {
		t.Errorf("FromAny(ToAny()) = %v, %v; want %v", back, err, v)
	}
}

func TestEvent_Value(t *testing.T) {
	e := Event{ID: "id-1", Type: "snmptrapd", CreatedMs: 1234, Payload: Object(map[string]Value{"src_ip": String("127.0.0.1")})}
	want := `{"created_ms":1234,"id":"id-1","payload":{"src_ip":"127.0.0.1"},"type":"snmptrapd"}`
	if got := e.Value().String(); got != want {
		t.Errorf("Value() = %s, want %s", got, want)
	}

	bare := Event{Type: "x", Payload: String("not an object")}
	if p, _ := bare.Value().Get("payload"); p.Kind() != KindObject {
		t.Errorf("non-object payload exposed as %v, want object", p.Kind())
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("syslog", Null())
	if _, err := ParseEventID(string(e.ID)); err != nil {
		t.Errorf("NewEvent ID %q invalid: %v", e.ID, err)
	}
	if e.Payload.Kind() != KindObject {
		t.Errorf("Payload kind = %v, want object", e.Payload.Kind())
	}
	if EventIDTime(e.ID).IsZero() {
		t.Errorf("EventIDTime() is zero for a fresh ID")
	}
	if e.CreatedMs <= 0 {
		t.Errorf("CreatedMs = %d, want > 0", e.CreatedMs)
	}
}

func TestParseEventID(t *testing.T) {
	tests := []struct {
		in      string
		want    EventID
		wantErr bool
	}{
		{"0b5f3c2e-8c1d-4e7a-9f3b-2d6a1c4e5f70", "0b5f3c2e-8c1d-4e7a-9f3b-2d6a1c4e5f70", false},
		{"0B5F3C2E-8C1D-4E7A-9F3B-2D6A1C4E5F70", "0b5f3c2e-8c1d-4e7a-9f3b-2d6a1c4e5f70", false},
		{"urn:uuid:0b5f3c2e-8c1d-4e7a-9f3b-2d6a1c4e5f70", "0b5f3c2e-8c1d-4e7a-9f3b-2d6a1c4e5f70", false},
		{"evt-1", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEventID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEventID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEventID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if !EventIDTime("0b5f3c2e-8c1d-4e7a-9f3b-2d6a1c4e5f70").IsZero() {
		t.Errorf("EventIDTime() of a v4 id is not zero")
	}
	if !EventIDTime("evt-1").IsZero() {
		t.Errorf("EventIDTime() of an invalid id is not zero")
	}
}
