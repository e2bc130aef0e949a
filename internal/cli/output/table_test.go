package output

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

type summary struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Annotations int    `json:"annotations"`
	Layers      int    `json:"layers"`
}

type detail struct {
	summary
	Backlog int      `json:"backlog" table:"wide"`
	Layers  []string `json:"layers"`
	secret  string
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func fields(line string) []string {
	return strings.Fields(line)
}

func TestTableFormatter_Slice(t *testing.T) {
	var buf bytes.Buffer
	data := []*summary{
		{ID: "doc-a", State: "active", Annotations: 3, Layers: 1},
		nil,
		{ID: "doc-b", State: "draining"},
	}
	if err := (&TableFormatter{}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}

	got := lines(buf.String())
	if len(got) != 3 {
		t.Fatalf("rows = %q", got)
	}
	if !reflect.DeepEqual(fields(got[0]), []string{"ID", "STATE", "ANNOTATIONS", "LAYERS"}) {
		t.Errorf("headers = %q", got[0])
	}
	if !reflect.DeepEqual(fields(got[2]), []string{"doc-b", "draining", "0", "0"}) {
		t.Errorf("row = %q", got[2])
	}
}

func TestTableFormatter_EmbeddedAndWide(t *testing.T) {
	d := detail{summary: summary{ID: "doc", State: "active", Layers: 2}, Backlog: 4, Layers: []string{"a", "b"}}

	tests := []struct {
		name string
		wide bool
		want [][]string
	}{
		{"narrow", false, [][]string{
			{"FIELD", "VALUE"}, {"id", "doc"}, {"state", "active"}, {"annotations", "0"}, {"layers", "[2", "items]"},
		}},
		{"wide", true, [][]string{
			{"FIELD", "VALUE"}, {"id", "doc"}, {"state", "active"}, {"annotations", "0"}, {"backlog", "4"}, {"layers", "[2", "items]"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (&TableFormatter{Wide: tt.wide}).Format(&buf, &d); err != nil {
				t.Fatal(err)
			}
			var got [][]string
			for _, l := range lines(buf.String()) {
				got = append(got, fields(l))
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("table = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTableFormatter_MapSorted(t *testing.T) {
	var buf bytes.Buffer
	f := &TableFormatter{NoHeaders: true}
	if err := f.Format(&buf, map[string]int{"b": 2, "a": 1, "c": 3}); err != nil {
		t.Fatal(err)
	}
	if got := lines(buf.String()); len(got) != 3 || fields(got[0])[0] != "a" || fields(got[2])[0] != "c" {
		t.Errorf("map table = %q", got)
	}
}

func TestTableFormatter_FallbackAndEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, 42); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "42\n" {
		t.Errorf("fallback = %q", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, []summary{}); err != nil || buf.Len() != 0 {
		t.Errorf("empty slice = %q, %v", buf.String(), err)
	}
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil || buf.Len() != 0 {
		t.Errorf("nil = %q, %v", buf.String(), err)
	}
}

func TestTable_Render(t *testing.T) {
	tbl := &Table{}
	tbl.SetHeaders("ID", "NAME")
	tbl.AddRow("default", "Default")
	tbl.AddRow("notes", "Review notes")

	var buf bytes.Buffer
	if err := tbl.Render(&buf); err != nil {
		t.Fatal(err)
	}
	want := "ID       NAME\ndefault  Default\nnotes    Review notes\n"
	if buf.String() != want {
		t.Errorf("Render() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestFormatValue(t *testing.T) {
	str := "x"
	var nilPtr *string
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hello", "hello"},
		{"empty string", "", "-"},
		{"int64", int64(-7), "-7"},
		{"uint64", uint64(12), "12"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"pointer", &str, "x"},
		{"nil pointer", nilPtr, ""},
		{"empty slice", []int{}, "-"},
		{"slice", []int{1, 2}, "[2 items]"},
		{"map", map[string]int{"a": 1}, "{1 keys}"},
		{"struct", struct {
			X float64 `json:"x"`
		}{X: 3}, `{"x":3}`},
		{"zero time", time.Time{}, "-"},
		{"time", time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC), "2026-03-04 05:06:07"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(reflect.ValueOf(tt.in)); got != tt.want {
				t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if got := formatValue(reflect.Value{}); got != "" {
		t.Errorf("formatValue(invalid) = %q", got)
	}
}

func TestToSnakeCase(t *testing.T) {
	for in, want := range map[string]string{
		"ID":           "I_D",
		"Participants": "Participants",
		"LastSeenAt":   "Last_Seen_At",
		"layer_id":     "layer_id",
	} {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
