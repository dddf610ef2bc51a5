package record

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"screenfill/domain/entities"
)

const sample = `
patient:
  last_name: Doe
  first_name: Jane
  dob: {last_name: Doe, birth_date: "01011990"}
  middle_name: ""
  zip: 78701
insurance:
  relationship: Spouse
  diagnoses: [J01, J02]
  procedures:
    - [99213, 1]
    - [99214, 2]
`

func TestParseKeepsOrderAndKinds(t *testing.T) {
	r, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.Pages(); !reflect.DeepEqual(got, []string{"patient", "insurance"}) {
		t.Errorf("unexpected pages %v", got)
	}
	if got := r.Fields("patient"); !reflect.DeepEqual(got, []string{"last_name", "first_name", "dob", "zip"}) {
		t.Errorf("unexpected patient fields %v", got)
	}

	tests := []struct {
		field string
		want  entities.FieldValue
	}{
		{"last_name", entities.Scalar("Doe")},
		{"zip", entities.Scalar("78701")},
		{"dob", entities.Mapping(map[string]string{"last_name": "Doe", "birth_date": "01011990"})},
		{"diagnoses", entities.List("J01", "J02")},
		{"procedures", entities.Tuples([]string{"99213", "1"}, []string{"99214", "2"})},
	}
	for _, tt := range tests {
		got, ok := r.Get(tt.field)
		if !ok || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: expected %+v, got %+v", tt.field, tt.want, got)
		}
	}
	if r.Has("middle_name") {
		t.Error("empty value should not count as present")
	}
	if r.Has("ssn") {
		t.Error("unknown field should not be present")
	}
}

func TestParseJSON(t *testing.T) {
	r, err := Parse([]byte(`{"billing": {"amount": 12.5, "paid": true}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := r.Get("amount"); v.Scalar != "12.5" {
		t.Errorf("unexpected amount %+v", v)
	}
	if v, _ := r.Get("paid"); v.Scalar != "true" {
		t.Errorf("unexpected paid %+v", v)
	}
}

func TestParseErrors(t *testing.T) {
	for _, data := range []string{"- a\n- b\n", "patient: Doe\n", "patient: {x: [[1], 2]}\n", "{"} {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}

func TestLoadAndAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Add("patient", "last_name", entities.Scalar("Roe")).Add("billing", "amount", entities.Scalar("5"))
	if v, _ := r.Get("last_name"); v.Scalar != "Roe" {
		t.Errorf("expected overwrite, got %+v", v)
	}
	if got := r.Fields("patient")[0]; got != "last_name" {
		t.Errorf("overwrite should keep position, got %s first", got)
	}
	if got := r.Fields("billing"); !reflect.DeepEqual(got, []string{"amount"}) {
		t.Errorf("unexpected billing fields %v", got)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
