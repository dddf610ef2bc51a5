// Package record loads the data to enter: one section per page, each a
// field id → value mapping kept in file order.
package record

import (
	"fmt"
	"os"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"gopkg.in/yaml.v3"
)

type section struct {
	page   string
	fields []string
	values map[string]entities.FieldValue
}

// FileRecord implements interfaces.Record. A field id present in several
// sections resolves to the first one.
type FileRecord struct {
	sections []*section
}

var _ interfaces.Record = (*FileRecord)(nil)

// New returns an empty record.
func New() *FileRecord {
	return &FileRecord{}
}

// Load reads a JSON or YAML record file.
func Load(path string) (*FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes record data. Key order is taken from the document.
func Parse(data []byte) (*FileRecord, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	r := New()
	if len(doc.Content) == 0 {
		return r, nil
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("record must map page ids to fields")
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		page, body := top.Content[i].Value, top.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("page %s: expected a field mapping", page)
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			field := body.Content[j].Value
			var raw interface{}
			if err := body.Content[j+1].Decode(&raw); err != nil {
				return nil, fmt.Errorf("page %s field %s: %w", page, field, err)
			}
			v, err := entities.ValueFrom(raw)
			if err != nil {
				return nil, fmt.Errorf("page %s field %s: %w", page, field, err)
			}
			r.Add(page, field, v)
		}
	}
	return r, nil
}

// Add sets a field value, appending the field to its page on first use.
func (r *FileRecord) Add(page, field string, v entities.FieldValue) *FileRecord {
	s := r.section(page)
	if s == nil {
		s = &section{page: page, values: make(map[string]entities.FieldValue)}
		r.sections = append(r.sections, s)
	}
	if _, ok := s.values[field]; !ok {
		s.fields = append(s.fields, field)
	}
	s.values[field] = v
	return r
}

func (r *FileRecord) section(page string) *section {
	for _, s := range r.sections {
		if s.page == page {
			return s
		}
	}
	return nil
}

// Get implements interfaces.Record.
func (r *FileRecord) Get(field string) (entities.FieldValue, bool) {
	for _, s := range r.sections {
		if v, ok := s.values[field]; ok {
			return v, true
		}
	}
	return entities.FieldValue{}, false
}

// Has implements interfaces.Record.
func (r *FileRecord) Has(field string) bool {
	v, ok := r.Get(field)
	return ok && !v.IsEmpty()
}

// Fields implements interfaces.Record. Fields with empty values are left
// out since there is nothing to enter.
func (r *FileRecord) Fields(page string) []string {
	s := r.section(page)
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		if !s.values[f].IsEmpty() {
			out = append(out, f)
		}
	}
	return out
}

// Pages lists the sections in file order.
func (r *FileRecord) Pages() []string {
	out := make([]string, len(r.sections))
	for i, s := range r.sections {
		out[i] = s.page
	}
	return out
}
