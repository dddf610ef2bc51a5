package interfaces

import "screenfill/domain/entities"

// Record is the structured data being entered.
type Record interface {
	// Get returns a field value
	Get(field string) (entities.FieldValue, bool)

	// Has reports whether a field carries a non-empty value
	Has(field string) bool

	// Fields lists the fields destined for a page, in declaration order
	Fields(page string) []string
}
