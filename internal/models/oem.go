package models

import "fmt"

// RelationshipType describes how a brand relates to the OEM that actually
// built the engine or platform behind a marketed series.
type RelationshipType string

const (
	RelationshipEngine      RelationshipType = "engine"
	RelationshipRebrand     RelationshipType = "rebrand"
	RelationshipPlatform    RelationshipType = "platform"
	RelationshipPartnership RelationshipType = "partnership"
)

// Valid reports whether t is a defined relationship type.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipEngine, RelationshipRebrand, RelationshipPlatform, RelationshipPartnership:
		return true
	}
	return false
}

// FactKind names a category of extracted facts an OEM relationship applies to.
type FactKind string

const (
	FactErrorCodes  FactKind = "error_codes"
	FactParts       FactKind = "parts"
	FactSupplies    FactKind = "supplies"
	FactAccessories FactKind = "accessories"
)

// Valid reports whether k is a defined fact kind.
func (k FactKind) Valid() bool {
	switch k {
	case FactErrorCodes, FactParts, FactSupplies, FactAccessories:
		return true
	}
	return false
}

// OEMRelationship maps a (brand, series-pattern) pair to the underlying OEM
// manufacturer. Rows are curated reference data; at most one edge exists per
// (brand, pattern, oem) triple. The relationship set is not required to be
// acyclic, so resolution treats it as single-hop only.
type OEMRelationship struct {
	BrandManufacturer  string           `json:"brand_manufacturer" yaml:"brand_manufacturer"`
	BrandSeriesPattern string           `json:"brand_series_pattern" yaml:"brand_series_pattern"`
	OEMManufacturer    string           `json:"oem_manufacturer" yaml:"oem_manufacturer"`
	RelationshipType   RelationshipType `json:"relationship_type" yaml:"relationship_type"`
	AppliesTo          []FactKind       `json:"applies_to" yaml:"applies_to"`
	Confidence         Confidence       `json:"confidence" yaml:"confidence"`
	Verified           bool             `json:"verified" yaml:"verified"`
}

// Validate checks structural invariants of the relationship row. The series
// pattern is validated for emptiness only; regexp compilation errors are a data
// anomaly handled at resolver load time, not a validation failure here.
func (r *OEMRelationship) Validate() error {
	if r.BrandManufacturer == "" {
		return fmt.Errorf("brand_manufacturer cannot be empty")
	}
	if r.BrandSeriesPattern == "" {
		return fmt.Errorf("brand_series_pattern cannot be empty")
	}
	if r.OEMManufacturer == "" {
		return fmt.Errorf("oem_manufacturer cannot be empty")
	}
	if !r.RelationshipType.Valid() {
		return fmt.Errorf("invalid relationship_type %q", r.RelationshipType)
	}
	for _, k := range r.AppliesTo {
		if !k.Valid() {
			return fmt.Errorf("invalid applies_to kind %q", k)
		}
	}
	return r.Confidence.Validate()
}

// AppliesToKind reports whether the relationship covers the given fact kind.
func (r *OEMRelationship) AppliesToKind(kind FactKind) bool {
	for _, k := range r.AppliesTo {
		if k == kind {
			return true
		}
	}
	return false
}
