package features

import (
	"fmt"
	"strings"
)

// SchemaVersion identifies the slot layout below. Bump it whenever a slot,
// alias or derivation changes.
const SchemaVersion = "2"

// FeatureCount is the number of slots the model consumes.
const FeatureCount = 30

// Kind is how a slot derives its value from the record.
type Kind int

const (
	// KindNumeric parses the raw value as a float; missing is 0.
	KindNumeric Kind = iota
	// KindEnum maps a fixed set of strings to integer codes; unmapped is 0.
	KindEnum
	// KindFlag is 1 for the designated true token, 0 otherwise.
	KindFlag
	// KindFrequency looks the raw value up in a frequency table.
	KindFrequency
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindEnum:
		return "enum"
	case KindFlag:
		return "flag"
	case KindFrequency:
		return "frequency"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Slot is one position of the feature vector.
type Slot struct {
	Name      string             `json:"name"`
	Aliases   []string           `json:"aliases,omitempty"`
	Kind      Kind               `json:"kind"`
	Table     string             `json:"table,omitempty"`
	Enum      map[string]float64 `json:"enum,omitempty"`
	TrueToken string             `json:"trueToken,omitempty"`
}

// Spellings returns the canonical name followed by every alias.
func (s Slot) Spellings() []string {
	out := make([]string, 0, 1+len(s.Aliases))
	out = append(out, s.Name)
	return append(out, s.Aliases...)
}

// Schema is the ordered slot list.
type Schema []Slot

// Names returns the slot names in vector order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, slot := range s {
		names[i] = slot.Name
	}
	return names
}

// Validate checks the structural rules an encoder relies on.
func (s Schema) Validate() error {
	if len(s) != FeatureCount {
		return fmt.Errorf("schema has %d slots, want %d", len(s), FeatureCount)
	}

	owner := make(map[string]string, len(s)*2)
	for i, slot := range s {
		if slot.Name == "" {
			return fmt.Errorf("slot %d has no name", i)
		}
		for _, spelling := range slot.Spellings() {
			key := NormalizeKey(spelling)
			if key == "" {
				return fmt.Errorf("slot %s: empty spelling", slot.Name)
			}
			if prev, ok := owner[key]; ok && prev != slot.Name {
				return fmt.Errorf("spelling %q claimed by both %s and %s", spelling, prev, slot.Name)
			}
			owner[key] = slot.Name
		}

		switch slot.Kind {
		case KindNumeric:
		case KindEnum:
			if len(slot.Enum) == 0 {
				return fmt.Errorf("enum slot %s has no codes", slot.Name)
			}
		case KindFlag:
			if slot.TrueToken == "" {
				return fmt.Errorf("flag slot %s has no true token", slot.Name)
			}
		case KindFrequency:
			if slot.Table == "" {
				return fmt.Errorf("frequency slot %s names no table", slot.Name)
			}
		default:
			return fmt.Errorf("slot %s: unknown kind %d", slot.Name, int(slot.Kind))
		}
	}
	return nil
}

// NormalizeKey folds a record key or alias to its lookup form: lower case
// with underscores, hyphens and spaces removed.
func NormalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	genderCodes = map[string]float64{"Male": 1, "Female": 2}
	raceCodes   = map[string]float64{"White": 1, "Black": 2, "Other": 3, "Asian": 4, "Hispanic": 5}
)

func numeric(name string, aliases ...string) Slot {
	return Slot{Name: name, Aliases: aliases, Kind: KindNumeric}
}

func frequency(table string, aliases ...string) Slot {
	return Slot{Name: table + "_freq_encoded", Aliases: append([]string{table}, aliases...), Kind: KindFrequency, Table: table}
}

// DefaultSchema returns the slot layout of the trained fraud model. Names
// follow the feature names embedded in the model artifact; every spelling
// used by the REST and dashboard front ends is an alias.
func DefaultSchema() Schema {
	return Schema{
		numeric("InscClaimAmtReimbursed"),
		numeric("DeductibleAmtPaid"),
		{Name: "Gender", Kind: KindEnum, Enum: genderCodes},
		{Name: "Race", Kind: KindEnum, Enum: raceCodes},
		{Name: "RenalDiseaseIndicator", Aliases: []string{"RenalDisease"}, Kind: KindFlag, TrueToken: "Y"},
		numeric("State"),
		numeric("County"),
		numeric("NoOfMonths_PartACov", "NoOfMonth_PartACov"),
		numeric("NoOfMonths_PartBCov", "NoOfMonth_PartBCov"),
		numeric("ChronicCond_Alzheimer"),
		numeric("ChronicCond_Heartfailure", "ChronicCond_HeartFailure"),
		numeric("ChronicCond_KidneyDisease"),
		numeric("ChronicCond_Cancer"),
		numeric("ChronicCond_ObstrPulmonary"),
		numeric("ChronicCond_Depression"),
		numeric("ChronicCond_Diabetes"),
		numeric("ChronicCond_IschemicHeart"),
		numeric("ChronicCond_Osteoporasis", "ChronicCond_Osteoporosis"),
		numeric("ChronicCond_rheumatoidarthritis"),
		numeric("ChronicCond_stroke"),
		numeric("IPAnnualReimbursementAmt", "IPAnnualReimbursedAmt"),
		numeric("IPAnnualDeductibleAmt"),
		numeric("OPAnnualReimbursementAmt", "OPAnnualReimbursedAmt"),
		numeric("OPAnnualDeductibleAmt"),
		frequency("BeneID"),
		frequency("Provider", "provider_id"),
		frequency("AttendingPhysician"),
		frequency("OperatingPhysician"),
		frequency("OtherPhysician"),
		frequency("DiagnosisGroupCode"),
	}
}
