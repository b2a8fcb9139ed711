package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"

	"gorm.io/datatypes"

	"github.com/confsync/confsync/internal/value"
)

// Rule names reported in validation results.
const (
	RuleType        = "type"
	RuleMin         = "min"
	RuleMax         = "max"
	RuleMinLength   = "min_length"
	RuleMaxLength   = "max_length"
	RuleEnum        = "enum"
	RulePattern     = "pattern"
	RuleConstraints = "constraints"
)

// Constraints is the validation rule set a definition may carry. Nil
// pointer fields mean the rule is not applied.
type Constraints struct {
	// Min and Max bound number values inclusively.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	// MinLength and MaxLength bound string length in characters and array
	// length in elements.
	MinLength *int `json:"min_length,omitempty"`
	MaxLength *int `json:"max_length,omitempty"`
	// Enum restricts the value to one of the listed members.
	Enum []interface{} `json:"enum,omitempty"`
	// Pattern is an RE2 expression string values must match.
	Pattern string `json:"pattern,omitempty"`
}

// ParseConstraints decodes a stored rule set.
func ParseConstraints(raw datatypes.JSON) (*Constraints, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var c Constraints
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &value.SerializationError{Op: value.OpDecode, Err: err}
	}

	return &c, nil
}

// ValidationResult is the structured outcome of validating a value against
// a definition. It is a result, never an error: callers decide whether a
// failed rule aborts an operation or just skips a layer.
type ValidationResult struct {
	OK     bool
	Rule   string
	Detail string
}

func ok() ValidationResult {
	return ValidationResult{OK: true}
}

func violated(rule, detail string) ValidationResult {
	return ValidationResult{OK: false, Rule: rule, Detail: detail}
}

// checkConstraints applies the rule set to an already type-checked value.
// Rules are checked in a fixed order: min/max, length, enum, pattern.
func checkConstraints(v value.Value, c *Constraints) ValidationResult {
	if c == nil {
		return ok()
	}

	if f, isNum := v.Num(); isNum {
		if c.Min != nil && f < *c.Min {
			return violated(RuleMin, fmt.Sprintf("%v is below minimum %v", f, *c.Min))
		}
		if c.Max != nil && f > *c.Max {
			return violated(RuleMax, fmt.Sprintf("%v is above maximum %v", f, *c.Max))
		}
	}

	if length, counted := lengthOf(v); counted {
		if c.MinLength != nil && length < *c.MinLength {
			return violated(RuleMinLength, fmt.Sprintf("length %d is below minimum %d", length, *c.MinLength))
		}
		if c.MaxLength != nil && length > *c.MaxLength {
			return violated(RuleMaxLength, fmt.Sprintf("length %d is above maximum %d", length, *c.MaxLength))
		}
	}

	if len(c.Enum) > 0 {
		if !enumContains(c.Enum, v) {
			return violated(RuleEnum, "value is not an enum member")
		}
	}

	if c.Pattern != "" {
		if s, isStr := v.Str(); isStr {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return violated(RulePattern, "pattern does not compile")
			}
			if !re.MatchString(s) {
				return violated(RulePattern, fmt.Sprintf("%q does not match pattern", s))
			}
		}
	}

	return ok()
}

// lengthOf reports the constraint-relevant length of a value. Strings count
// characters, arrays count elements. Other types have no length.
func lengthOf(v value.Value) (int, bool) {
	if s, isStr := v.Str(); isStr {
		return utf8.RuneCountInString(s), true
	}
	if elems, isArr := v.Elems(); isArr {
		return len(elems), true
	}
	return 0, false
}

// enumContains reports whether v equals one of the enum members. Members
// are normalized through the value union so numeric representations
// compare correctly.
func enumContains(enum []interface{}, v value.Value) bool {
	for _, member := range enum {
		mv, err := value.FromAny(member)
		if err != nil {
			continue
		}
		if mv.Equal(v) {
			return true
		}
	}
	return false
}
