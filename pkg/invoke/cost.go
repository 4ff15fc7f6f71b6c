package invoke

import "github.com/skeinai/skein/pkg/domain"

// UnitCounter derives the billable unit count from a model response body.
type UnitCounter func(output domain.Value) float64

// DefaultUnitCounter reads the conventional usage block emitted by inference
// endpoints. Responses without a recognizable usage field bill zero units.
func DefaultUnitCounter(output domain.Value) float64 {
	usage, ok := output.Field("usage")
	if !ok {
		return 0
	}
	for _, key := range []string{"total_tokens", "output_tokens", "units"} {
		field, ok := usage.Field(key)
		if !ok {
			continue
		}
		if n, isNum := field.AsNumber(); isNum && n >= 0 {
			return n
		}
	}
	return 0
}
