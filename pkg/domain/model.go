package domain

// SecurityPolicy controls who may discover and invoke a model.
type SecurityPolicy string

const (
	// SecurityPublic allows any caller.
	SecurityPublic SecurityPolicy = "public"
	// SecurityOrgOnly restricts the model to callers in the owning organization.
	SecurityOrgOnly SecurityPolicy = "org-only"
	// SecurityPrivate restricts the model to its owner.
	SecurityPrivate SecurityPolicy = "private"
)

// ModelStatus is the lifecycle status of a registered model. Models are
// created offline and transition to online/error only as an outcome of an
// invocation or health probe.
type ModelStatus string

const (
	// StatusOnline marks a model whose last observed call or probe succeeded.
	StatusOnline ModelStatus = "online"
	// StatusOffline marks a model that has not been observed yet.
	StatusOffline ModelStatus = "offline"
	// StatusError marks a model whose last observed call or probe failed.
	StatusError ModelStatus = "error"
)

// ModelMetadata describes the identity and contract of an invocable model.
// The identifier is immutable once assigned; Status and LatencyMS are the
// only fields mutated as a side effect of invocation.
type ModelMetadata struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Endpoint       string         `json:"endpoint" yaml:"endpoint"`
	InputSchema    Value          `json:"input_schema" yaml:"inputSchema"`
	OutputSchema   Value          `json:"output_schema" yaml:"outputSchema"`
	LatencyMS      int            `json:"latency_ms" yaml:"latencyMs"`
	CostPerUnit    float64        `json:"cost_per_unit,omitempty" yaml:"costPerUnit"`
	Security       SecurityPolicy `json:"security" yaml:"security"`
	Credential     string         `json:"-" yaml:"credential"`
	Status         ModelStatus    `json:"status" yaml:"status"`
	HealthEndpoint string         `json:"health_endpoint,omitempty" yaml:"healthEndpoint"`
	Tags           []string       `json:"tags,omitempty" yaml:"tags"`
}

// HasTag reports whether the model carries the given tag. Tag order is
// irrelevant.
func (m ModelMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold a snapshot without sharing
// mutable state with the directory.
func (m ModelMetadata) Clone() ModelMetadata {
	out := m
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	return out
}
