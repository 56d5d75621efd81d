package types

// ResourceType names a kind of record gated by the access policy
type ResourceType string

const (
	ResourceCandidate   ResourceType = "candidate"
	ResourceInterview   ResourceType = "interview"
	ResourceEmployee    ResourceType = "employee"
	ResourceBranch      ResourceType = "branch"
	ResourceDepartment  ResourceType = "department"
	ResourceDesignation ResourceType = "designation"
	ResourceRole        ResourceType = "role"
)

// Record is anything that can be scoped by location, department and owner.
// Empty strings mean the attribute is absent.
type Record interface {
	ScopeLocationID() string
	ScopeDepartmentID() string
	ScopeOwnerID() string
}

// AttributeRecord is a Record that exposes extra attributes to policy
// conditions
type AttributeRecord interface {
	Record
	Attributes() map[string]interface{}
}

// ResourceQuery describes the data being requested or mutated
type ResourceQuery struct {
	ResourceType ResourceType `json:"resourceType"`
	LocationID   string       `json:"locationId,omitempty"`
	DepartmentID string       `json:"departmentId,omitempty"`
	OwnerID      string       `json:"ownerId,omitempty"`
}

func (q ResourceQuery) ScopeLocationID() string   { return q.LocationID }
func (q ResourceQuery) ScopeDepartmentID() string { return q.DepartmentID }
func (q ResourceQuery) ScopeOwnerID() string      { return q.OwnerID }

// RecordToMap converts a Record to a map for CEL evaluation
func RecordToMap(r Record) map[string]interface{} {
	m := map[string]interface{}{
		"locationId":   r.ScopeLocationID(),
		"departmentId": r.ScopeDepartmentID(),
		"ownerId":      r.ScopeOwnerID(),
	}
	if ar, ok := r.(AttributeRecord); ok {
		for k, v := range ar.Attributes() {
			if _, reserved := m[k]; !reserved {
				m[k] = v
			}
		}
	}
	return m
}
