package share

import "fmt"

// ReplicaType classifies the role a replica plays for its log stream.
type ReplicaType int

const (
	ReplicaInvalid ReplicaType = iota
	ReplicaPrimary
	ReplicaReadOnly
	ReplicaLogOnly
	replicaTypeMax
)

var replicaTypeNames = [...]string{
	ReplicaInvalid:  "INVALID",
	ReplicaPrimary:  "PRIMARY",
	ReplicaReadOnly: "READONLY",
	ReplicaLogOnly:  "LOGONLY",
}

// IsValid reports whether t names a real replica role.
func (t ReplicaType) IsValid() bool {
	return t > ReplicaInvalid && t < replicaTypeMax
}

func (t ReplicaType) String() string {
	if t < ReplicaInvalid || t >= replicaTypeMax {
		return fmt.Sprintf("ReplicaType(%d)", int(t))
	}
	return replicaTypeNames[t]
}

// ParseReplicaType converts a name such as "PRIMARY" back into a ReplicaType.
func ParseReplicaType(s string) (ReplicaType, error) {
	for i := ReplicaPrimary; i < replicaTypeMax; i++ {
		if replicaTypeNames[i] == s {
			return i, nil
		}
	}
	return ReplicaInvalid, fmt.Errorf("unknown replica type %q", s)
}

// CreateStatus tracks the creation progress of the metadata record itself.
type CreateStatus int

const (
	CreateInvalid CreateStatus = iota
	CreateCreating
	CreateCreated
	CreateRemoved
	createStatusMax
)

var createStatusNames = [...]string{
	CreateInvalid:  "INVALID",
	CreateCreating: "CREATING",
	CreateCreated:  "CREATED",
	CreateRemoved:  "REMOVED",
}

// IsValid reports whether s is a real create status.
func (s CreateStatus) IsValid() bool {
	return s > CreateInvalid && s < createStatusMax
}

func (s CreateStatus) String() string {
	if s < CreateInvalid || s >= createStatusMax {
		return fmt.Sprintf("CreateStatus(%d)", int(s))
	}
	return createStatusNames[s]
}

// ParseCreateStatus converts a name such as "CREATED" back into a CreateStatus.
func ParseCreateStatus(s string) (CreateStatus, error) {
	for i := CreateCreating; i < createStatusMax; i++ {
		if createStatusNames[i] == s {
			return i, nil
		}
	}
	return CreateInvalid, fmt.Errorf("unknown create status %q", s)
}
