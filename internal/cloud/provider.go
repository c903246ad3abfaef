// Package cloud talks to the compute provider backing each room.
package cloud

import "context"

// Instance states reported by the provider.
const (
	StateNew    = "new"
	StateActive = "active"
)

// InstanceSpec describes the compute instance to create for a room.
type InstanceSpec struct {
	Name     string
	Region   string
	Size     string
	Image    string
	SSHKeyID string
	// UserData is the opaque boot payload executed on first boot.
	UserData string
	Tags     []string
}

// Instance is a created compute resource.
type Instance struct {
	ID int64
}

// InstanceStatus is a point-in-time observation of an instance.
type InstanceStatus struct {
	State string
	// IP is the public IPv4 address, empty until the instance is active.
	IP string
}

// Provider is the compute-provider adapter. Implementations classify
// failures: transient conditions map to CodeUnavailable, rejections to
// CodeInvalid.
type Provider interface {
	CreateInstance(ctx context.Context, spec InstanceSpec) (*Instance, error)
	DeleteInstance(ctx context.Context, instanceID int64) error
	GetInstanceStatus(ctx context.Context, instanceID int64) (*InstanceStatus, error)
	AssociateWithProject(ctx context.Context, projectID string, instanceID int64) error
	FindProjectByName(ctx context.Context, name string) (string, error)
}
