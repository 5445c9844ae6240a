package types

import (
	"fmt"
	"strings"
	"time"
)

// Workload identifies the single game-server service burrow manages
type Workload struct {
	Cluster string
	Service string
}

// String returns "cluster/service"
func (w Workload) String() string {
	return w.Cluster + "/" + w.Service
}

// Validate checks that both identifiers are set
func (w Workload) Validate() error {
	if w.Cluster == "" {
		return fmt.Errorf("workload cluster name is required")
	}
	if w.Service == "" {
		return fmt.Errorf("workload service name is required")
	}
	return nil
}

// Group returns the ECS task group name of the workload's tasks
func (w Workload) Group() string {
	return "service:" + w.Service
}

// TaskStatus mirrors the platform task status strings
type TaskStatus string

const (
	TaskStatusProvisioning   TaskStatus = "PROVISIONING"
	TaskStatusPending        TaskStatus = "PENDING"
	TaskStatusActivating     TaskStatus = "ACTIVATING"
	TaskStatusRunning        TaskStatus = "RUNNING"
	TaskStatusDeactivating   TaskStatus = "DEACTIVATING"
	TaskStatusStopping       TaskStatus = "STOPPING"
	TaskStatusDeprovisioning TaskStatus = "DEPROVISIONING"
	TaskStatusStopped        TaskStatus = "STOPPED"
)

// Task is one running (or starting) instance of the workload
type Task struct {
	ID                 string
	LastStatus         TaskStatus
	DesiredStatus      TaskStatus
	NetworkInterfaceID string // ENI for awsvpc tasks, container ID for docker
	PrivateIP          string
	StartedAt          time.Time
	Healthy            bool
}

// IsRunning reports whether the task has reached RUNNING and is not being stopped
func (t *Task) IsRunning() bool {
	return t.LastStatus == TaskStatusRunning && t.DesiredStatus != TaskStatusStopped
}

// AddressBinding describes where the stable public address currently points
type AddressBinding struct {
	AllocationID       string
	PublicIP           string
	NetworkInterfaceID string // empty when unassociated
	AssociationID      string
}

// Bound reports whether the address is associated with the given interface
func (b *AddressBinding) Bound(eni string) bool {
	return b != nil && eni != "" && b.NetworkInterfaceID == eni
}

// DemandSource identifies where a demand signal came from
type DemandSource string

const (
	DemandSourceLogs   DemandSource = "logs"
	DemandSourceDNS    DemandSource = "dns"
	DemandSourceManual DemandSource = "manual"
)

// DemandSignal is an ephemeral indication that someone is trying to reach the workload
type DemandSignal struct {
	ID         string
	Source     DemandSource
	Hostname   string // queried name, if known
	ClientAddr string
	Text       string // raw log line or query summary
	ReceivedAt time.Time
}

// Attachment is a task attachment as reported in lifecycle events
type Attachment struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Status  string            `json:"status"`
	Details []AttachmentField `json:"details"`
}

// AttachmentField is one name/value pair of an attachment
type AttachmentField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NetworkInterfaceID returns the ENI of an ATTACHED eni attachment
func (a Attachment) NetworkInterfaceID() string {
	if !strings.EqualFold(a.Status, "ATTACHED") {
		return ""
	}
	for _, d := range a.Details {
		if d.Name == "networkInterfaceId" {
			return d.Value
		}
	}
	return ""
}

// TaskStateChange is the detail of a platform "Task State Change" lifecycle event
type TaskStateChange struct {
	ClusterArn    string       `json:"clusterArn"`
	TaskArn       string       `json:"taskArn"`
	Group         string       `json:"group"`
	LastStatus    string       `json:"lastStatus"`
	DesiredStatus string       `json:"desiredStatus"`
	StoppedReason string       `json:"stoppedReason,omitempty"`
	Attachments   []Attachment `json:"attachments"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// NetworkInterfaceID returns the first attached ENI carried by the event
func (e *TaskStateChange) NetworkInterfaceID() string {
	for _, a := range e.Attachments {
		if eni := a.NetworkInterfaceID(); eni != "" {
			return eni
		}
	}
	return ""
}

// BelongsTo reports whether the event concerns the given workload.
// Events without cluster or group information are accepted.
func (e *TaskStateChange) BelongsTo(w Workload) bool {
	if e.ClusterArn != "" && clusterName(e.ClusterArn) != w.Cluster {
		return false
	}
	if e.Group != "" && e.Group != w.Group() {
		return false
	}
	return true
}

// clusterName extracts the cluster name from a cluster ARN (or returns the input)
func clusterName(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

// LifecycleState is the logical state of the workload
type LifecycleState string

const (
	StateStopped  LifecycleState = "STOPPED"
	StateStarting LifecycleState = "STARTING"
	StateRunning  LifecycleState = "RUNNING"
	StateStopping LifecycleState = "STOPPING"
)

// AllStates lists every lifecycle state
var AllStates = []LifecycleState{StateStopped, StateStarting, StateRunning, StateStopping}

// LifecycleRecord is the persisted lifecycle state used to coordinate
// the launcher and the watchdog
type LifecycleRecord struct {
	Workload  Workload       `json:"workload"`
	State     LifecycleState `json:"state"`
	Revision  int64          `json:"revision"`
	UpdatedAt time.Time      `json:"updatedAt"`
	UpdatedBy string         `json:"updatedBy"`
}

// In reports whether the record's state is one of states
func (r *LifecycleRecord) In(states ...LifecycleState) bool {
	for _, s := range states {
		if r.State == s {
			return true
		}
	}
	return false
}

// Status is the answer of the status query endpoint
type Status struct {
	Running   bool           `json:"running"`
	TaskCount int            `json:"taskCount"`
	State     LifecycleState `json:"state,omitempty"`
	PublicIP  string         `json:"publicIp,omitempty"`
}
