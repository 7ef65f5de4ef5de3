package compute

import (
	"slices"
	"strconv"
	"strings"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Instance lifecycle states.
const (
	StatePending    engine.State = "pending"
	StateRunning    engine.State = "running"
	StateStopped    engine.State = "stopped"
	StateTerminated engine.State = "terminated"
)

// Lifecycle is the instance state machine. Terminated is a sink.
var Lifecycle = engine.NewStateMachine(engine.KindInstance, StatePending, map[engine.State][]engine.State{
	StatePending: {StateRunning, StateTerminated},
	StateRunning: {StateStopped, StateTerminated},
	StateStopped: {StateRunning, StateTerminated},
})

// DefaultInstanceType is used when a spec names none.
const DefaultInstanceType = "t2.micro"

// DefaultAMI is used when a spec names no machine image.
const DefaultAMI = "ami-default"

// InstanceTypes is the set of accepted instance types.
var InstanceTypes = []string{
	"t2.nano", "t2.micro", "t2.small", "t2.medium", "t2.large",
	"t3.nano", "t3.micro", "t3.small", "t3.medium", "t3.large",
	"m5.large", "m5.xlarge", "m5.2xlarge",
	"c5.large", "c5.xlarge",
	"r5.large", "r5.xlarge",
}

// InstanceSpec is the input to CreateInstance.
type InstanceSpec struct {
	InstanceType   string            `mapstructure:"instance_type" validate:"required,instance_type"`
	AMIID          string            `mapstructure:"ami_id" validate:"required,startswith=ami-"`
	KeyName        string            `mapstructure:"key_name"`
	SecurityGroups []string          `mapstructure:"security_groups" validate:"dive,required"`
	Tags           map[string]string `mapstructure:"tags"`
}

func (s *InstanceSpec) applyDefaults() {
	if s.InstanceType == "" {
		s.InstanceType = DefaultInstanceType
	}
	if s.AMIID == "" {
		s.AMIID = DefaultAMI
	}
}

// Attributes are the instance-specific fields of a record.
type Attributes struct {
	InstanceType   string   `json:"instance_type"`
	AMIID          string   `json:"ami_id"`
	KeyName        string   `json:"key_name,omitempty"`
	SecurityGroups []string `json:"security_groups,omitempty"`
	PublicIP       string   `json:"public_ip"`
	PrivateIP      string   `json:"private_ip"`
	Reboots        int      `json:"reboots"`
}

// Clone implements engine.Attributes.
func (a *Attributes) Clone() engine.Attributes {
	c := *a
	c.SecurityGroups = slices.Clone(a.SecurityGroups)
	return &c
}

// Lookup implements engine.Attributes.
func (a *Attributes) Lookup(key string) (string, bool) {
	switch key {
	case "instance_type":
		return a.InstanceType, true
	case "ami_id":
		return a.AMIID, true
	case "key_name":
		return a.KeyName, true
	case "public_ip":
		return a.PublicIP, true
	case "private_ip":
		return a.PrivateIP, true
	case "security_groups":
		return strings.Join(a.SecurityGroups, ","), true
	case "reboots":
		return strconv.Itoa(a.Reboots), true
	}
	return "", false
}

// Instance is the caller-facing view of an instance record.
type Instance struct {
	ID        string            `json:"instance_id"`
	State     engine.State      `json:"state"`
	Tags      map[string]string `json:"tags,omitempty"`
	LaunchSeq uint64            `json:"launch_seq"`
	Attributes
}

func fromRecord(rec engine.Record) *Instance {
	attrs, _ := rec.Attributes.(*Attributes)
	if attrs == nil {
		attrs = &Attributes{}
	}
	return &Instance{
		ID:         rec.ID,
		State:      rec.State,
		Tags:       rec.Tags,
		LaunchSeq:  rec.CreatedAt,
		Attributes: *attrs,
	}
}
