package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resource is a burrow resource file (apiVersion/kind/metadata/spec)
type Resource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       WorkloadSpec     `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// WorkloadSpec describes how the docker platform runs the workload container
type WorkloadSpec struct {
	Image   string            `yaml:"image"`
	Env     map[string]string `yaml:"env,omitempty"`
	Ports   []PortSpec        `yaml:"ports,omitempty"`
	Volume  VolumeSpec        `yaml:"volume"`
	Network NetworkSpec       `yaml:"network"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// PortSpec publishes one container port on the host
type PortSpec struct {
	Container int    `yaml:"container"`
	Host      int    `yaml:"host,omitempty"`
	Protocol  string `yaml:"protocol,omitempty"`
}

// VolumeSpec is the named volume holding the world data
type VolumeSpec struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
}

// NetworkSpec names the user network and the fixed address the workload
// container holds on it. The network name doubles as the allocation id.
type NetworkSpec struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// DefaultWorkload returns the bedrock server definition used when no
// workload file is given
func DefaultWorkload(name string) *Resource {
	return &Resource{
		APIVersion: "burrow/v1",
		Kind:       "Workload",
		Metadata:   ResourceMetadata{Name: name},
		Spec: WorkloadSpec{
			Image: "itzg/minecraft-bedrock-server",
			Env:   map[string]string{"EULA": "TRUE"},
			Ports: []PortSpec{{Container: 19132, Host: 19132, Protocol: "udp"}},
			Volume: VolumeSpec{
				Name:   name + "-data",
				Target: "/data",
			},
			Network: NetworkSpec{
				Name:    "burrow",
				Address: "172.28.0.10",
			},
		},
	}
}

// LoadWorkload reads and validates a workload resource file
func LoadWorkload(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload file: %w", err)
	}
	return ParseWorkload(data)
}

// ParseWorkload parses a workload resource, filling defaults
func ParseWorkload(data []byte) (*Resource, error) {
	var res Resource
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if res.Kind != "Workload" {
		return nil, fmt.Errorf("unsupported resource kind: %s", res.Kind)
	}
	if res.Metadata.Name == "" {
		return nil, fmt.Errorf("workload name is required")
	}
	if res.Spec.Image == "" {
		return nil, fmt.Errorf("workload image is required")
	}

	defaults := DefaultWorkload(res.Metadata.Name).Spec
	if res.Spec.Volume.Target == "" {
		res.Spec.Volume = defaults.Volume
	}
	if res.Spec.Volume.Name == "" {
		res.Spec.Volume.Name = defaults.Volume.Name
	}
	if res.Spec.Network.Name == "" {
		res.Spec.Network.Name = defaults.Network.Name
	}
	if res.Spec.Network.Address != "" && net.ParseIP(res.Spec.Network.Address).To4() == nil {
		return nil, fmt.Errorf("network address %q is not an IPv4 address", res.Spec.Network.Address)
	}

	for i := range res.Spec.Ports {
		p := &res.Spec.Ports[i]
		if p.Container <= 0 || p.Container > 65535 {
			return nil, fmt.Errorf("invalid container port %d", p.Container)
		}
		if p.Host == 0 {
			p.Host = p.Container
		}
		p.Protocol = strings.ToLower(p.Protocol)
		if p.Protocol == "" {
			p.Protocol = "tcp"
		}
		if p.Protocol != "tcp" && p.Protocol != "udp" {
			return nil, fmt.Errorf("invalid protocol %q for port %d", p.Protocol, p.Container)
		}
	}
	return &res, nil
}
