// Package docker runs the workload as a single labelled container on a
// local Docker engine. The stable address is a fixed IPv4 address on a
// user-defined network; the network name plays the role of the allocation id.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/types"
)

// Labels put on the workload container
const (
	LabelCluster = "burrow.cluster"
	LabelService = "burrow.service"
)

// stopTimeout is the grace period given to the server to save the world
const stopTimeout = 30

// API is the subset of the Docker client the platform uses
type API interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	ContainerList(ctx context.Context, options dockertypes.ContainerListOptions) ([]dockertypes.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockertypes.ContainerStartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ImagePull(ctx context.Context, ref string, options dockertypes.ImagePullOptions) (io.ReadCloser, error)
	NetworkInspect(ctx context.Context, networkID string, options dockertypes.NetworkInspectOptions) (dockertypes.NetworkResource, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error
	Events(ctx context.Context, options dockertypes.EventsOptions) (<-chan events.Message, <-chan error)
}

// Platform implements platform.Platform on a Docker engine
type Platform struct {
	cli    API
	spec   config.WorkloadSpec
	name   string
	logger zerolog.Logger
}

var _ platform.Platform = (*Platform)(nil)

// New creates a platform running the given workload resource
func New(cli API, res *config.Resource) *Platform {
	return &Platform{
		cli:    cli,
		spec:   res.Spec,
		name:   res.Metadata.Name,
		logger: log.WithComponent("docker"),
	}
}

// NewFromEnv connects to the engine configured by DOCKER_HOST and friends
func NewFromEnv(ctx context.Context, res *config.Resource) (*Platform, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach docker engine: %w", classify(err))
	}
	return New(cli, res), nil
}

func labelFilter(w types.Workload) filters.Args {
	return filters.NewArgs(
		filters.Arg("label", LabelCluster+"="+w.Cluster),
		filters.Arg("label", LabelService+"="+w.Service),
	)
}

func (p *Platform) containers(ctx context.Context, w types.Workload) ([]dockertypes.Container, error) {
	list, err := p.cli.ContainerList(ctx, dockertypes.ContainerListOptions{
		All:     true,
		Filters: labelFilter(w),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers of %s: %w", w, classify(err))
	}
	return list, nil
}

func active(c dockertypes.Container) bool {
	return c.State == "running" || c.State == "restarting"
}

// DesiredCount is the number of running workload containers
func (p *Platform) DesiredCount(ctx context.Context, w types.Workload) (int32, error) {
	list, err := p.containers(ctx, w)
	if err != nil {
		return 0, err
	}
	var n int32
	for _, c := range list {
		if active(c) {
			n++
		}
	}
	return n, nil
}

// SetDesiredCount starts the workload container for any count above zero
// and stops it for zero
func (p *Platform) SetDesiredCount(ctx context.Context, w types.Workload, count int32) error {
	list, err := p.containers(ctx, w)
	if err != nil {
		return err
	}

	if count == 0 {
		timeout := stopTimeout
		for _, c := range list {
			if !active(c) {
				continue
			}
			if err := p.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
				return fmt.Errorf("failed to stop container %s: %w", shortID(c.ID), classify(err))
			}
			p.logger.Info().Str("container", shortID(c.ID)).Msg("container stopped")
		}
		return nil
	}

	if count > 1 {
		p.logger.Warn().Int32("count", count).Msg("docker platform runs a single container, using 1")
	}

	for _, c := range list {
		if active(c) {
			return nil
		}
	}

	id := ""
	if len(list) > 0 {
		id = list[0].ID
	} else {
		id, err = p.create(ctx, w)
		if err != nil {
			return err
		}
	}

	if err := p.cli.ContainerStart(ctx, id, dockertypes.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", shortID(id), classify(err))
	}
	p.logger.Info().Str("container", shortID(id)).Msg("container started")
	return nil
}

func (p *Platform) create(ctx context.Context, w types.Workload) (string, error) {
	cfg, hostCfg, err := p.containerConfig(w)
	if err != nil {
		return "", err
	}

	resp, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, p.name)
	if errdefs.IsNotFound(err) {
		if err := p.pull(ctx); err != nil {
			return "", err
		}
		resp, err = p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, p.name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", p.name, classify(err))
	}

	for _, warning := range resp.Warnings {
		p.logger.Warn().Msg(warning)
	}
	p.logger.Info().Str("container", shortID(resp.ID)).Str("image", p.spec.Image).Msg("container created")
	return resp.ID, nil
}

func (p *Platform) pull(ctx context.Context) error {
	p.logger.Info().Str("image", p.spec.Image).Msg("pulling image")
	rc, err := p.cli.ImagePull(ctx, p.spec.Image, dockertypes.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", p.spec.Image, classify(err))
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", p.spec.Image, err)
	}
	return nil
}

func (p *Platform) containerConfig(w types.Workload) (*container.Config, *container.HostConfig, error) {
	labels := map[string]string{
		LabelCluster: w.Cluster,
		LabelService: w.Service,
	}
	for k, v := range p.spec.Labels {
		labels[k] = v
	}

	env := make([]string, 0, len(p.spec.Env))
	for k, v := range p.spec.Env {
		env = append(env, k+"="+v)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, ps := range p.spec.Ports {
		port, err := nat.NewPort(ps.Protocol, strconv.Itoa(ps.Container))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %d/%s: %w", ps.Container, ps.Protocol, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(ps.Host)})
	}

	cfg := &container.Config{
		Image:        p.spec.Image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: p.spec.Volume.Name,
			Target: p.spec.Volume.Target,
		}},
	}
	return cfg, hostCfg, nil
}

// ListTasks returns the workload containers that are not exited
func (p *Platform) ListTasks(ctx context.Context, w types.Workload) ([]types.Task, error) {
	list, err := p.containers(ctx, w)
	if err != nil {
		return nil, err
	}

	var tasks []types.Task
	for _, c := range list {
		status, ok := taskStatus(c.State)
		if !ok {
			continue
		}
		task := types.Task{
			ID:                 c.ID,
			LastStatus:         status,
			DesiredStatus:      types.TaskStatusRunning,
			NetworkInterfaceID: c.ID,
			StartedAt:          time.Unix(c.Created, 0),
			Healthy:            strings.Contains(c.Status, "(healthy)"),
		}
		if c.NetworkSettings != nil {
			for _, ep := range c.NetworkSettings.Networks {
				if ep != nil && ep.IPAddress != "" {
					task.PrivateIP = ep.IPAddress
					break
				}
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func taskStatus(state string) (types.TaskStatus, bool) {
	switch state {
	case "running":
		return types.TaskStatusRunning, true
	case "created", "restarting":
		return types.TaskStatusPending, true
	case "paused":
		return types.TaskStatusDeactivating, true
	case "removing":
		return types.TaskStatusStopping, true
	default:
		return "", false
	}
}

// DescribeAddress reports which container holds the fixed address on the network
func (p *Platform) DescribeAddress(ctx context.Context, allocationID string) (*types.AddressBinding, error) {
	if allocationID != p.spec.Network.Name {
		return nil, platform.Classified(platform.ErrNotFound, fmt.Errorf("network %s is not managed", allocationID))
	}

	res, err := p.cli.NetworkInspect(ctx, allocationID, dockertypes.NetworkInspectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to inspect network %s: %w", allocationID, classify(err))
	}

	binding := &types.AddressBinding{
		AllocationID: allocationID,
		PublicIP:     p.spec.Network.Address,
	}
	for id, ep := range res.Containers {
		if addressOf(ep.IPv4Address) == p.spec.Network.Address {
			binding.NetworkInterfaceID = id
			binding.AssociationID = ep.EndpointID
			break
		}
	}
	return binding, nil
}

// AssociateAddress connects the container to the network with the fixed
// address, taking it away from any other holder first
func (p *Platform) AssociateAddress(ctx context.Context, allocationID, containerID string) error {
	if allocationID != p.spec.Network.Name {
		return platform.Classified(platform.ErrNotFound, fmt.Errorf("network %s is not managed", allocationID))
	}

	res, err := p.cli.NetworkInspect(ctx, allocationID, dockertypes.NetworkInspectOptions{})
	if err != nil {
		return fmt.Errorf("failed to inspect network %s: %w", allocationID, classify(err))
	}

	for id, ep := range res.Containers {
		holder := addressOf(ep.IPv4Address) == p.spec.Network.Address
		if id == containerID || holder {
			if err := p.cli.NetworkDisconnect(ctx, allocationID, id, true); err != nil && !errdefs.IsNotFound(err) {
				return fmt.Errorf("failed to disconnect %s from %s: %w", shortID(id), allocationID, classify(err))
			}
		}
	}

	err = p.cli.NetworkConnect(ctx, allocationID, containerID, &network.EndpointSettings{
		IPAMConfig: &network.EndpointIPAMConfig{IPv4Address: p.spec.Network.Address},
	})
	if err != nil {
		return fmt.Errorf("failed to connect %s to %s: %w", shortID(containerID), allocationID, classify(err))
	}
	return nil
}

// Watch streams container start and die events of the workload as task
// state changes until ctx is cancelled
func (p *Platform) Watch(ctx context.Context, w types.Workload, fn func(types.TaskStateChange)) error {
	args := labelFilter(w)
	args.Add("type", "container")
	args.Add("event", "start")
	args.Add("event", "die")

	msgs, errs := p.cli.Events(ctx, dockertypes.EventsOptions{Filters: args})
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("docker event stream failed: %w", classify(err))
		case msg := <-msgs:
			if change, ok := toStateChange(w, msg); ok {
				fn(change)
			}
		}
	}
}

func toStateChange(w types.Workload, msg events.Message) (types.TaskStateChange, bool) {
	change := types.TaskStateChange{
		ClusterArn:    msg.Actor.Attributes[LabelCluster],
		Group:         "service:" + msg.Actor.Attributes[LabelService],
		TaskArn:       msg.Actor.ID,
		DesiredStatus: string(types.TaskStatusRunning),
		UpdatedAt:     time.Unix(0, msg.TimeNano),
	}

	switch msg.Action {
	case "start":
		change.LastStatus = string(types.TaskStatusRunning)
		change.Attachments = []types.Attachment{{
			ID:     msg.Actor.ID,
			Type:   "eni",
			Status: "ATTACHED",
			Details: []types.AttachmentField{
				{Name: "networkInterfaceId", Value: msg.Actor.ID},
			},
		}}
	case "die":
		change.LastStatus = string(types.TaskStatusStopped)
		change.DesiredStatus = string(types.TaskStatusStopped)
		change.StoppedReason = "exit code " + msg.Actor.Attributes["exitCode"]
	default:
		return types.TaskStateChange{}, false
	}

	if !change.BelongsTo(w) {
		return types.TaskStateChange{}, false
	}
	return change, true
}

// addressOf strips the prefix length from "172.28.0.10/16"
func addressOf(cidr string) string {
	if i := strings.IndexByte(cidr, '/'); i >= 0 {
		return cidr[:i]
	}
	return cidr
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return platform.Classified(platform.ErrNotFound, err)
	case errdefs.IsUnauthorized(err), errdefs.IsForbidden(err):
		return platform.Classified(platform.ErrPermission, err)
	case errdefs.IsUnavailable(err), errdefs.IsDeadline(err), client.IsErrConnectionFailed(err):
		return platform.Classified(platform.ErrTransient, err)
	default:
		return err
	}
}
