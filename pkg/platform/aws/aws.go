// Package aws implements the platform on ECS (desired count, tasks) and EC2
// (the Elastic IP used as the stable address).
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"

	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/types"
)

// ECSAPI is the subset of the ECS client the platform uses
type ECSAPI interface {
	DescribeServices(ctx context.Context, in *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateService(ctx context.Context, in *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	ListTasks(ctx context.Context, in *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, in *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// EC2API is the subset of the EC2 client the platform uses
type EC2API interface {
	DescribeAddresses(ctx context.Context, in *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	AssociateAddress(ctx context.Context, in *ec2.AssociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)
}

// DescribeTasks accepts at most 100 task ARNs per call
const describeTasksBatch = 100

// Platform talks to ECS and EC2
type Platform struct {
	ecs ECSAPI
	ec2 EC2API
}

var _ platform.Platform = (*Platform)(nil)

// New creates a platform from explicit clients
func New(ecsClient ECSAPI, ec2Client EC2API) *Platform {
	return &Platform{ecs: ecsClient, ec2: ec2Client}
}

// NewFromConfig loads the default AWS configuration for region and builds the clients
func NewFromConfig(ctx context.Context, region string) (*Platform, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(ecs.NewFromConfig(cfg), ec2.NewFromConfig(cfg)), nil
}

// DesiredCount returns the service's desired count
func (p *Platform) DesiredCount(ctx context.Context, w types.Workload) (int32, error) {
	out, err := p.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(w.Cluster),
		Services: []string{w.Service},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to describe service %s: %w", w, classify(err))
	}
	if len(out.Services) == 0 {
		reason := "MISSING"
		if len(out.Failures) > 0 {
			reason = aws.ToString(out.Failures[0].Reason)
		}
		return 0, platform.Classified(platform.ErrNotFound, fmt.Errorf("service %s: %s", w, reason))
	}
	return out.Services[0].DesiredCount, nil
}

// SetDesiredCount updates the service's desired count
func (p *Platform) SetDesiredCount(ctx context.Context, w types.Workload, count int32) error {
	_, err := p.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(w.Cluster),
		Service:      aws.String(w.Service),
		DesiredCount: aws.Int32(count),
	})
	if err != nil {
		return fmt.Errorf("failed to set desired count of %s to %d: %w", w, count, classify(err))
	}
	return nil
}

// ListTasks returns the service's tasks whose desired status is RUNNING
func (p *Platform) ListTasks(ctx context.Context, w types.Workload) ([]types.Task, error) {
	var arns []string
	var next *string
	for {
		out, err := p.ecs.ListTasks(ctx, &ecs.ListTasksInput{
			Cluster:       aws.String(w.Cluster),
			ServiceName:   aws.String(w.Service),
			DesiredStatus: ecstypes.DesiredStatusRunning,
			NextToken:     next,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks of %s: %w", w, classify(err))
		}
		arns = append(arns, out.TaskArns...)
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}

	tasks := make([]types.Task, 0, len(arns))
	for start := 0; start < len(arns); start += describeTasksBatch {
		end := start + describeTasksBatch
		if end > len(arns) {
			end = len(arns)
		}

		out, err := p.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(w.Cluster),
			Tasks:   arns[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe tasks of %s: %w", w, classify(err))
		}
		for _, t := range out.Tasks {
			tasks = append(tasks, convertTask(t))
		}
	}
	return tasks, nil
}

func convertTask(t ecstypes.Task) types.Task {
	task := types.Task{
		ID:            aws.ToString(t.TaskArn),
		LastStatus:    types.TaskStatus(aws.ToString(t.LastStatus)),
		DesiredStatus: types.TaskStatus(aws.ToString(t.DesiredStatus)),
		Healthy:       t.HealthStatus == ecstypes.HealthStatusHealthy,
	}
	if t.StartedAt != nil {
		task.StartedAt = *t.StartedAt
	} else if t.CreatedAt != nil {
		task.StartedAt = *t.CreatedAt
	}

	for _, a := range t.Attachments {
		att := types.Attachment{
			ID:     aws.ToString(a.Id),
			Type:   aws.ToString(a.Type),
			Status: aws.ToString(a.Status),
		}
		for _, d := range a.Details {
			name, value := aws.ToString(d.Name), aws.ToString(d.Value)
			att.Details = append(att.Details, types.AttachmentField{Name: name, Value: value})
			if name == "privateIPv4Address" {
				task.PrivateIP = value
			}
		}
		if eni := att.NetworkInterfaceID(); eni != "" && task.NetworkInterfaceID == "" {
			task.NetworkInterfaceID = eni
		}
	}
	return task
}

// DescribeAddress returns the Elastic IP and its current association
func (p *Platform) DescribeAddress(ctx context.Context, allocationID string) (*types.AddressBinding, error) {
	out, err := p.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
		AllocationIds: []string{allocationID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe address %s: %w", allocationID, classify(err))
	}
	if len(out.Addresses) == 0 {
		return nil, platform.Classified(platform.ErrNotFound, fmt.Errorf("address %s", allocationID))
	}

	a := out.Addresses[0]
	return &types.AddressBinding{
		AllocationID:       aws.ToString(a.AllocationId),
		PublicIP:           aws.ToString(a.PublicIp),
		NetworkInterfaceID: aws.ToString(a.NetworkInterfaceId),
		AssociationID:      aws.ToString(a.AssociationId),
	}, nil
}

// AssociateAddress points the Elastic IP at the interface, moving it if needed
func (p *Platform) AssociateAddress(ctx context.Context, allocationID, networkInterfaceID string) error {
	_, err := p.ec2.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId:       aws.String(allocationID),
		NetworkInterfaceId: aws.String(networkInterfaceID),
		AllowReassociation: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to associate %s with %s: %w", allocationID, networkInterfaceID, classify(err))
	}
	return nil
}

var permissionCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"UnauthorizedOperation":       true,
	"AuthFailure":                 true,
	"UnrecognizedClientException": true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"InvalidClientTokenId":        true,
}

var notFoundCodes = map[string]bool{
	"ClusterNotFoundException":           true,
	"ServiceNotFoundException":           true,
	"ServiceNotActiveException":          true,
	"InvalidAllocationID.NotFound":       true,
	"InvalidNetworkInterfaceID.NotFound": true,
}

var transientCodes = map[string]bool{
	"ThrottlingException":     true,
	"Throttling":              true,
	"RequestLimitExceeded":    true,
	"ServerException":         true,
	"ServiceUnavailable":      true,
	"InternalError":           true,
	"RequestTimeout":          true,
	"RequestTimeoutException": true,
}

// classify maps AWS API errors onto the platform error classes
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case permissionCodes[code]:
			return platform.Classified(platform.ErrPermission, err)
		case notFoundCodes[code]:
			return platform.Classified(platform.ErrNotFound, err)
		case transientCodes[code], apiErr.ErrorFault() == smithy.FaultServer:
			return platform.Classified(platform.ErrTransient, err)
		case strings.HasSuffix(code, ".NotFound"):
			return platform.Classified(platform.ErrNotFound, err)
		}
		return err
	}

	// Network failures, timeouts and cancellations never reached the API
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return platform.Classified(platform.ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return platform.Classified(platform.ErrTransient, err)
	}
	return err
}
