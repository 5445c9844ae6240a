package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/demand"
	"github.com/cuemby/burrow/pkg/launcher"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/platform/memory"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/status"
	"github.com/cuemby/burrow/pkg/types"
)

var workload = types.Workload{Cluster: "minecraft", Service: "minecraft-server"}

const queryLine = "1.0 2024-01-15T10:30:00.000Z Z0123456789 mc.example.com A NOERROR UDP IAD89-C1 198.51.100.7 -"

func logsEvent(t *testing.T, lines ...string) events.CloudwatchLogsEvent {
	t.Helper()
	data := events.CloudwatchLogsData{MessageType: "DATA_MESSAGE", LogGroup: "/aws/route53/example.com"}
	for i, l := range lines {
		data.LogEvents = append(data.LogEvents, events.CloudwatchLogsLogEvent{
			ID:        string(rune('a' + i)),
			Timestamp: time.Now().UnixMilli(),
			Message:   l,
		})
	}
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return events.CloudwatchLogsEvent{
		AWSLogs: events.CloudwatchLogsRawData{Data: base64.StdEncoding.EncodeToString(buf.Bytes())},
	}
}

func newLauncher(p *memory.Platform) *launcher.Launcher {
	return launcher.New(launcher.Config{
		Workload: workload,
		Services: p,
		Matcher:  demand.NewMatcher("mc.example.com"),
	})
}

func TestLauncher_ScalesOnMatchingQuery(t *testing.T) {
	p := memory.New()
	fn := Launcher(newLauncher(p))
	ctx := context.Background()

	require.NoError(t, fn(ctx, logsEvent(t, queryLine)))
	assert.Equal(t, int32(1), p.Desired(workload))

	// A second batch while desired=1 changes nothing
	require.NoError(t, fn(ctx, logsEvent(t, queryLine, queryLine)))
	assert.Len(t, p.MutationsOf(memory.MutationSetDesired), 1)
}

func TestLauncher_NoMatch(t *testing.T) {
	p := memory.New()
	fn := Launcher(newLauncher(p))

	require.NoError(t, fn(context.Background(), logsEvent(t, "1.0 2024-01-15T10:30:00.000Z Z0 www.example.com A NOERROR UDP IAD 198.51.100.7 -")))
	assert.Empty(t, p.Mutations())
}

func TestLauncher_Errors(t *testing.T) {
	p := memory.New()
	p.FailOn("DesiredCount", platform.Classified(platform.ErrPermission, errors.New("AccessDeniedException")))
	fn := Launcher(newLauncher(p))

	err := fn(context.Background(), logsEvent(t, queryLine))
	assert.ErrorIs(t, err, platform.ErrPermission)

	err = fn(context.Background(), events.CloudwatchLogsEvent{AWSLogs: events.CloudwatchLogsRawData{Data: "!!"}})
	assert.Error(t, err)
}

func envelope(t *testing.T, source, detailKey, detailType string, detail types.TaskStateChange) []byte {
	t.Helper()
	d, err := json.Marshal(detail)
	require.NoError(t, err)
	raw, err := json.Marshal(map[string]interface{}{
		"source":  source,
		detailKey: detailType,
		"detail":  json.RawMessage(d),
	})
	require.NoError(t, err)
	return raw
}

func taskChange() types.TaskStateChange {
	return types.TaskStateChange{
		ClusterArn:    "arn:aws:ecs:us-east-1:123456789012:cluster/minecraft",
		TaskArn:       "task-1",
		Group:         "service:minecraft-server",
		LastStatus:    "RUNNING",
		DesiredStatus: "RUNNING",
		Attachments: []types.Attachment{{
			Type:    "eni",
			Status:  "ATTACHED",
			Details: []types.AttachmentField{{Name: "networkInterfaceId", Value: "eni-123"}},
		}},
	}
}

func TestDecodeTaskStateChange(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantOK  bool
	}{
		{"eventbridge", envelope(t, "aws.ecs", "detail-type", "ECS Task State Change", taskChange()), true},
		{"camel case", envelope(t, "ecs", "detailType", "Task State Change", taskChange()), true},
		{"other source", envelope(t, "aws.ec2", "detail-type", "ECS Task State Change", taskChange()), false},
		{"other detail", envelope(t, "aws.ecs", "detail-type", "ECS Container Instance State Change", taskChange()), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, ok, err := DecodeTaskStateChange(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, "task-1", change.TaskArn)
				assert.Equal(t, "eni-123", change.NetworkInterfaceID())
			}
		})
	}

	_, _, err := DecodeTaskStateChange([]byte("not json"))
	assert.Error(t, err)
}

func TestReconciler_BindsAddress(t *testing.T) {
	p := memory.New()
	p.SetDesired(workload, 1)
	p.AddAddress("eipalloc-1", "203.0.113.7")
	p.SetTasks(workload, types.Task{
		ID:                 "task-1",
		LastStatus:         types.TaskStatusRunning,
		DesiredStatus:      types.TaskStatusRunning,
		NetworkInterfaceID: "eni-123",
		StartedAt:          time.Now(),
	})
	r := reconciler.NewReconciler(reconciler.Config{Workload: workload, Platform: p, AllocationID: "eipalloc-1"})
	fn := Reconciler(r)
	ctx := context.Background()

	payload := envelope(t, "aws.ecs", "detail-type", "ECS Task State Change", taskChange())
	require.NoError(t, fn(ctx, payload))
	require.NoError(t, fn(ctx, payload))

	muts := p.MutationsOf(memory.MutationAssociate)
	require.Len(t, muts, 1)
	assert.Equal(t, "eni-123", muts[0].Target)

	// Unrelated envelopes are ignored without error
	require.NoError(t, fn(ctx, envelope(t, "aws.ec2", "detail-type", "EC2 Instance State-change Notification", taskChange())))
}

func TestStatus(t *testing.T) {
	p := memory.New()
	fn := Status(status.NewService(status.Config{Workload: workload, Platform: p}))
	ctx := context.Background()

	resp, err := fn(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/status"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	assert.JSONEq(t, `{"running":false,"taskCount":0}`, resp.Body)

	resp, err = fn(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodOptions})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Body)

	resp, err = fn(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost})
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatus_PlatformErrors(t *testing.T) {
	tests := []struct {
		class error
		want  int
	}{
		{platform.ErrPermission, http.StatusServiceUnavailable},
		{platform.ErrTransient, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.class.Error(), func(t *testing.T) {
			p := memory.New()
			p.FailOn("ListTasks", platform.Classified(tt.class, errors.New("upstream")))
			fn := Status(status.NewService(status.Config{Workload: workload, Platform: p}))

			resp, err := fn(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Contains(t, resp.Body, `"error"`)
		})
	}
}
