package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/demand"
	"github.com/cuemby/burrow/pkg/launcher"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/types"
)

// Lifecycle event sources and detail types accepted by the reconciler
var (
	taskStateSources = []string{"aws.ecs", "ecs"}
	taskStateDetail  = "Task State Change"
)

// LifecycleEvent is an EventBridge envelope. Some producers spell the
// detail type in camel case.
type LifecycleEvent struct {
	events.CloudWatchEvent
	DetailTypeCamel string `json:"detailType,omitempty"`
}

// Type returns the event's detail type whichever way it was spelled
func (e *LifecycleEvent) Type() string {
	if e.DetailType != "" {
		return e.DetailType
	}
	return e.DetailTypeCamel
}

// IsTaskStateChange reports whether the envelope carries a task state change
func (e *LifecycleEvent) IsTaskStateChange() bool {
	sourceOK := false
	for _, s := range taskStateSources {
		if e.Source == s {
			sourceOK = true
			break
		}
	}
	return sourceOK && strings.Contains(e.Type(), taskStateDetail)
}

// Launcher returns the function handler for CloudWatch Logs subscription
// events. A platform failure fails the invocation.
func Launcher(l *launcher.Launcher) func(context.Context, events.CloudwatchLogsEvent) error {
	return func(ctx context.Context, ev events.CloudwatchLogsEvent) error {
		logger := invocationLogger(ctx, "launcher")

		signals, err := demand.FromLogsEvent(ev)
		if err != nil {
			return err
		}

		res, err := l.HandleSignals(ctx, signals)
		if err != nil {
			return err
		}
		logger.Info().Int("signals", len(signals)).Str("result", string(res)).Msg("launcher invocation done")
		return nil
	}
}

// Reconciler returns the function handler for task state change events.
// Envelopes of any other kind are ignored.
func Reconciler(r *reconciler.Reconciler) func(context.Context, json.RawMessage) error {
	return func(ctx context.Context, payload json.RawMessage) error {
		logger := invocationLogger(ctx, "reconciler")

		change, ok, err := DecodeTaskStateChange(payload)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug().Msg("ignoring event that is not a task state change")
			return nil
		}

		outcome, err := r.Reconcile(ctx, change)
		if err != nil {
			return err
		}
		logger.Info().Str("task", change.TaskArn).Str("outcome", string(outcome)).Msg("reconciler invocation done")
		return nil
	}
}

// DecodeTaskStateChange extracts the task state change from an EventBridge
// envelope. ok is false when the envelope is some other event.
func DecodeTaskStateChange(payload []byte) (types.TaskStateChange, bool, error) {
	var change types.TaskStateChange

	var ev LifecycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return change, false, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if !ev.IsTaskStateChange() {
		return change, false, nil
	}
	if err := json.Unmarshal(ev.Detail, &change); err != nil {
		return change, false, fmt.Errorf("failed to decode task state change: %w", err)
	}
	return change, true, nil
}

// Status returns the function handler for the proxied GET /status route
func Status(q api.Querier) func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		logger := invocationLogger(ctx, "status")

		switch req.HTTPMethod {
		case http.MethodOptions:
			return response(http.StatusNoContent, nil), nil
		case http.MethodGet, "":
		default:
			return response(http.StatusMethodNotAllowed, api.ErrorResponse{Error: "method not allowed"}), nil
		}

		st, err := q.Query(ctx)
		if err != nil {
			code := api.StatusCode(err)
			logger.Error().Err(err).Int("code", code).Msg("status query failed")
			return response(code, api.ErrorResponse{Error: err.Error()}), nil
		}
		return response(http.StatusOK, st), nil
	}
}

func response(code int, v interface{}) events.APIGatewayProxyResponse {
	h := http.Header{}
	api.SetCORSHeaders(h)
	headers := make(map[string]string, len(h)+1)
	for k := range h {
		headers[k] = h.Get(k)
	}

	resp := events.APIGatewayProxyResponse{StatusCode: code, Headers: headers}
	if v != nil {
		body, err := json.Marshal(v)
		if err != nil {
			resp.StatusCode = http.StatusInternalServerError
			body = []byte(`{"error":"failed to encode response"}`)
		}
		headers["Content-Type"] = "application/json"
		resp.Body = string(body)
	}
	return resp
}

// invocationLogger tags log lines with the function request id
func invocationLogger(ctx context.Context, component string) zerolog.Logger {
	id := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		id = lc.AwsRequestID
	}
	if id == "" {
		id = uuid.New().String()
	}
	return log.WithComponent(component).With().Str("request_id", id).Logger()
}
