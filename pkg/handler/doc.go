// Package handler adapts burrow's components to AWS Lambda invocations:
// CloudWatch Logs subscription events drive the launcher, EventBridge task
// state changes drive the reconciler and API Gateway proxy requests are
// answered by the status service.
package handler
