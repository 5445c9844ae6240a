// Package demand turns evidence that someone wants to play into demand
// signals: Route 53 query log lines delivered through a CloudWatch Logs
// subscription, or queries answered by burrow's own DNS listener.
package demand
