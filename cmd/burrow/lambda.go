package main

import (
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/handler"
)

var lambdaCmd = &cobra.Command{
	Use:       "lambda <launcher|reconciler|status>",
	Short:     "Run one component as an AWS Lambda function",
	Long:      `Run one component as an AWS Lambda function handler. The function's trigger decides which one: a CloudWatch Logs subscription for the launcher, an EventBridge task state change rule for the reconciler and an API Gateway proxy route for status.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"launcher", "reconciler", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		switch args[0] {
		case "launcher":
			lambda.Start(handler.Launcher(d.launcher(cfg, "launcher")))
		case "reconciler":
			lambda.Start(handler.Reconciler(d.reconciler(cfg)))
		case "status":
			lambda.Start(handler.Status(d.status(cfg, false)))
		default:
			return fmt.Errorf("unknown function %q", args[0])
		}
		return nil
	},
}
