package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/awsfacts"
)

func newFactsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Print the AWS facts exposed to task templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			clients, err := awsapi.Load(ctx, root.region)
			if err != nil {
				return err
			}

			account, err := awsfacts.CallerAccount(ctx, clients.STS)
			if err != nil {
				return err
			}
			zones, err := awsfacts.AvailabilityZones(ctx, clients.EC2)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account_id: %s\n", account.AccountID)
			fmt.Fprintf(out, "caller_arn: %s\n", account.CallerARN)
			fmt.Fprintf(out, "region: %s\n", clients.Region)
			fmt.Fprintln(out, "zones:")
			for _, zone := range zones {
				fmt.Fprintf(out, "  - name: %s\n    id: %s\n    state: %s\n", zone.Name, zone.ID, zone.State)
			}
			return nil
		},
	}

	return cmd
}
