// Package awsfacts resolves read-only account facts used to build ARNs and
// subnet layouts in task templates.
package awsfacts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/convergetool/converge/internal/awsapi"
)

// Account holds the caller's identity facts.
type Account struct {
	AccountID string
	CallerARN string
}

// Zone describes one availability zone.
type Zone struct {
	Name  string
	ID    string
	State string
}

// CallerAccount resolves the caller identity and extracts the account id
// from its ARN.
func CallerAccount(ctx context.Context, api awsapi.STSAPI) (*Account, error) {
	identity, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %w", err)
	}

	arn := aws.ToString(identity.Arn)
	account := awsapi.AccountFromARN(arn)
	if account == "" {
		return nil, fmt.Errorf("caller ARN %q has no account field", arn)
	}

	return &Account{AccountID: account, CallerARN: arn}, nil
}

// AvailabilityZones lists the region's availability zones.
func AvailabilityZones(ctx context.Context, api awsapi.EC2API) ([]Zone, error) {
	out, err := api.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe availability zones: %w", err)
	}

	zones := make([]Zone, 0, len(out.AvailabilityZones))
	for _, az := range out.AvailabilityZones {
		zones = append(zones, Zone{
			Name:  aws.ToString(az.ZoneName),
			ID:    aws.ToString(az.ZoneId),
			State: string(az.State),
		})
	}
	return zones, nil
}

// ZoneNames extracts the zone names, preserving provider order.
func ZoneNames(zones []Zone) []string {
	names := make([]string, 0, len(zones))
	for _, z := range zones {
		names = append(names, z.Name)
	}
	return names
}
