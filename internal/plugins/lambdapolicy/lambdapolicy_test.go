package lambdapolicyplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/convergetool/converge/internal/awsapi/awsapitest"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/model"
)

const (
	testAccountID   = "123456789012"
	testRegion      = "us-east-1"
	testSourceARN   = "arn:aws:sqs:us-east-1:123456789012:orders.fifo"
	testFunctionARN = "arn:aws:lambda:us-east-1:123456789012:function:orders-worker"
)

type fakeLambda struct {
	awsapitest.LambdaStub

	statements    []policyStatement
	mutatingCalls int
}

func (f *fakeLambda) GetPolicy(_ context.Context, _ *lambda.GetPolicyInput, _ ...func(*lambda.Options)) (*lambda.GetPolicyOutput, error) {
	if len(f.statements) == 0 {
		return nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no policy"}
	}
	raw, err := json.Marshal(policyDocument{Version: "2012-10-17", Statement: f.statements})
	if err != nil {
		return nil, err
	}
	return &lambda.GetPolicyOutput{Policy: aws.String(string(raw))}, nil
}

func (f *fakeLambda) AddPermission(_ context.Context, in *lambda.AddPermissionInput, _ ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	f.mutatingCalls++
	resource := testFunctionARN
	if in.Qualifier != nil {
		resource += ":" + *in.Qualifier
	}
	f.statements = append(f.statements, policyStatement{
		Sid:       aws.ToString(in.StatementId),
		Effect:    "Allow",
		Principal: policyPrincipal{Service: aws.ToString(in.Principal)},
		Action:    aws.ToString(in.Action),
		Resource:  resource,
		Condition: policyCondition{ArnLike: map[string]string{"AWS:SourceArn": aws.ToString(in.SourceArn)}},
	})
	return &lambda.AddPermissionOutput{}, nil
}

func (f *fakeLambda) RemovePermission(_ context.Context, in *lambda.RemovePermissionInput, _ ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error) {
	f.mutatingCalls++
	for i, stmt := range f.statements {
		if stmt.Sid == aws.ToString(in.StatementId) {
			f.statements = append(f.statements[:i], f.statements[i+1:]...)
			return &lambda.RemovePermissionOutput{}, nil
		}
	}
	return nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "statement not found"}
}

type fakeSTS struct{}

func (fakeSTS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(testAccountID),
		Arn:     aws.String(fmt.Sprintf("arn:aws:iam::%s:user/deploy", testAccountID)),
	}, nil
}

func policyStep(state string, qualifier *string) *config.Step {
	return &config.Step{
		ID:    "grant_invoke",
		Type:  "lambda_policy",
		State: state,
		LambdaPolicy: &config.LambdaPolicyStep{
			FunctionName:     "orders-worker",
			SourceARN:        testSourceARN,
			PrincipalService: "sqs.amazonaws.com",
			Qualifier:        qualifier,
		},
	}
}

func grantedStatement(sid string) policyStatement {
	return policyStatement{
		Sid:       sid,
		Effect:    "Allow",
		Principal: policyPrincipal{Service: "sqs.amazonaws.com"},
		Action:    invokeAction,
		Resource:  testFunctionARN,
		Condition: policyCondition{ArnLike: map[string]string{"AWS:SourceArn": testSourceARN}},
	}
}

func TestEvaluateCreateWhenNoPolicy(t *testing.T) {
	api := &fakeLambda{}
	p := New(api, fakeSTS{}, testRegion)

	result, err := p.Evaluate(context.Background(), policyStep(config.StatePresent, nil))
	require.NoError(t, err)
	require.Equal(t, model.ActionCreate, result.Action)
	require.True(t, result.RequiresAction)
	require.Contains(t, result.Diff, "sqs.amazonaws.com")
	require.Zero(t, api.mutatingCalls, "evaluation must not mutate")
}

func TestEvaluateNoopWhenGranted(t *testing.T) {
	api := &fakeLambda{statements: []policyStatement{grantedStatement("sid-1")}}
	p := New(api, fakeSTS{}, testRegion)

	result, err := p.Evaluate(context.Background(), policyStep(config.StatePresent, nil))
	require.NoError(t, err)
	require.Equal(t, model.ActionNone, result.Action)
	require.False(t, result.RequiresAction)
	require.Equal(t, "sid-1", result.Observed["statement_id"])
}

func TestEvaluateIgnoresNonMatchingStatements(t *testing.T) {
	other := grantedStatement("sid-other")
	other.Condition.ArnLike["AWS:SourceArn"] = "arn:aws:sqs:us-east-1:123456789012:other"
	api := &fakeLambda{statements: []policyStatement{other}}
	p := New(api, fakeSTS{}, testRegion)

	result, err := p.Evaluate(context.Background(), policyStep(config.StatePresent, nil))
	require.NoError(t, err)
	require.Equal(t, model.ActionCreate, result.Action)
}

func TestEvaluateQualifierScopesResource(t *testing.T) {
	// A grant on the bare function does not satisfy a qualified step.
	api := &fakeLambda{statements: []policyStatement{grantedStatement("sid-1")}}
	p := New(api, fakeSTS{}, testRegion)

	result, err := p.Evaluate(context.Background(), policyStep(config.StatePresent, aws.String("prod")))
	require.NoError(t, err)
	require.Equal(t, model.ActionCreate, result.Action)
}

func TestApplyCreateThenNoop(t *testing.T) {
	api := &fakeLambda{}
	p := New(api, fakeSTS{}, testRegion)
	step := policyStep(config.StatePresent, nil)

	evalResult, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)

	result, err := p.Apply(context.Background(), evalResult, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, result.Status)
	require.True(t, result.Changed)
	require.NotEmpty(t, result.Attributes["statement_id"])

	evalResult, err = p.Evaluate(context.Background(), step)
	require.NoError(t, err)
	require.Equal(t, model.ActionNone, evalResult.Action)
}

func TestApplyDeleteThenAbsentNoop(t *testing.T) {
	api := &fakeLambda{statements: []policyStatement{grantedStatement("sid-1")}}
	p := New(api, fakeSTS{}, testRegion)
	step := policyStep(config.StateAbsent, nil)

	evalResult, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)
	require.Equal(t, model.ActionDelete, evalResult.Action)

	result, err := p.Apply(context.Background(), evalResult, step)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Empty(t, api.statements)

	evalResult, err = p.Evaluate(context.Background(), step)
	require.NoError(t, err)
	require.Equal(t, model.ActionNone, evalResult.Action)
	require.False(t, evalResult.RequiresAction)
}
