package eventmappingplugin

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/convergetool/converge/internal/awsapi/awsapitest"
	"github.com/convergetool/converge/internal/config"
	"github.com/convergetool/converge/internal/model"
)

type fakeMapping struct {
	uuid        string
	sourceARN   string
	functionARN string
	batchSize   int32
	state       string
}

type fakeLambda struct {
	awsapitest.LambdaStub

	mappings      map[string]*fakeMapping
	mutatingCalls int
	// states returned by successive GetEventSourceMapping calls,
	// overriding the stored state while non-empty
	pendingStates []string
}

func (f *fakeLambda) ListEventSourceMappings(_ context.Context, in *lambda.ListEventSourceMappingsInput, _ ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error) {
	out := &lambda.ListEventSourceMappingsOutput{}
	for _, m := range f.mappings {
		if m.sourceARN != aws.ToString(in.EventSourceArn) {
			continue
		}
		out.EventSourceMappings = append(out.EventSourceMappings, mappingConfiguration(m))
	}
	return out, nil
}

func (f *fakeLambda) GetEventSourceMapping(_ context.Context, in *lambda.GetEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.GetEventSourceMappingOutput, error) {
	m, ok := f.mappings[aws.ToString(in.UUID)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "mapping not found"}
	}
	if len(f.pendingStates) > 0 {
		m.state = f.pendingStates[0]
		f.pendingStates = f.pendingStates[1:]
	}
	cfg := mappingConfiguration(m)
	return &lambda.GetEventSourceMappingOutput{UUID: cfg.UUID, State: cfg.State, FunctionArn: cfg.FunctionArn, BatchSize: cfg.BatchSize}, nil
}

func (f *fakeLambda) CreateEventSourceMapping(_ context.Context, in *lambda.CreateEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.CreateEventSourceMappingOutput, error) {
	f.mutatingCalls++
	m := &fakeMapping{
		uuid:        "uuid-created",
		sourceARN:   aws.ToString(in.EventSourceArn),
		functionARN: aws.ToString(in.FunctionName),
		batchSize:   aws.ToInt32(in.BatchSize),
		state:       "Enabled",
	}
	f.mappings[m.uuid] = m
	return &lambda.CreateEventSourceMappingOutput{UUID: aws.String(m.uuid)}, nil
}

func (f *fakeLambda) UpdateEventSourceMapping(_ context.Context, in *lambda.UpdateEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.UpdateEventSourceMappingOutput, error) {
	f.mutatingCalls++
	m, ok := f.mappings[aws.ToString(in.UUID)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "mapping not found"}
	}
	m.functionARN = aws.ToString(in.FunctionName)
	m.batchSize = aws.ToInt32(in.BatchSize)
	return &lambda.UpdateEventSourceMappingOutput{UUID: in.UUID}, nil
}

func (f *fakeLambda) DeleteEventSourceMapping(_ context.Context, in *lambda.DeleteEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.DeleteEventSourceMappingOutput, error) {
	f.mutatingCalls++
	if _, ok := f.mappings[aws.ToString(in.UUID)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "mapping not found"}
	}
	delete(f.mappings, aws.ToString(in.UUID))
	return &lambda.DeleteEventSourceMappingOutput{}, nil
}

func mappingConfiguration(m *fakeMapping) types.EventSourceMappingConfiguration {
	return types.EventSourceMappingConfiguration{
		UUID:           aws.String(m.uuid),
		EventSourceArn: aws.String(m.sourceARN),
		FunctionArn:    aws.String(m.functionARN),
		BatchSize:      aws.Int32(m.batchSize),
		State:          aws.String(m.state),
	}
}

const (
	testSourceARN   = "arn:aws:sqs:us-east-1:123456789012:orders.fifo"
	testFunctionARN = "arn:aws:lambda:us-east-1:123456789012:function:orders-worker"
)

func eventStep(batchSize int32, state string) *config.Step {
	return &config.Step{
		ID:    "wire_queue",
		Type:  "sqs_event",
		State: state,
		SQSEvent: &config.SQSEventStep{
			SourceARN:   testSourceARN,
			FunctionARN: testFunctionARN,
			BatchSize:   aws.Int32(batchSize),
		},
	}
}

func newTestPlugin(api *fakeLambda) *mappingPlugin {
	return &mappingPlugin{api: api, interval: time.Millisecond}
}

func TestEvaluateCreateWhenAbsent(t *testing.T) {
	api := &fakeLambda{mappings: map[string]*fakeMapping{}}
	p := newTestPlugin(api)

	result, err := p.Evaluate(context.Background(), eventStep(5, config.StatePresent))
	require.NoError(t, err)
	require.Equal(t, model.ActionCreate, result.Action)
	require.True(t, result.RequiresAction)
	require.Contains(t, result.Diff, "+ batch_size: 5")
	require.Zero(t, api.mutatingCalls, "evaluation must not mutate")
}

func TestEvaluateNoopWhenMatching(t *testing.T) {
	api := &fakeLambda{mappings: map[string]*fakeMapping{
		"uuid-1": {uuid: "uuid-1", sourceARN: testSourceARN, functionARN: testFunctionARN, batchSize: 5, state: "Enabled"},
	}}
	p := newTestPlugin(api)

	result, err := p.Evaluate(context.Background(), eventStep(5, config.StatePresent))
	require.NoError(t, err)
	require.Equal(t, model.ActionNone, result.Action)
	require.False(t, result.RequiresAction)
}

func TestEvaluateUpdateOnBatchSizeDrift(t *testing.T) {
	api := &fakeLambda{mappings: map[string]*fakeMapping{
		"uuid-1": {uuid: "uuid-1", sourceARN: testSourceARN, functionARN: testFunctionARN, batchSize: 1, state: "Enabled"},
	}}
	p := newTestPlugin(api)

	result, err := p.Evaluate(context.Background(), eventStep(10, config.StatePresent))
	require.NoError(t, err)
	require.Equal(t, model.ActionUpdate, result.Action)
	require.Contains(t, result.Diff, "- batch_size: 1")
	require.Contains(t, result.Diff, "+ batch_size: 10")
}

func TestEvaluateRejectsMultipleMappings(t *testing.T) {
	api := &fakeLambda{mappings: map[string]*fakeMapping{
		"uuid-1": {uuid: "uuid-1", sourceARN: testSourceARN, functionARN: testFunctionARN, batchSize: 1, state: "Enabled"},
		"uuid-2": {uuid: "uuid-2", sourceARN: testSourceARN, functionARN: "arn:aws:lambda:us-east-1:123456789012:function:other", batchSize: 1, state: "Enabled"},
	}}
	p := newTestPlugin(api)

	_, err := p.Evaluate(context.Background(), eventStep(1, config.StatePresent))
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple mappings")
}

func TestApplyCreateThenNoop(t *testing.T) {
	api := &fakeLambda{mappings: map[string]*fakeMapping{}}
	p := newTestPlugin(api)
	step := eventStep(5, config.StatePresent)

	evalResult, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)

	result, err := p.Apply(context.Background(), evalResult, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, result.Status)
	require.True(t, result.Changed)
	require.Equal(t, "uuid-created", result.Attributes["uuid"])

	evalResult, err = p.Evaluate(context.Background(), step)
	require.NoError(t, err)
	require.Equal(t, model.ActionNone, evalResult.Action)
}

func TestApplyUpdateWaitsForSettledState(t *testing.T) {
	api := &fakeLambda{
		mappings: map[string]*fakeMapping{
			"uuid-1": {uuid: "uuid-1", sourceARN: testSourceARN, functionARN: testFunctionARN, batchSize: 1, state: "Updating"},
		},
		pendingStates: []string{"Updating", "Enabled"},
	}
	p := newTestPlugin(api)
	step := eventStep(10, config.StatePresent)

	evalResult, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)
	require.Equal(t, model.ActionUpdate, evalResult.Action)

	result, err := p.Apply(context.Background(), evalResult, step)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, int32(10), api.mappings["uuid-1"].batchSize)
}

func TestApplyUpdateFailsWhenNeverSettled(t *testing.T) {
	states := make([]string, waitAttempts)
	for i := range states {
		states[i] = "Updating"
	}
	api := &fakeLambda{
		mappings: map[string]*fakeMapping{
			"uuid-1": {uuid: "uuid-1", sourceARN: testSourceARN, functionARN: testFunctionARN, batchSize: 1, state: "Updating"},
		},
		pendingStates: states,
	}
	p := newTestPlugin(api)
	step := eventStep(10, config.StatePresent)

	evalResult, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), evalResult, step)
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not settle")
}

func TestApplyDeleteThenAbsentNoop(t *testing.T) {
	api := &fakeLambda{mappings: map[string]*fakeMapping{
		"uuid-1": {uuid: "uuid-1", sourceARN: testSourceARN, functionARN: testFunctionARN, batchSize: 1, state: "Enabled"},
	}}
	p := newTestPlugin(api)
	step := eventStep(1, config.StateAbsent)

	evalResult, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)
	require.Equal(t, model.ActionDelete, evalResult.Action)

	result, err := p.Apply(context.Background(), evalResult, step)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Empty(t, api.mappings)

	evalResult, err = p.Evaluate(context.Background(), step)
	require.NoError(t, err)
	require.Equal(t, model.ActionNone, evalResult.Action)
	require.False(t, evalResult.RequiresAction)
}

func TestApplyDeleteTreatsVanishedMappingAsDeleted(t *testing.T) {
	api := &fakeLambda{
		mappings: map[string]*fakeMapping{
			"uuid-1": {uuid: "uuid-1", sourceARN: testSourceARN, functionARN: testFunctionARN, batchSize: 1, state: "Deleting"},
		},
	}
	p := newTestPlugin(api)
	step := eventStep(1, config.StateAbsent)

	evalResult, err := p.Evaluate(context.Background(), step)
	require.NoError(t, err)

	// Another actor finishes the delete while the mapping is settling.
	delete(api.mappings, "uuid-1")

	result, err := p.Apply(context.Background(), evalResult, step)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, result.Status)
	require.Contains(t, result.Message, "already deleted")
}
