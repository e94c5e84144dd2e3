package frontend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudironsoni/inference-gateway/gateway/catalog"
	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
	"github.com/rudironsoni/inference-gateway/gateway/gwtypes"
	"github.com/rudironsoni/inference-gateway/gateway/orchestrator"
	"github.com/rudironsoni/inference-gateway/gateway/tokenest"
)

type fakeCatalog struct {
	models []*catalog.CanonicalModel
	err    error
}

func (f *fakeCatalog) Resolve(selector string) ([]*catalog.CanonicalModel, error) {
	return f.models, f.err
}

type fakeOrchestrator struct {
	result *orchestrator.Result
	err    error
	gotReq *gwtypes.Request
}

func (f *fakeOrchestrator) Execute(ctx context.Context, req *gwtypes.Request) (*orchestrator.Result, error) {
	f.gotReq = req
	return f.result, f.err
}

func validReq() *gwtypes.Request {
	return &gwtypes.Request{
		ModelSelector: "fast",
		Messages:      []gwtypes.Message{{Role: gwtypes.RoleUser, Content: "hi"}},
	}
}

func TestRun_RejectsEmptyModelSelector(t *testing.T) {
	f := New(&fakeCatalog{}, &fakeOrchestrator{}, nil, nil)
	req := validReq()
	req.ModelSelector = ""
	_, err := f.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeClientError, gwerrors.ClassOf(err))
}

func TestRun_RejectsEmptyMessages(t *testing.T) {
	f := New(&fakeCatalog{}, &fakeOrchestrator{}, nil, nil)
	req := validReq()
	req.Messages = nil
	_, err := f.Run(context.Background(), req)
	require.Error(t, err)
}

func TestRun_RejectsEmptyContentOnNonToolMessage(t *testing.T) {
	f := New(&fakeCatalog{}, &fakeOrchestrator{}, nil, nil)
	req := validReq()
	req.Messages = []gwtypes.Message{{Role: gwtypes.RoleUser, Content: ""}}
	_, err := f.Run(context.Background(), req)
	require.Error(t, err)
}

func TestRun_AllowsEmptyContentOnToolMessage(t *testing.T) {
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: []*catalog.CanonicalModel{{ID: "a/m"}}}, orch, nil, nil)
	req := validReq()
	req.Messages = []gwtypes.Message{{Role: gwtypes.RoleTool, Content: ""}}
	_, err := f.Run(context.Background(), req)
	require.NoError(t, err)
}

func TestRun_MintsTraceIDWhenAbsent(t *testing.T) {
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: []*catalog.CanonicalModel{{ID: "a/m"}}}, orch, nil, nil)
	req := validReq()
	_, err := f.Run(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, orch.gotReq.TraceID)
}

func TestRun_PreservesCallerSuppliedTraceID(t *testing.T) {
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: []*catalog.CanonicalModel{{ID: "a/m"}}}, orch, nil, nil)
	req := validReq()
	req.TraceID = "caller-supplied"
	_, err := f.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "caller-supplied", orch.gotReq.TraceID)
}

func TestRun_EstimatesPromptTokensWhenUnset(t *testing.T) {
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: []*catalog.CanonicalModel{{ID: "a/m"}}}, orch, tokenest.New(), nil)
	req := validReq()
	_, err := f.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Greater(t, orch.gotReq.TokenEstimate, 0)
}

func TestRun_PreservesCallerSuppliedTokenEstimate(t *testing.T) {
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: []*catalog.CanonicalModel{{ID: "a/m"}}}, orch, nil, nil)
	req := validReq()
	req.TokenEstimate = 42
	_, err := f.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 42, orch.gotReq.TokenEstimate)
}

// Boundary behavior: streaming requested, canonical model has streaming=false
// -> the orchestrator receives a non-streaming request and the result
// carries downgraded=true.
func TestRun_DowngradesStreamingWhenNoCandidateSupportsIt(t *testing.T) {
	models := []*catalog.CanonicalModel{
		{ID: "a/m", Capabilities: catalog.Capabilities{Streaming: false}},
		{ID: "b/m", Capabilities: catalog.Capabilities{Streaming: false}},
	}
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: models}, orch, nil, nil)

	req := validReq()
	req.Stream = true
	result, err := f.Run(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, orch.gotReq.Stream)
	assert.True(t, result.Metadata.Downgraded)
}

func TestRun_KeepsStreamingWhenAnyCandidateSupportsIt(t *testing.T) {
	models := []*catalog.CanonicalModel{
		{ID: "a/m", Capabilities: catalog.Capabilities{Streaming: false}},
		{ID: "b/m", Capabilities: catalog.Capabilities{Streaming: true}},
	}
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: models}, orch, nil, nil)

	req := validReq()
	req.Stream = true
	result, err := f.Run(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, orch.gotReq.Stream)
	assert.False(t, result.Metadata.Downgraded)
}

func TestRun_NeverDowngradesNonStreamingRequest(t *testing.T) {
	models := []*catalog.CanonicalModel{{ID: "a/m", Capabilities: catalog.Capabilities{Streaming: false}}}
	orch := &fakeOrchestrator{result: &orchestrator.Result{Response: &gwtypes.Response{}}}
	f := New(&fakeCatalog{models: models}, orch, nil, nil)

	req := validReq()
	req.Stream = false
	result, err := f.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Metadata.Downgraded)
}

func TestRun_LeavesStreamingAloneWhenSelectorUnresolvable(t *testing.T) {
	orch := &fakeOrchestrator{err: gwerrors.New(gwerrors.CodeUnknownModel, "no such model")}
	f := New(&fakeCatalog{err: gwerrors.New(gwerrors.CodeUnknownModel, "no such model")}, orch, nil, nil)

	req := validReq()
	req.Stream = true
	_, err := f.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, orch.gotReq.Stream, "an unresolvable selector must not be silently downgraded before the orchestrator reports unknown_model")
}
