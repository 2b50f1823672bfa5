package plugin

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monistowl/gat/internal/consts"
)

func sampleRequest() Request {
	return Request{
		ProtocolVersion: int32(consts.PluginProtocolVersion),
		ProblemClass:    "ac_opf",
		BaseMVA:         100,
		Tolerance:       1e-6,
		MaxIterations:   50,
		BusID:           []int32{1, 2},
		BusName:         []string{"bus1", "bus2"},
		BusVMin:         []float64{0.9, 0.9},
		BusVMax:         []float64{1.1, 1.1},
		BusPLoad:        []float64{0, 50},
		BusQLoad:        []float64{0, 5},
		GenID:           []int32{1},
		GenBusID:        []int32{1},
		GenPMin:         []float64{0},
		GenPMax:         []float64{100},
		GenQMin:         []float64{-50},
		GenQMax:         []float64{50},
		GenC0:           []float64{0},
		GenC1:           []float64{10},
		GenC2:           []float64{0},
		BranchFrom:      []int32{1},
		BranchTo:        []int32{2},
		BranchR:         []float64{0.01},
		BranchX:         []float64{0.1},
		BranchB:         []float64{0},
		BranchRate:      []float64{0},
		BranchTap:       []float64{1.0},
		BranchShift:     []float64{0},
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := sampleRequest()
	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, req))

	got, err := DecodeRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func sampleResponse() Response {
	return Response{
		ProtocolVersion: int32(consts.PluginProtocolVersion),
		Status:          "optimal",
		Objective:       500,
		Iterations:      7,
		SolveTimeMs:     42,
		BusID:           []int32{1, 2},
		BusVMag:         []float64{1.0, 0.98},
		BusVAng:         []float64{0, -0.05},
		BusLMP:          []float64{10, 10},
		GenID:           []int32{1},
		GenP:            []float64{50.3},
		GenQ:            []float64{5.1},
		BranchID:        []int32{1},
		BranchPFrom:     []float64{50.3},
		BranchQFrom:     []float64{5.1},
		BranchPTo:       []float64{-50},
		BranchQTo:       []float64{-5},
		HasBranchCol:    true,
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := sampleResponse()
	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, resp))

	got, err := DecodeResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestResponseRoundTripWithoutBranchColumns(t *testing.T) {
	resp := sampleResponse()
	resp.HasBranchCol = false
	resp.BranchID = nil
	resp.BranchPFrom = nil
	resp.BranchQFrom = nil
	resp.BranchPTo = nil
	resp.BranchQTo = nil

	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, resp))

	got, err := DecodeResponse(&buf)
	require.NoError(t, err)
	require.False(t, got.HasBranchCol)
	require.Empty(t, got.BranchID)
}

// DecodeResponse must not itself reject a version mismatch: invoke.go is
// the layer that compares resp.ProtocolVersion against
// consts.PluginProtocolVersion and raises opferr.ProtocolMismatch, so the
// decoded field has to survive the call.
func TestDecodeResponseSurfacesVersionMismatch(t *testing.T) {
	resp := sampleResponse()
	resp.ProtocolVersion = int32(consts.PluginProtocolVersion) + 1

	var buf bytes.Buffer
	require.NoError(t, EncodeResponse(&buf, resp))

	got, err := DecodeResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, resp.ProtocolVersion, got.ProtocolVersion)
	require.NotEqual(t, int32(consts.PluginProtocolVersion), got.ProtocolVersion)
}

func TestDecodeRequestRejectsTruncatedStream(t *testing.T) {
	req := sampleRequest()
	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, req))

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()/2])
	_, err := DecodeRequest(truncated)
	require.Error(t, err)
}
