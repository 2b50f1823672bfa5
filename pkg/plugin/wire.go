// Package plugin implements the native plugin transport: subprocess
// discovery and invocation for trusted-but-memory-unsafe external
// solvers, exchanging problem and solution data over a versioned
// columnar wire format on stdin/stdout. Grounded on the one
// subprocess-invocation example in the retrieval pack
// (other_examples' cyclus-cloudlus scenario runner, which shells out to
// a native simulator via os/exec and post-processes its output file)
// generalized from a single fire-and-forget run to a bidirectional,
// versioned, timeout-and-cancel-aware protocol.
package plugin

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/monistowl/gat/internal/consts"
)

// Request is the dispatcher-to-plugin wire payload.
type Request struct {
	ProtocolVersion int32
	ProblemClass    string
	BaseMVA         float64
	Tolerance       float64
	MaxIterations   int32

	BusID    []int32
	BusName  []string
	BusVMin  []float64
	BusVMax  []float64
	BusPLoad []float64
	BusQLoad []float64

	GenID    []int32
	GenBusID []int32
	GenPMin  []float64
	GenPMax  []float64
	GenQMin  []float64
	GenQMax  []float64
	GenC0    []float64
	GenC1    []float64
	GenC2    []float64

	BranchFrom  []int32
	BranchTo    []int32
	BranchR     []float64
	BranchX     []float64
	BranchB     []float64
	BranchRate  []float64 // 0 means unlimited; the wire format has no per-column null bit
	BranchTap   []float64
	BranchShift []float64
}

// Response is the plugin-to-dispatcher wire payload.
type Response struct {
	ProtocolVersion int32
	Status          string // "optimal"|"infeasible"|"timeout"|"error"
	Objective       float64
	Iterations      int32
	SolveTimeMs     int64
	ErrorMessage    string

	BusID   []int32
	BusVMag []float64
	BusVAng []float64
	BusLMP  []float64

	GenID []int32
	GenP  []float64
	GenQ  []float64

	BranchID     []int32
	BranchPFrom  []float64
	BranchQFrom  []float64
	BranchPTo    []float64
	BranchQTo    []float64
	HasBranchCol bool
}

// writeString/readString length-prefix strings (int32 byte length, then
// the raw UTF-8 bytes) since the columnar schema has no delimiter.
func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeInt32Col(w io.Writer, col []int32) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(col))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, col)
}

func readInt32Col(r io.Reader) ([]int32, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	col := make([]int32, n)
	if n == 0 {
		return col, nil
	}
	if err := binary.Read(r, binary.LittleEndian, col); err != nil {
		return nil, err
	}
	return col, nil
}

func writeFloat64Col(w io.Writer, col []float64) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(col))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, col)
}

func readFloat64Col(r io.Reader) ([]float64, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	col := make([]float64, n)
	if n == 0 {
		return col, nil
	}
	if err := binary.Read(r, binary.LittleEndian, col); err != nil {
		return nil, err
	}
	return col, nil
}

func writeStringCol(w io.Writer, col []string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(col))); err != nil {
		return err
	}
	for _, s := range col {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringCol(r io.Reader) ([]string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	col := make([]string, n)
	for i := range col {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		col[i] = s
	}
	return col, nil
}

// EncodeRequest writes req to w in protocol_version-first order.
func EncodeRequest(w io.Writer, req Request) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	if err := binary.Write(bw, binary.LittleEndian, int32(consts.PluginProtocolVersion)); err != nil {
		return err
	}
	if err := writeString(bw, req.ProblemClass); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, req.BaseMVA); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, req.Tolerance); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, int32(req.MaxIterations)); err != nil {
		return err
	}

	for _, col := range []error{
		writeInt32Col(bw, req.BusID),
		writeStringCol(bw, req.BusName),
		writeFloat64Col(bw, req.BusVMin),
		writeFloat64Col(bw, req.BusVMax),
		writeFloat64Col(bw, req.BusPLoad),
		writeFloat64Col(bw, req.BusQLoad),
		writeInt32Col(bw, req.GenID),
		writeInt32Col(bw, req.GenBusID),
		writeFloat64Col(bw, req.GenPMin),
		writeFloat64Col(bw, req.GenPMax),
		writeFloat64Col(bw, req.GenQMin),
		writeFloat64Col(bw, req.GenQMax),
		writeFloat64Col(bw, req.GenC0),
		writeFloat64Col(bw, req.GenC1),
		writeFloat64Col(bw, req.GenC2),
		writeInt32Col(bw, req.BranchFrom),
		writeInt32Col(bw, req.BranchTo),
		writeFloat64Col(bw, req.BranchR),
		writeFloat64Col(bw, req.BranchX),
		writeFloat64Col(bw, req.BranchB),
		writeFloat64Col(bw, req.BranchRate),
		writeFloat64Col(bw, req.BranchTap),
		writeFloat64Col(bw, req.BranchShift),
	} {
		if col != nil {
			return col
		}
	}
	return nil
}

// DecodeRequest is the plugin-side counterpart, exercised by the
// transport's own round-trip tests since no real plugin binary ships
// with this module.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := binary.Read(r, binary.LittleEndian, &req.ProtocolVersion); err != nil {
		return req, err
	}
	if int(req.ProtocolVersion) != consts.PluginProtocolVersion {
		return req, fmt.Errorf("plugin: request protocol version %d != %d", req.ProtocolVersion, consts.PluginProtocolVersion)
	}
	var err error
	if req.ProblemClass, err = readString(r); err != nil {
		return req, err
	}
	if err := binary.Read(r, binary.LittleEndian, &req.BaseMVA); err != nil {
		return req, err
	}
	if err := binary.Read(r, binary.LittleEndian, &req.Tolerance); err != nil {
		return req, err
	}
	if err := binary.Read(r, binary.LittleEndian, &req.MaxIterations); err != nil {
		return req, err
	}

	if req.BusID, err = readInt32Col(r); err != nil {
		return req, err
	}
	if req.BusName, err = readStringCol(r); err != nil {
		return req, err
	}
	if req.BusVMin, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BusVMax, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BusPLoad, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BusQLoad, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.GenID, err = readInt32Col(r); err != nil {
		return req, err
	}
	if req.GenBusID, err = readInt32Col(r); err != nil {
		return req, err
	}
	if req.GenPMin, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.GenPMax, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.GenQMin, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.GenQMax, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.GenC0, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.GenC1, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.GenC2, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BranchFrom, err = readInt32Col(r); err != nil {
		return req, err
	}
	if req.BranchTo, err = readInt32Col(r); err != nil {
		return req, err
	}
	if req.BranchR, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BranchX, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BranchB, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BranchRate, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BranchTap, err = readFloat64Col(r); err != nil {
		return req, err
	}
	if req.BranchShift, err = readFloat64Col(r); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeResponse is the plugin-side writer, exercised by the same
// round-trip tests. Unlike EncodeRequest (always the dispatcher's own
// current version), it writes resp.ProtocolVersion verbatim rather than
// consts.PluginProtocolVersion, since a real plugin binary reports its
// own compiled-in version — including, deliberately, a mismatched one a
// test wants to simulate.
func EncodeResponse(w io.Writer, resp Response) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	if err := binary.Write(bw, binary.LittleEndian, resp.ProtocolVersion); err != nil {
		return err
	}
	if err := writeString(bw, resp.Status); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, resp.Objective); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, int32(resp.Iterations)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, resp.SolveTimeMs); err != nil {
		return err
	}
	if err := writeString(bw, resp.ErrorMessage); err != nil {
		return err
	}

	if err := writeInt32Col(bw, resp.BusID); err != nil {
		return err
	}
	if err := writeFloat64Col(bw, resp.BusVMag); err != nil {
		return err
	}
	if err := writeFloat64Col(bw, resp.BusVAng); err != nil {
		return err
	}
	if err := writeFloat64Col(bw, resp.BusLMP); err != nil {
		return err
	}
	if err := writeInt32Col(bw, resp.GenID); err != nil {
		return err
	}
	if err := writeFloat64Col(bw, resp.GenP); err != nil {
		return err
	}
	if err := writeFloat64Col(bw, resp.GenQ); err != nil {
		return err
	}

	hasBranch := int32(0)
	if resp.HasBranchCol {
		hasBranch = 1
	}
	if err := binary.Write(bw, binary.LittleEndian, hasBranch); err != nil {
		return err
	}
	if resp.HasBranchCol {
		if err := writeInt32Col(bw, resp.BranchID); err != nil {
			return err
		}
		if err := writeFloat64Col(bw, resp.BranchPFrom); err != nil {
			return err
		}
		if err := writeFloat64Col(bw, resp.BranchQFrom); err != nil {
			return err
		}
		if err := writeFloat64Col(bw, resp.BranchPTo); err != nil {
			return err
		}
		if err := writeFloat64Col(bw, resp.BranchQTo); err != nil {
			return err
		}
	}
	return nil
}

// DecodeResponse is the dispatcher-side reader. It does not itself reject
// a version mismatch: the caller (pkg/plugin.Invoke) checks
// resp.ProtocolVersion against consts.PluginProtocolVersion and raises
// opferr.ProtocolMismatch before the decoded fields are trusted, per
// spec.md §4.7's "version handshake before any solve is attempted."
// Decoding still proceeds on a mismatch (rather than aborting mid-stream)
// since every protocol version to date shares the same column layout; a
// future breaking version would also need to change this decoder.
func DecodeResponse(r io.Reader) (Response, error) {
	var resp Response
	if err := binary.Read(r, binary.LittleEndian, &resp.ProtocolVersion); err != nil {
		return resp, err
	}
	var err error
	if resp.Status, err = readString(r); err != nil {
		return resp, err
	}
	if err := binary.Read(r, binary.LittleEndian, &resp.Objective); err != nil {
		return resp, err
	}
	if err := binary.Read(r, binary.LittleEndian, &resp.Iterations); err != nil {
		return resp, err
	}
	if err := binary.Read(r, binary.LittleEndian, &resp.SolveTimeMs); err != nil {
		return resp, err
	}
	if resp.ErrorMessage, err = readString(r); err != nil {
		return resp, err
	}

	if resp.BusID, err = readInt32Col(r); err != nil {
		return resp, err
	}
	if resp.BusVMag, err = readFloat64Col(r); err != nil {
		return resp, err
	}
	if resp.BusVAng, err = readFloat64Col(r); err != nil {
		return resp, err
	}
	if resp.BusLMP, err = readFloat64Col(r); err != nil {
		return resp, err
	}
	if resp.GenID, err = readInt32Col(r); err != nil {
		return resp, err
	}
	if resp.GenP, err = readFloat64Col(r); err != nil {
		return resp, err
	}
	if resp.GenQ, err = readFloat64Col(r); err != nil {
		return resp, err
	}

	var hasBranch int32
	if err := binary.Read(r, binary.LittleEndian, &hasBranch); err != nil {
		return resp, err
	}
	resp.HasBranchCol = hasBranch != 0
	if resp.HasBranchCol {
		if resp.BranchID, err = readInt32Col(r); err != nil {
			return resp, err
		}
		if resp.BranchPFrom, err = readFloat64Col(r); err != nil {
			return resp, err
		}
		if resp.BranchQFrom, err = readFloat64Col(r); err != nil {
			return resp, err
		}
		if resp.BranchPTo, err = readFloat64Col(r); err != nil {
			return resp, err
		}
		if resp.BranchQTo, err = readFloat64Col(r); err != nil {
			return resp, err
		}
	}
	return resp, nil
}
