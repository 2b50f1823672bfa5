package plugin

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/monistowl/gat/internal/consts"
	"github.com/monistowl/gat/pkg/gatlog"
	"github.com/monistowl/gat/pkg/network"
	"github.com/monistowl/gat/pkg/opf"
	"github.com/monistowl/gat/pkg/opferr"
)

// CancelToken is the dispatcher's cancellation handle for an in-flight
// plugin solve: a solve is cancellable only at this subprocess boundary
// (§5), so the token's only job is to trigger the same graceful/forceful
// termination sequence a parent-side timeout uses.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelToken allocates a token not yet cancelled.
func NewCancelToken() *CancelToken { return &CancelToken{ch: make(chan struct{})} }

// Cancel triggers the token; safe to call more than once or concurrently.
func (t *CancelToken) Cancel() { t.once.Do(func() { close(t.ch) }) }

// Done returns a channel closed once Cancel has been called.
func (t *CancelToken) Done() <-chan struct{} { return t.ch }

// InvokeOptions carries the per-solve parameters the wire request's
// metadata section needs, plus the dispatcher's parent-side timeout
// (strictly larger than the plugin's own configured timeout).
type InvokeOptions struct {
	BaseMVA       float64
	Tolerance     float64
	MaxIterations int
	Timeout       time.Duration
	LogDir        string // defaults to the registry's root/logs if empty
	Cancel        *CancelToken
}

// terminate sends a graceful termination signal to proc, then waits up
// to consts.PluginGracePeriod seconds on done before forcefully killing
// it — the same graceful/forceful sequence used on both parent-side
// timeout and explicit cancellation (§4.7, §5).
func terminate(proc *os.Process, done <-chan struct{}) {
	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(consts.PluginGracePeriod * time.Second):
		_ = proc.Kill()
	}
}

// Invoke spawns solverID's binary, exchanges the columnar wire protocol
// over its stdin/stdout, and maps its exit code to a typed result. It
// implements pkg/dispatch.Registry's Invoke method.
func (r *Registry) Invoke(net *network.Network, class, solverID string, opts InvokeOptions) (opf.OpfSolution, error) {
	sol := opf.NewSolution(classToMethod(class))

	if !r.IsInstalled(solverID) {
		return sol, opferr.DataValidation("plugin: %q is not installed or risk not accepted", solverID)
	}
	entry, _ := r.lookup(solverID)

	invocationID := uuid.New().String()
	logDir := opts.LogDir
	if logDir == "" {
		logDir = filepath.Join(filepath.Dir(r.path), "logs")
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", solverID, invocationID))
	stderrSink := gatlog.RotatingWriter(logPath, 50, 5, 30)

	cmd := exec.Command(entry.BinaryPath)
	cmd.Stderr = stderrSink

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return sol, opferr.NumericalIssue("plugin: opening stdin pipe: %v", err)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	req := buildRequest(net, class, opts)

	if err := cmd.Start(); err != nil {
		return sol, opferr.DataValidation("plugin: starting %q: %v", solverID, err)
	}

	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- EncodeRequest(stdin, req)
		stdin.Close()
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var cancelCh <-chan struct{}
	if opts.Cancel != nil {
		cancelCh = opts.Cancel.Done()
	}

	var waitErr error
	var timedOut, cancelled bool
	select {
	case waitErr = <-waitDone:
	case <-time.After(opts.Timeout):
		timedOut = true
		terminate(cmd.Process, waitDone)
		waitErr = <-waitDone
	case <-cancelCh:
		cancelled = true
		terminate(cmd.Process, waitDone)
		waitErr = <-waitDone
	}
	writeErr := <-writeErrCh

	if cancelled {
		return sol, opferr.Cancelled()
	}
	if timedOut {
		return sol, opferr.SolverTimeout(opts.Timeout)
	}

	exitCode := exitCodeOf(waitErr)
	switch exitCode {
	case 0:
		// fall through to response parsing below
	case 1:
		return sol, opferr.DataValidation("plugin %q reported malformed input (exit 1)", solverID)
	case 2:
		return sol, opferr.NumericalIssue("plugin %q reported an internal solver error (exit 2)", solverID)
	case 3:
		return sol, opferr.SolverTimeout(opts.Timeout)
	case 139:
		return sol, opferr.NativeCrash(solverID, 139, logPath)
	default:
		if exitCode != 0 {
			return sol, opferr.NativeCrash(solverID, exitCode, logPath)
		}
	}
	if writeErr != nil {
		return sol, opferr.NumericalIssue("plugin: writing request: %v", writeErr)
	}

	resp, err := DecodeResponse(&stdout)
	if err != nil {
		return sol, opferr.DataValidation("plugin: decoding response: %v", err)
	}
	if int(resp.ProtocolVersion) != consts.PluginProtocolVersion {
		return sol, opferr.ProtocolMismatch(consts.PluginProtocolVersion, int(resp.ProtocolVersion))
	}

	switch resp.Status {
	case "infeasible":
		return sol, opferr.Infeasible("plugin %q: %s", solverID, resp.ErrorMessage)
	case "timeout":
		return sol, opferr.SolverTimeout(opts.Timeout)
	case "error":
		return sol, opferr.NumericalIssue("plugin %q: %s", solverID, resp.ErrorMessage)
	}

	return fillSolutionFromResponse(net, resp, classToMethod(class)), nil
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); !ok {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return 128 + int(status.Signal())
		}
		return status.ExitStatus()
	}
	return exitErr.ExitCode()
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

func buildRequest(net *network.Network, class string, opts InvokeOptions) Request {
	req := Request{
		ProtocolVersion: consts.PluginProtocolVersion,
		ProblemClass:    class,
		BaseMVA:         opts.BaseMVA,
		Tolerance:       opts.Tolerance,
		MaxIterations:   int32(opts.MaxIterations),
	}

	for _, b := range net.Buses() {
		req.BusID = append(req.BusID, int32(b.ID))
		req.BusName = append(req.BusName, b.Name)
		req.BusVMin = append(req.BusVMin, b.VMin)
		req.BusVMax = append(req.BusVMax, b.VMax)
		req.BusPLoad = append(req.BusPLoad, b.PLoad)
		req.BusQLoad = append(req.BusQLoad, b.QLoad)
	}
	for _, g := range net.Generators() {
		c0, c1, c2 := costCoefficients(g)
		req.GenID = append(req.GenID, int32(g.ID))
		req.GenBusID = append(req.GenBusID, int32(g.Bus))
		req.GenPMin = append(req.GenPMin, g.PMin)
		req.GenPMax = append(req.GenPMax, g.PMax)
		req.GenQMin = append(req.GenQMin, g.QMin)
		req.GenQMax = append(req.GenQMax, g.QMax)
		req.GenC0 = append(req.GenC0, c0)
		req.GenC1 = append(req.GenC1, c1)
		req.GenC2 = append(req.GenC2, c2)
	}
	for _, br := range net.Branches() {
		if !br.InService {
			continue
		}
		rate := 0.0
		if br.Rate != nil {
			rate = *br.Rate
		}
		req.BranchFrom = append(req.BranchFrom, int32(br.From))
		req.BranchTo = append(req.BranchTo, int32(br.To))
		req.BranchR = append(req.BranchR, br.R)
		req.BranchX = append(req.BranchX, br.X)
		req.BranchB = append(req.BranchB, br.B)
		req.BranchRate = append(req.BranchRate, rate)
		req.BranchTap = append(req.BranchTap, br.EffectiveTap())
		req.BranchShift = append(req.BranchShift, br.Shift)
	}
	return req
}

// costCoefficients extracts the plugin wire format's c0/c1/c2 from a
// generator's CostModel, evaluating around PMin since non-polynomial
// models (piecewise-linear, no-cost) have no exact quadratic form; the
// plugin is told the model only through these three numbers, matching
// the wire schema's fixed columns.
func costCoefficients(g network.Generator) (c0, c1, c2 float64) {
	if poly, ok := g.Cost.(network.Polynomial); ok {
		return poly.ConstantTerm(), poly.LinearTerm(), poly.QuadraticTerm()
	}
	c1 = g.Cost.MarginalCost(g.PMin)
	c0 = g.Cost.Cost(g.PMin) - c1*g.PMin
	return c0, c1, 0
}

func classToMethod(class string) opf.OpfMethod {
	switch class {
	case "dc_opf":
		return opf.DcOpf
	case "socp":
		return opf.SocpRelaxation
	case "ac_opf":
		return opf.AcOpf
	default:
		return opf.AcOpf
	}
}

func fillSolutionFromResponse(net *network.Network, resp Response, method opf.OpfMethod) opf.OpfSolution {
	sol := opf.NewSolution(method)
	sol.Converged = resp.Status == "optimal"
	sol.Objective = resp.Objective
	sol.Iterations = int(resp.Iterations)
	sol.SolveTime = time.Duration(resp.SolveTimeMs) * time.Millisecond

	busByID := make(map[int32]network.Bus, len(resp.BusID))
	for _, b := range net.Buses() {
		busByID[int32(b.ID)] = b
	}
	for i, id := range resp.BusID {
		b := busByID[id]
		sol.BusVMag[b.Name] = resp.BusVMag[i]
		sol.BusVAngle[b.Name] = resp.BusVAng[i]
		sol.BusLMP[b.Name] = resp.BusLMP[i]
	}

	genByID := make(map[int32]network.Generator, len(resp.GenID))
	for _, g := range net.Generators() {
		genByID[int32(g.ID)] = g
	}
	for i, id := range resp.GenID {
		g := genByID[id]
		sol.GenP[g.Name] = resp.GenP[i]
		sol.GenQ[g.Name] = resp.GenQ[i]
	}

	if resp.HasBranchCol {
		branchByID := make(map[int32]network.Branch, len(resp.BranchID))
		for _, br := range net.Branches() {
			branchByID[int32(br.ID)] = br
		}
		for i, id := range resp.BranchID {
			br := branchByID[id]
			key := fmt.Sprintf("%d->%d", br.From, br.To)
			sol.BranchPFrom[key] = resp.BranchPFrom[i]
			sol.BranchQFrom[key] = resp.BranchQFrom[i]
		}
	}

	sol.Provenance = opf.Provenance{SolverUsed: "plugin"}
	return sol
}
