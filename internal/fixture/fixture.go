// Package fixture is a small line-oriented network description format
// used only to build test networks without repeating verbose struct
// literals. It is explicitly not a vendor-format importer — MATPOWER,
// PSS/E, and CIM stay out of scope — it exists solely to construct the
// §8 scenario networks (A-F) for tests.
//
// Its value parser is adapted from the teacher's netlist tokenizer
// (pkg/netlist/parser.go's regex-based unit-suffix parser for "1k",
// "10M", etc.), retargeted from circuit-element units (ohms, farads,
// henries) to power-system quantities (MW, MVAr, kV, MVA) with the same
// scale-prefix table.
package fixture

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/monistowl/gat/pkg/network"
)

// scalePrefix mirrors the teacher's unitMap, restricted to the prefixes
// a power-system dataset plausibly uses.
var scalePrefix = map[string]float64{
	"G": 1e9,
	"M": 1e6,
	"k": 1e3,
	"m": 1e-3,
}

var valueRE = regexp.MustCompile(`^([-+]?\d*\.?\d+)(G|M|k|m)?([A-Za-z]*)$`)

// Unit names the target unit a raw numeric field is normalized into; a
// plain number with no recognized suffix passes through unscaled (the
// per-unit and raw-$ fields in the network model).
type Unit int

const (
	UnitRaw Unit = iota
	UnitMW
	UnitMVAr
	UnitKV
	UnitMVA
)

// nativeScale returns the factor that converts a value written with the
// given scale prefix and bare unit into the target's native unit, and
// false when bareUnit is not valid for unit: "MW" for power means the
// network field (already in MW) scales by the prefix only, while "W"
// means the raw SI watt and must be divided down into MW.
func nativeScale(unit Unit, prefix string, bareUnit string) (float64, bool) {
	scale := 1.0
	if prefix != "" {
		scale = scalePrefix[prefix]
	}
	switch unit {
	case UnitMW, UnitMVAr:
		switch bareUnit {
		case "MW", "MVAr", "MVAR", "":
			return scale, true
		case "W", "VAr", "VAR":
			return scale / 1e6, true
		}
	case UnitKV:
		switch bareUnit {
		case "kV", "":
			return scale, true
		case "V":
			return scale / 1e3, true
		}
	case UnitMVA:
		switch bareUnit {
		case "MVA", "":
			return scale, true
		case "VA":
			return scale / 1e6, true
		}
	case UnitRaw:
		return scale, true
	}
	return 0, false
}

// ParseQuantity parses a value like "50MW", "220kV", "1.5GVA", or a bare
// "0.1" (UnitRaw, no suffix expected) into target's native unit.
func ParseQuantity(raw string, target Unit) (float64, error) {
	raw = strings.TrimSpace(raw)
	m := valueRE.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("fixture: invalid quantity %q", raw)
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("fixture: invalid number in %q: %w", raw, err)
	}
	scale, ok := nativeScale(target, m[2], m[3])
	if !ok {
		return 0, fmt.Errorf("fixture: unit %q is not valid for this field in %q", m[3], raw)
	}
	return num * scale, nil
}

// Build parses a fixture description and returns a validated Network.
// Grammar (whitespace-separated tokens per line, "#" starts a comment):
//
//	basemva <value>
//	bus <name> kv=<kV> vmin=<pu> vmax=<pu> [slack]
//	branch <from> <to> r=<pu> x=<pu> [b=<pu>] [rate=<MVA>] [tap=<ratio>] [shift=<rad>] [phaseshifter]
//	gen <name> bus=<busname> pmin=<MW> pmax=<MW> qmin=<MVAr> qmax=<MVAr> [cost=<c0,c1,c2>] [condenser]
//	load <name> bus=<busname> p=<MW> q=<MVAr>
func Build(name string, src string) (*network.Network, error) {
	net := network.New(name)
	busIDs := map[string]network.BusId{}

	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		kv := parseKV(fields[1:])

		switch fields[0] {
		case "basemva":
			v, err := ParseQuantity(fields[1], UnitRaw)
			if err != nil {
				return nil, err
			}
			net.SetBaseMVA(v)

		case "bus":
			name := fields[1]
			baseKV, err := ParseQuantity(kv["kv"], UnitKV)
			if err != nil {
				return nil, err
			}
			vMin, err := ParseQuantity(orDefault(kv["vmin"], "0.9"), UnitRaw)
			if err != nil {
				return nil, err
			}
			vMax, err := ParseQuantity(orDefault(kv["vmax"], "1.1"), UnitRaw)
			if err != nil {
				return nil, err
			}
			_, isSlack := kv["slack"]
			busIDs[name] = net.AddBus(name, baseKV, vMin, vMax, isSlack)

		case "branch":
			from, to := fields[1], fields[2]
			r, err := ParseQuantity(kv["r"], UnitRaw)
			if err != nil {
				return nil, err
			}
			x, err := ParseQuantity(kv["x"], UnitRaw)
			if err != nil {
				return nil, err
			}
			b, err := ParseQuantity(orDefault(kv["b"], "0"), UnitRaw)
			if err != nil {
				return nil, err
			}
			tap, err := ParseQuantity(orDefault(kv["tap"], "1.0"), UnitRaw)
			if err != nil {
				return nil, err
			}
			shift, err := ParseQuantity(orDefault(kv["shift"], "0"), UnitRaw)
			if err != nil {
				return nil, err
			}
			var rate *float64
			if rateStr, ok := kv["rate"]; ok {
				v, err := ParseQuantity(rateStr, UnitMVA)
				if err != nil {
					return nil, err
				}
				rate = &v
			}
			_, isPS := kv["phaseshifter"]
			fromID, ok := busIDs[from]
			if !ok {
				return nil, fmt.Errorf("fixture: branch references unknown bus %q", from)
			}
			toID, ok := busIDs[to]
			if !ok {
				return nil, fmt.Errorf("fixture: branch references unknown bus %q", to)
			}
			net.AddBranch(fromID, toID, r, x, b, tap, shift, rate, isPS)

		case "gen":
			genName := fields[1]
			busName, ok := kv["bus"]
			if !ok {
				return nil, fmt.Errorf("fixture: generator %q missing bus=", genName)
			}
			busID, ok := busIDs[busName]
			if !ok {
				return nil, fmt.Errorf("fixture: generator %q references unknown bus %q", genName, busName)
			}
			pMin, err := ParseQuantity(kv["pmin"], UnitMW)
			if err != nil {
				return nil, err
			}
			pMax, err := ParseQuantity(kv["pmax"], UnitMW)
			if err != nil {
				return nil, err
			}
			qMin, err := ParseQuantity(orDefault(kv["qmin"], "0"), UnitMVAr)
			if err != nil {
				return nil, err
			}
			qMax, err := ParseQuantity(orDefault(kv["qmax"], "0"), UnitMVAr)
			if err != nil {
				return nil, err
			}
			cost, err := parseCost(kv["cost"])
			if err != nil {
				return nil, err
			}
			_, isCondenser := kv["condenser"]
			net.AddGenerator(busID, genName, pMin, pMax, qMin, qMax, cost, isCondenser)

		case "load":
			loadName := fields[1]
			busName, ok := kv["bus"]
			if !ok {
				return nil, fmt.Errorf("fixture: load %q missing bus=", loadName)
			}
			busID, ok := busIDs[busName]
			if !ok {
				return nil, fmt.Errorf("fixture: load %q references unknown bus %q", loadName, busName)
			}
			p, err := ParseQuantity(kv["p"], UnitMW)
			if err != nil {
				return nil, err
			}
			q, err := ParseQuantity(orDefault(kv["q"], "0"), UnitMVAr)
			if err != nil {
				return nil, err
			}
			net.AddLoad(busID, loadName, p, q)

		default:
			return nil, fmt.Errorf("fixture: unrecognized directive %q", fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := net.Validate(); err != nil {
		return nil, err
	}
	return net, nil
}

// parseKV splits "key=value" tokens (and bare flag tokens, mapped to "")
// into a lookup map.
func parseKV(tokens []string) map[string]string {
	out := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if eq := strings.IndexByte(t, '='); eq >= 0 {
			out[t[:eq]] = t[eq+1:]
		} else {
			out[t] = ""
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseCost(spec string) (network.CostModel, error) {
	if spec == "" {
		return network.NoCost{}, nil
	}
	parts := strings.Split(spec, ",")
	coeffs := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("fixture: invalid cost coefficient %q: %w", p, err)
		}
		coeffs = append(coeffs, v)
	}
	return network.Polynomial{Coeffs: coeffs}, nil
}
