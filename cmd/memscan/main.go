/*
memscan runs one scan round of the memory-scanning engine against a raw
memory dump file (or a pair of dump files, for relative constraints like
Changed or IncreasedBy), and prints the surviving (address, size) regions
as JSON.

It exists as a thin, file-based harness over scandriver.Scan: a real
front-end would supply a process-attached memsource.ByteReader instead of
reading a flat file, but the scan algorithm itself is identical either
way.
*/
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/memquarry/memscan/constraint"
	"github.com/memquarry/memscan/memsource"
	"github.com/memquarry/memscan/scandriver"
	"github.com/memquarry/memscan/snapshot"
	"github.com/memquarry/memscan/valtype"
	"github.com/memquarry/memscan/wire"
)

var (
	dumpPath       = flag.String("dump", "", "path to a raw memory dump file for the current generation (required)")
	prevDumpPath   = flag.String("prev-dump", "", "optional dump file for the previous generation, enabling Unchanged/Changed/Increased/Decreased/IncreasedBy/DecreasedBy")
	base           = flag.String("base", "0x0", "virtual base address the dump represents, hex")
	typeName       = flag.String("type", "u32", "scannable type: u8,i8,u16,i16,u32,i32,u64,i64,f32,f64,bytearray:N")
	endianName     = flag.String("endian", "le", "le or be")
	alignName      = flag.String("align", "auto", "auto, 1, 2, 4, or 8")
	constraintFile = flag.String("constraint-file", "", "path to a JSON (optionally zstd-compressed) wire-encoded constraint tree; overrides -eq/-gt/etc.")
	eqFlag         = flag.String("eq", "", "Eq(value) constraint literal")
	neqFlag        = flag.String("neq", "", "NeQ(value) constraint literal")
	gtFlag         = flag.String("gt", "", "Gt(value) constraint literal")
	geFlag         = flag.String("ge", "", "Ge(value) constraint literal")
	ltFlag         = flag.String("lt", "", "Lt(value) constraint literal")
	leFlag         = flag.String("le", "", "Le(value) constraint literal")
	increasedByFlag = flag.String("increased-by", "", "IncreasedBy(value) constraint literal; requires -prev-dump")
	decreasedByFlag = flag.String("decreased-by", "", "DecreasedBy(value) constraint literal; requires -prev-dump")
	changedFlag    = flag.Bool("changed", false, "Changed constraint; requires -prev-dump")
	unchangedFlag  = flag.Bool("unchanged", false, "Unchanged constraint; requires -prev-dump")
	increasedFlag  = flag.Bool("increased", false, "Increased constraint; requires -prev-dump")
	decreasedFlag  = flag.Bool("decreased", false, "Decreased constraint; requires -prev-dump")
	parallelism    = flag.Int("parallelism", 0, "maximum simultaneous region scans; 0 = runtime.NumCPU()")
	operationName  = flag.String("operation-name", "", "name recorded on the result snapshot; defaults to \"Manual Scan\"")
	out            = flag.String("out", "", "path to write surviving regions as JSON; default stdout")
)

func memscanUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -dump PATH [OPTIONS]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Runs one scan round against a raw memory dump and prints surviving regions.\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = memscanUsage
	shutdown := grail.Init()
	defer shutdown()

	if *dumpPath == "" {
		log.Fatalf("missing required -dump")
	}

	t, err := parseType(*typeName, *endianName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	alignment, err := parseAlignment(*alignName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	baseAddr, err := strconv.ParseUint(strings.TrimPrefix(*base, "0x"), 16, 64)
	if err != nil {
		log.Fatalf("invalid -base: %v", err)
	}

	tree, err := buildTree(t)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cur, err := ioutil.ReadFile(*dumpPath)
	if err != nil {
		log.Fatalf("reading -dump: %v", err)
	}

	p := *parallelism
	if p <= 0 {
		p = runtime.NumCPU()
	}

	raw := []memsource.Region{{BaseAddress: baseAddr, Size: uint64(len(cur))}}
	snap := snapshot.BuildInitialSnapshot(*dumpPath, raw, alignment)

	ctx := vcontext.Background()
	d := scandriver.NewDriver()

	var prev []byte
	if *prevDumpPath != "" {
		prev, err = ioutil.ReadFile(*prevDumpPath)
		if err != nil {
			log.Fatalf("reading -prev-dump: %v", err)
		}
		// Seed the previous generation with one throwaway scan so the real
		// scan below sees it as CanCompare()==true (ReadGroup.ReadAll rotates
		// the current generation into previous on every call).
		if _, err := scandriver.Scan(ctx, scandriver.NewDriver(), snap, constraint.NewLeaf(constraint.Unchanged),
			scandriver.Opts{Reader: fixedReader(prev), Type: t, Alignment: alignment, Parallelism: p}); err != nil {
			log.Fatalf("seeding previous generation: %v", err)
		}
	}

	next, err := scandriver.Scan(ctx, d, snap, tree, scandriver.Opts{
		Reader:        fixedReader(cur),
		Type:          t,
		Alignment:     alignment,
		Parallelism:   p,
		OperationName: *operationName,
	})
	if err != nil {
		log.Fatalf("scan failed (state=%v): %v", d.State(), err)
	}

	if err := writeResults(next); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}

func fixedReader(data []byte) memsource.ByteReader {
	return func(baseAddress uint64, size int, outBuf []byte) (int, error) {
		n := copy(outBuf, data)
		return n, nil
	}
}

type regionJSON struct {
	Address uint64 `json:"address"`
	Size    uint64 `json:"size"`
}

func writeResults(snap *snapshot.Snapshot) error {
	results := make([]regionJSON, 0, len(snap.Regions))
	for _, r := range snap.Regions {
		results = append(results, regionJSON{Address: r.BaseAddress(), Size: r.RegionSize})
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Println(string(data))
		return nil
	}
	return ioutil.WriteFile(*out, data, 0644)
}

func buildTree(t valtype.Type) (constraint.Tree, error) {
	if *constraintFile != "" {
		data, err := ioutil.ReadFile(*constraintFile)
		if err != nil {
			return nil, err
		}
		if tree, err := wire.DecodeCompressed(data); err == nil {
			return tree, nil
		}
		return wire.Decode(data)
	}

	type leafFlag struct {
		kind  constraint.LeafKind
		value string
	}
	for _, lf := range []leafFlag{
		{constraint.Eq, *eqFlag}, {constraint.NeQ, *neqFlag},
		{constraint.Gt, *gtFlag}, {constraint.Ge, *geFlag},
		{constraint.Lt, *ltFlag}, {constraint.Le, *leFlag},
		{constraint.IncreasedBy, *increasedByFlag}, {constraint.DecreasedBy, *decreasedByFlag},
	} {
		if lf.value != "" {
			v, err := parseLiteral(lf.value, t)
			if err != nil {
				return nil, err
			}
			return constraint.NewLeafWithValue(lf.kind, v), nil
		}
	}
	for _, bf := range []struct {
		set  bool
		kind constraint.LeafKind
	}{
		{*changedFlag, constraint.Changed}, {*unchangedFlag, constraint.Unchanged},
		{*increasedFlag, constraint.Increased}, {*decreasedFlag, constraint.Decreased},
	} {
		if bf.set {
			return constraint.NewLeaf(bf.kind), nil
		}
	}
	return nil, fmt.Errorf("no constraint specified: use -constraint-file or one of -eq/-neq/-gt/-ge/-lt/-le/-changed/-unchanged/-increased/-decreased/-increased-by/-decreased-by")
}

func parseLiteral(s string, t valtype.Type) (constraint.Value, error) {
	if t.Kind == valtype.KindByteArray {
		b, err := hex.DecodeString(s)
		if err != nil {
			return constraint.Value{}, fmt.Errorf("invalid bytearray literal %q: %w", s, err)
		}
		return constraint.Bytes(b), nil
	}
	if t.IsFloat() {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return constraint.Value{}, err
		}
		if t.Kind == valtype.KindF32 {
			return constraint.F32(float32(f)), nil
		}
		return constraint.F64(f), nil
	}
	if t.IsSigned() {
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return constraint.Value{}, err
		}
		switch t.Kind {
		case valtype.KindI8:
			return constraint.I8(int8(v)), nil
		case valtype.KindI16:
			return constraint.I16(int16(v)), nil
		case valtype.KindI32:
			return constraint.I32(int32(v)), nil
		default:
			return constraint.I64(v), nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return constraint.Value{}, err
	}
	switch t.Kind {
	case valtype.KindU8:
		return constraint.U8(uint8(v)), nil
	case valtype.KindU16:
		return constraint.U16(uint16(v)), nil
	case valtype.KindU32:
		return constraint.U32(uint32(v)), nil
	default:
		return constraint.U64(v), nil
	}
}

func parseType(name, endian string) (valtype.Type, error) {
	var t valtype.Type
	if strings.HasPrefix(name, "bytearray:") {
		n, err := strconv.Atoi(strings.TrimPrefix(name, "bytearray:"))
		if err != nil {
			return t, fmt.Errorf("invalid bytearray size in %q: %w", name, err)
		}
		return valtype.ByteArray(n), nil
	}
	switch name {
	case "u8":
		t = valtype.U8
	case "i8":
		t = valtype.I8
	case "u16":
		t = valtype.U16
	case "i16":
		t = valtype.I16
	case "u32":
		t = valtype.U32
	case "i32":
		t = valtype.I32
	case "u64":
		t = valtype.U64
	case "i64":
		t = valtype.I64
	case "f32":
		t = valtype.F32
	case "f64":
		t = valtype.F64
	default:
		return t, fmt.Errorf("unknown -type %q", name)
	}
	switch endian {
	case "le":
		return t.WithEndian(valtype.LittleEndian), nil
	case "be":
		return t.WithEndian(valtype.BigEndian), nil
	default:
		return t, fmt.Errorf("unknown -endian %q", endian)
	}
}

func parseAlignment(name string) (valtype.Alignment, error) {
	switch name {
	case "auto":
		return valtype.AlignAuto, nil
	case "1":
		return valtype.Align1, nil
	case "2":
		return valtype.Align2, nil
	case "4":
		return valtype.Align4, nil
	case "8":
		return valtype.Align8, nil
	default:
		return 0, fmt.Errorf("unknown -align %q", name)
	}
}
