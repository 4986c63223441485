// Package sandbox runs end-to-end correctness checks of the binary GEMM
// pipeline: it generates matrices on the host, computes the CPU reference,
// replays the same operation on a compute context, and reports element-wise
// mismatches.
package sandbox

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/cpu"
	"github.com/arsalan-anwari/tether-io/internal/device"
	"github.com/arsalan-anwari/tether-io/internal/launcher"
	"github.com/arsalan-anwari/tether-io/internal/metrics"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// Default seeds of the regression harness.
const (
	DefaultSeedA = 7937929
	DefaultSeedB = 732973980
)

// kernelWait bounds the fence wait of one sandbox run.
const kernelWait = time.Second

// apiVersion is the instance version the harness requests.
var apiVersion = types.Version{Variant: 0, Major: 1, Minor: 1, Patch: 0}

// Case is one sandbox configuration.
type Case struct {
	Domain types.DataDomain
	M      uint32
	N      uint32
	KBits  uint32
	SeedA  uint32
	SeedB  uint32
}

// Label renders the case the way run logs reference it.
func (c Case) Label() string {
	return fmt.Sprintf("%s_%dx%d_%dbit", c.Domain, c.M, c.N, c.KBits)
}

// Results summarises one run. FloatModelMismatches counts disagreements
// between the CPU reference and the gonum float model; it is only populated
// for the pm_one domain, where the binary dot equals the float dot.
type Results struct {
	MaxAbsErr            int32
	Mismatches           uint64
	Total                uint64
	FloatModelMismatches uint64
}

// Ok reports whether the device result matched the reference exactly.
func (r Results) Ok() bool {
	return r.Mismatches == 0 && r.MaxAbsErr == 0 && r.FloatModelMismatches == 0
}

// Sandbox pairs a driver selection with a resource tree.
type Sandbox struct {
	driver      types.DeviceDriver
	resourceDir string
	log         *zap.Logger
}

// New creates a sandbox running on the given driver kind.
func New(driver types.DeviceDriver, resourceDir string, log *zap.Logger) *Sandbox {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sandbox{driver: driver, resourceDir: resourceDir, log: log.Named("sandbox")}
}

// Run executes one correctness case end to end.
func (s *Sandbox) Run(c Case) (Results, error) {
	start := time.Now()
	defer func() {
		metrics.SandboxRunDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()
	metrics.SandboxRuns.WithLabelValues(c.Domain.String()).Inc()

	if c.SeedA == 0 {
		c.SeedA = DefaultSeedA
	}
	if c.SeedB == 0 {
		c.SeedB = DefaultSeedB
	}

	cfg, err := config.Load(filepath.Join(s.resourceDir, "settings.json"), s.resourceDir)
	if err != nil {
		return Results{}, fmt.Errorf("%v: %w", err, types.ErrInitFailed)
	}

	kWords := cpu.KWords(c.KBits)

	// Host-side data and reference result.
	a, err := cpu.RandomMatrix(c.Domain, c.M, c.KBits, c.SeedA)
	if err != nil {
		return Results{}, err
	}
	b, err := cpu.RandomMatrix(c.Domain, c.KBits, c.N, c.SeedB)
	if err != nil {
		return Results{}, err
	}
	aBits, err := cpu.PackRowMajor(a, c.M, c.KBits)
	if err != nil {
		return Results{}, err
	}
	bBits, err := cpu.PackColMajor(b, c.N, c.KBits)
	if err != nil {
		return Results{}, err
	}
	cHost, err := cpu.BinMatMul(aBits, bBits, c.M, c.N, c.KBits)
	if err != nil {
		return Results{}, err
	}

	floatMismatches := uint64(0)
	if c.Domain == types.PMOne {
		floatMismatches = crossCheckFloatModel(a, b, cHost, c.M, c.N, c.KBits)
	}

	// Device-side replay.
	ctx, err := device.New(s.driver, s.log)
	if err != nil {
		return Results{}, err
	}
	defer ctx.Exit()

	appName := fmt.Sprintf("binmatmul_%s_%dx%d[%dbit]", c.Domain, c.M, c.N, c.KBits)
	if err := ctx.Init(apiVersion, appName); err != nil {
		return Results{}, err
	}
	if err := ctx.SetDevice(types.FirstComputeCapable); err != nil {
		return Results{}, err
	}

	dA, err := ctx.Allocate(uintptr(len(aBits)*4), types.AllocBase)
	if err != nil {
		return Results{}, err
	}
	dB, err := ctx.Allocate(uintptr(len(bBits)*4), types.AllocBase)
	if err != nil {
		return Results{}, err
	}
	dC, err := ctx.Allocate(uintptr(c.M)*uintptr(c.N)*4, types.AllocBase)
	if err != nil {
		return Results{}, err
	}

	if err := ctx.Upload(dA, wordBytes(aBits), types.UploadSync); err != nil {
		return Results{}, err
	}
	if err := ctx.Upload(dB, wordBytes(bBits), types.UploadSync); err != nil {
		return Results{}, err
	}

	l := launcher.New(ctx, cfg, s.log)
	task, err := l.BinMatMulAuto([]device.Buffer{dA, dB, dC}, c.M, c.N, c.KBits, kWords)
	if err != nil {
		return Results{}, err
	}
	defer ctx.DestroyKernel(task)

	if err := ctx.WaitForLastKernel(kernelWait); err != nil {
		return Results{}, err
	}

	raw := make([]byte, int(c.M)*int(c.N)*4)
	if err := ctx.Download(raw, dC, types.DownloadSync); err != nil {
		return Results{}, err
	}
	cDevice := make([]int32, int(c.M)*int(c.N))
	for i := range cDevice {
		cDevice[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	// Compare.
	results := Results{Total: uint64(len(cHost)), FloatModelMismatches: floatMismatches}
	for i := range cHost {
		e := cDevice[i] - cHost[i]
		if e < 0 {
			e = -e
		}
		if e > results.MaxAbsErr {
			results.MaxAbsErr = e
		}
		if e != 0 {
			results.Mismatches++
		}
	}
	if results.Mismatches > 0 {
		metrics.SandboxMismatches.Add(float64(results.Mismatches))
	}

	s.log.Info("sandbox case finished",
		zap.String("case", c.Label()),
		zap.Uint64("total", results.Total),
		zap.Uint64("mismatches", results.Mismatches),
		zap.Int32("max_abs_err", results.MaxAbsErr))
	return results, nil
}

// RunSweep executes every case and reports the number of failures. A case
// that errors counts as failed; the sweep continues.
func (s *Sandbox) RunSweep(cases []Case) (failed int, err error) {
	for _, c := range cases {
		res, runErr := s.Run(c)
		switch {
		case runErr != nil:
			failed++
			s.log.Error("sandbox case errored", zap.String("case", c.Label()), zap.Error(runErr))
			err = runErr
		case !res.Ok():
			failed++
			s.log.Error("sandbox case mismatched",
				zap.String("case", c.Label()),
				zap.Uint64("mismatches", res.Mismatches),
				zap.Int32("max_abs_err", res.MaxAbsErr))
		}
	}
	return failed, err
}

// GridCases is the standard regression grid: every kBits in {16,32,48,64}
// crossed with square sizes 8..256 in steps of 8.
func GridCases(domain types.DataDomain, seedA, seedB uint32) []Case {
	var cases []Case
	for m := uint32(8); m <= 256; m += 8 {
		for _, kBits := range []uint32{16, 32, 48, 64} {
			cases = append(cases, Case{
				Domain: domain, M: m, N: m, KBits: kBits,
				SeedA: seedA, SeedB: seedB,
			})
		}
	}
	return cases
}

// crossCheckFloatModel recomputes C in the float domain with gonum and
// counts elements where the binary reference disagrees. Only valid for
// pm_one inputs, where sign packing is lossless.
func crossCheckFloatModel(a, b []float32, cHost []int32, m, n, kBits uint32) uint64 {
	am := mat.NewDense(int(m), int(kBits), nil)
	for r := 0; r < int(m); r++ {
		for k := 0; k < int(kBits); k++ {
			am.Set(r, k, float64(a[r*int(kBits)+k]))
		}
	}
	bm := mat.NewDense(int(kBits), int(n), nil)
	for k := 0; k < int(kBits); k++ {
		for col := 0; col < int(n); col++ {
			bm.Set(k, col, float64(b[k*int(n)+col]))
		}
	}

	var res mat.Dense
	res.Mul(am, bm)

	mismatches := uint64(0)
	for r := 0; r < int(m); r++ {
		for col := 0; col < int(n); col++ {
			if int32(res.At(r, col)) != cHost[r*int(n)+col] {
				mismatches++
			}
		}
	}
	return mismatches
}

func wordBytes(words []uint32) []byte {
	raw := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[i*4:], w)
	}
	return raw
}
