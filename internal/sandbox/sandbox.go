// Package sandbox materialises the isolated working directory of one
// simulation run: a copy of the model template plus the boundary, initial
// condition, soil and snow input files generated from a parameter sample.
package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/permafrost.glue/internal/forcing"
	"github.com/banshee-data/permafrost.glue/internal/fsutil"
	"github.com/banshee-data/permafrost.glue/internal/glue"
)

// Input file names, relative to the run directory.
const (
	BoundaryFile = "in/bound.txt"
	InitialFile  = "in/initial.txt"
	MineralFile  = "in/mineral.txt"
	SnowFile     = "in/snow.txt"
)

// Defaults for the generated inputs.
const (
	DefaultMaxDepth           = 120.0
	DefaultInitialTemperature = -2.19
)

// SoilParameters is the column order of the soil property row.
var SoilParameters = []string{"VWC", "a", "b", "TVHC", "FVHC", "THC", "FHC"}

// ErrSandboxIO is matched by SandboxIOError.
var ErrSandboxIO = errors.New("sandbox: i/o failure")

// SandboxIOError reports a failed filesystem step while preparing a run.
type SandboxIOError struct {
	Index int
	Op    string
	Path  string
	Err   error
}

func (e *SandboxIOError) Error() string {
	return fmt.Sprintf("sandbox: sample %d: %s %s: %v", e.Index, e.Op, e.Path, e.Err)
}

func (e *SandboxIOError) Unwrap() error { return e.Err }

func (e *SandboxIOError) Is(target error) bool { return target == ErrSandboxIO }

// RunContext is the working area owned by one sample for the duration of its
// run.
type RunContext struct {
	Index   int
	BatchID string
	Dir     string
	Sample  glue.ParameterSample
}

// Path resolves rel inside the run directory.
func (rc *RunContext) Path(rel string) string {
	return filepath.Join(rc.Dir, filepath.FromSlash(rel))
}

// Config describes where runs live and how inputs are generated.
type Config struct {
	WorkDir            string
	BatchID            string
	Template           fs.FS // may be nil for backends that need no static assets
	FS                 fsutil.FileSystem
	InitialTemperature float64 // interior control points of the initial profile
	MaxDepth           float64
	SnowDensity        float64
	SoilParameters     []string
}

// Sandbox prepares run directories for one batch.
type Sandbox struct {
	cfg Config
}

// New returns a sandbox, filling unset Config fields with defaults.
// InitialTemperature is used as given.
func New(cfg Config) *Sandbox {
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.SnowDensity == 0 {
		cfg.SnowDensity = DefaultSnowDensity
	}
	if len(cfg.SoilParameters) == 0 {
		cfg.SoilParameters = SoilParameters
	}
	return &Sandbox{cfg: cfg}
}

// RunDir returns the directory used for sample index. Directories are keyed by
// batch id and index so concurrent batches never share a path.
func (s *Sandbox) RunDir(index int) string {
	return filepath.Join(s.cfg.WorkDir, s.cfg.BatchID, fmt.Sprintf("run_%d", index))
}

// Prepare recreates the run directory for index from scratch and writes all
// model inputs. Any directory left by an earlier run with the same index is
// removed first.
func (s *Sandbox) Prepare(index int, sample glue.ParameterSample, f forcing.Series) (*RunContext, error) {
	rc := &RunContext{Index: index, BatchID: s.cfg.BatchID, Dir: s.RunDir(index), Sample: sample}
	fsys := s.cfg.FS

	if err := fsys.RemoveAll(rc.Dir); err != nil {
		return nil, &SandboxIOError{Index: index, Op: "remove", Path: rc.Dir, Err: err}
	}
	if err := fsys.MkdirAll(rc.Path("in"), 0o755); err != nil {
		return nil, &SandboxIOError{Index: index, Op: "mkdir", Path: rc.Dir, Err: err}
	}
	if err := fsys.MkdirAll(rc.Path("out"), 0o755); err != nil {
		return nil, &SandboxIOError{Index: index, Op: "mkdir", Path: rc.Dir, Err: err}
	}
	if s.cfg.Template != nil {
		if err := fsutil.CopyFS(fsys, rc.Dir, s.cfg.Template); err != nil {
			return nil, &SandboxIOError{Index: index, Op: "copy template", Path: rc.Dir, Err: err}
		}
	}

	soil, err := s.soilRow(sample)
	if err != nil {
		return nil, &SandboxIOError{Index: index, Op: "soil row", Path: rc.Path(MineralFile), Err: err}
	}

	files := []struct {
		rel  string
		data []byte
	}{
		{BoundaryFile, seriesFile(f.Temperature)},
		{InitialFile, initialFile(s.cfg.InitialTemperature, s.cfg.MaxDepth)},
		{MineralFile, soil},
		{SnowFile, seriesFile(SnowDepth(f.Temperature, f.Precipitation, s.cfg.SnowDensity))},
	}
	for _, file := range files {
		if err := fsys.WriteFile(rc.Path(file.rel), file.data, 0o644); err != nil {
			return nil, &SandboxIOError{Index: index, Op: "write", Path: rc.Path(file.rel), Err: err}
		}
	}
	return rc, nil
}

// Release removes the run directory.
func (s *Sandbox) Release(rc *RunContext) error {
	if rc == nil {
		return nil
	}
	if err := s.cfg.FS.RemoveAll(rc.Dir); err != nil {
		return &SandboxIOError{Index: rc.Index, Op: "remove", Path: rc.Dir, Err: err}
	}
	return nil
}

// ReleaseBatch removes the batch directory once no run is in flight.
func (s *Sandbox) ReleaseBatch() error {
	dir := filepath.Join(s.cfg.WorkDir, s.cfg.BatchID)
	if err := s.cfg.FS.RemoveAll(dir); err != nil {
		return &SandboxIOError{Index: -1, Op: "remove", Path: dir, Err: err}
	}
	return nil
}

func (s *Sandbox) soilRow(sample glue.ParameterSample) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("1\n1\t1\n")
	for _, name := range s.cfg.SoilParameters {
		v, ok := sample.Values[name]
		if !ok {
			return nil, fmt.Errorf("sample has no %q parameter", name)
		}
		buf.WriteString(round2(v))
		buf.WriteByte('\t')
	}
	buf.WriteString(formatFloat(s.cfg.MaxDepth))
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// seriesFile renders a count header and one 1-based (step, value) row per
// element.
func seriesFile(values []float64) []byte {
	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(len(values)))
	buf.WriteByte('\n')
	for i, v := range values {
		buf.WriteString(strconv.Itoa(i + 1))
		buf.WriteByte('\t')
		buf.WriteString(round2(v))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// initialFile renders the four-point initial temperature profile: surface and
// base at 0 °C, the two interior points at the reference temperature.
func initialFile(ref, maxDepth float64) []byte {
	var buf bytes.Buffer
	buf.WriteString("1\t4\nDEPTH\tTEMP\n")
	fmt.Fprintf(&buf, "-1.5\t0\n5\t%s\n80\t%s\n%s\t0\n", formatFloat(ref), formatFloat(ref), formatFloat(maxDepth))
	return buf.Bytes()
}

func round2(v float64) string {
	r := math.Round(v*100) / 100
	if r == 0 {
		r = 0 // drop negative zero
	}
	return formatFloat(r)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
