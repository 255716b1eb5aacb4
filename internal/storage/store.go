package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
	feedbackFile   = "feedback.json"
)

var ErrNoFeedback = errors.New("storage: run has no feedback gains")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata describes one saved plan or rollout.
type RunMetadata struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Model     string             `json:"model"`
	Solver    string             `json:"solver,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Horizon   int                `json:"horizon"`
	Dt        float64            `json:"dt"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Trajectory is a sampled run. Controls may be one shorter than States.
type Trajectory struct {
	Times    []float64
	States   []dynamo.State
	Controls []dynamo.Control
}

// FromResult adapts a simulator result.
func FromResult(r *dynamo.Result) Trajectory {
	return Trajectory{Times: r.Times, States: r.States, Controls: r.Controls}
}

// Plan samples a stage-wise solution at multiples of dt.
func Plan(x []dynamo.State, u []dynamo.Control, dt float64) Trajectory {
	times := make([]float64, len(x))
	for k := range times {
		times[k] = float64(k) * dt
	}
	return Trajectory{Times: times, States: x, Controls: u}
}

type feedbackJSON struct {
	Dt    float64       `json:"dt"`
	Gains [][][]float64 `json:"gains"`
}

// Save writes a run directory and returns its id. K may be nil.
func (s *Store) Save(meta RunMetadata, traj Trajectory, K []*mat.Dense) (string, error) {
	now := time.Now()
	meta.ID = fmt.Sprintf("%s_%s_%d", meta.Model, meta.Kind, now.UnixNano())
	meta.Timestamp = now
	if meta.Metrics == nil {
		meta.Metrics = map[string]float64{}
	}
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeTrajectory(filepath.Join(runDir, trajectoryFile), traj); err != nil {
		return "", err
	}
	if K != nil {
		fb := feedbackJSON{Dt: meta.Dt, Gains: make([][][]float64, len(K))}
		for k, g := range K {
			r, _ := g.Dims()
			fb.Gains[k] = make([][]float64, r)
			for i := 0; i < r; i++ {
				fb.Gains[k][i] = mat.Row(nil, i, g)
			}
		}
		if err := writeJSON(filepath.Join(runDir, feedbackFile), fb); err != nil {
			return "", err
		}
	}
	return meta.ID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTrajectory(path string, traj Trajectory) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if len(traj.States) > 0 {
		header := []string{"time"}
		for i := range traj.States[0] {
			header = append(header, fmt.Sprintf("x%d", i))
		}
		numControls := 0
		if len(traj.Controls) > 0 {
			numControls = len(traj.Controls[0])
		}
		for i := 0; i < numControls; i++ {
			header = append(header, fmt.Sprintf("u%d", i))
		}
		if err := w.Write(header); err != nil {
			return err
		}

		for i := range traj.States {
			row := []string{strconv.FormatFloat(traj.Times[i], 'g', -1, 64)}
			for _, val := range traj.States[i] {
				row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
			}
			for j := 0; j < numControls; j++ {
				if i < len(traj.Controls) {
					row = append(row, strconv.FormatFloat(traj.Controls[i][j], 'g', -1, 64))
				} else {
					row = append(row, "")
				}
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Timestamp.Equal(runs[j].Timestamp) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadTrajectory reads the CSV back. Empty control cells end the control
// series.
func (s *Store) LoadTrajectory(runID string) (Trajectory, error) {
	var traj Trajectory
	file, err := os.Open(filepath.Join(s.baseDir, runID, trajectoryFile))
	if err != nil {
		return traj, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return traj, err
	}
	if len(records) < 2 {
		return traj, nil
	}

	header := records[0]
	nx := 0
	for _, h := range header[1:] {
		if len(h) > 0 && h[0] == 'x' {
			nx++
		}
	}

	for line, record := range records[1:] {
		if len(record) != len(header) {
			return traj, fmt.Errorf("%s line %d: %d fields, want %d", trajectoryFile, line+2, len(record), len(header))
		}
		vals := make([]float64, len(record))
		hasControl := len(record) > 1+nx
		for j, cell := range record {
			if cell == "" && j > nx {
				hasControl = false
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return traj, fmt.Errorf("%s line %d: %w", trajectoryFile, line+2, err)
			}
			vals[j] = v
		}
		traj.Times = append(traj.Times, vals[0])
		traj.States = append(traj.States, dynamo.State(vals[1:1+nx]))
		if hasControl {
			traj.Controls = append(traj.Controls, dynamo.Control(vals[1+nx:]))
		}
	}
	return traj, nil
}

// LoadFeedback returns the stored gains and their stage length.
func (s *Store) LoadFeedback(runID string) ([]*mat.Dense, float64, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, feedbackFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNoFeedback
		}
		return nil, 0, err
	}
	var fb feedbackJSON
	if err := json.Unmarshal(data, &fb); err != nil {
		return nil, 0, err
	}
	K := make([]*mat.Dense, len(fb.Gains))
	for k, rows := range fb.Gains {
		if len(rows) == 0 || len(rows[0]) == 0 {
			return nil, 0, fmt.Errorf("gain %d is empty: %w", k, dynamo.ErrDimensionMismatch)
		}
		K[k] = mat.NewDense(len(rows), len(rows[0]), nil)
		for i, row := range rows {
			if len(row) != len(rows[0]) {
				return nil, 0, fmt.Errorf("gain %d row %d: %w", k, i, dynamo.ErrDimensionMismatch)
			}
			K[k].SetRow(i, row)
		}
	}
	return K, fb.Dt, nil
}
