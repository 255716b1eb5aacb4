package storage

import (
	"encoding/json"
	"io"
)

type ExportData struct {
	Meta     RunMetadata `json:"meta"`
	Steps    int         `json:"steps"`
	Times    []float64   `json:"times"`
	States   [][]float64 `json:"states"`
	Controls [][]float64 `json:"controls"`
}

// ExportJSON writes the run as a single indented JSON document.
func ExportJSON(w io.Writer, meta RunMetadata, traj Trajectory) error {
	data := ExportData{
		Meta:     meta,
		Steps:    len(traj.Times),
		Times:    traj.Times,
		States:   make([][]float64, len(traj.States)),
		Controls: make([][]float64, len(traj.Controls)),
	}
	for i, s := range traj.States {
		data.States[i] = s
	}
	for i, c := range traj.Controls {
		data.Controls[i] = c
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
