package dms

// TimeGrid maps shots to their time intervals.
type TimeGrid interface {
	ShotStartTime(i int) float64
	ShotEndTime(i int) float64
}

// UniformGrid splits [0, T] into N equal shots.
type UniformGrid struct {
	N int
	T float64
}

func (g UniformGrid) ShotStartTime(i int) float64 {
	return g.T * float64(i) / float64(g.N)
}

func (g UniformGrid) ShotEndTime(i int) float64 {
	return g.T * float64(i+1) / float64(g.N)
}

// Duration is the length of shot i.
func Duration(g TimeGrid, i int) float64 {
	return g.ShotEndTime(i) - g.ShotStartTime(i)
}
