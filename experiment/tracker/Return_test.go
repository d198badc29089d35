package tracker

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/softrl/softrl/timestep"
)

// episode sends a full episode of the argument rewards through a
// Tracker
func episode(tr Tracker, rewards []float64) {
	obs := mat.NewVecDense(1, []float64{0.0})

	tr.Track(ts.New(ts.First, 0.0, 0.99, obs, 0))
	for i, r := range rewards {
		stepType := ts.Mid
		if i == len(rewards)-1 {
			stepType = ts.Last
		}
		tr.Track(ts.New(stepType, r, 0.99, obs, i+1))
	}
}

func TestReturnAccumulatesPerEpisode(t *testing.T) {
	tr := NewReturn("unused.bin").(*Return)

	episode(tr, []float64{-1.0, -0.5, -0.25})
	episode(tr, []float64{1.0, 2.0})

	returns := tr.Returns()
	if len(returns) != 2 {
		t.Fatalf("expected 2 episode returns, got %v", len(returns))
	}
	if math.Abs(returns[0]-(-1.75)) > 1e-12 {
		t.Errorf("expected first return -1.75, got %v", returns[0])
	}
	if math.Abs(returns[1]-3.0) > 1e-12 {
		t.Errorf("expected second return 3, got %v", returns[1])
	}
}

func TestReturnSaveLoadRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	tr := NewReturn(filename)

	episode(tr, []float64{1.0, 2.0, 3.0})

	if err := tr.Save(); err != nil {
		t.Fatalf("could not save returns: %v", err)
	}
	if _, err := os.Stat(filename); err != nil {
		t.Fatalf("save file does not exist: %v", err)
	}

	data, err := LoadData(filename)
	if err != nil {
		t.Fatalf("could not load returns: %v", err)
	}
	if len(data) != 1 || data[0] != 6.0 {
		t.Errorf("expected loaded data [6], got %v", data)
	}
}

func TestEpisodeLength(t *testing.T) {
	tr := NewEpisodeLength("unused.bin").(*EpisodeLength)

	episode(tr, []float64{0.0, 0.0, 0.0, 0.0})
	episode(tr, []float64{0.0})

	lengths := tr.Lengths()
	if len(lengths) != 2 {
		t.Fatalf("expected 2 episode lengths, got %v", len(lengths))
	}
	if lengths[0] != 4.0 || lengths[1] != 1.0 {
		t.Errorf("expected lengths [4 1], got %v", lengths)
	}
}
