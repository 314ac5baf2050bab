package candletime

import "testing"

func TestClassifyBasic(t *testing.T) {
	// M1 windows are 60_000ms wide. Current window starts at 0.
	const tolerance = int64(5000)

	cases := []struct {
		name string
		ts   int64
		want Classification
	}{
		{"same window start", 0, Same},
		{"same window mid", 30_000, Same},
		{"same window last ms", 59_999, Same},
		{"next window", 60_000, NewWindow},
		{"future window", 120_000, NewWindow},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.ts, 0, M1, tolerance)
			if got != c.want {
				t.Fatalf("Classify(%d) = %s, want %s", c.ts, got, c.want)
			}
		})
	}
}

func TestClassifyLateBoundaryInclusive(t *testing.T) {
	// Current window is [60000, 120000) for M1; an event whose lag from
	// 60000 equals tolerance exactly is LateWithin; lag+1 is LateBeyond.
	const tolerance = int64(5000)
	currentWS := int64(60_000)

	withinTS := currentWS - tolerance // lag == tolerance
	if got := Classify(withinTS, currentWS, M1, tolerance); got != LateWithin {
		t.Fatalf("lag==tolerance: got %s, want LateWithin", got)
	}

	beyondTS := withinTS - 1 // lag == tolerance+1
	if got := Classify(beyondTS, currentWS, M1, tolerance); got != LateBeyond {
		t.Fatalf("lag==tolerance+1: got %s, want LateBeyond", got)
	}
}

func TestClassifyFutureDatedEventNeverLate(t *testing.T) {
	// A future-dated event (negative lag) is NewWindow if past current ws,
	// else Same. It can never classify as late.
	got := Classify(1_000_000, 0, S1, 0)
	if got != NewWindow {
		t.Fatalf("future event past current ws: got %s, want NewWindow", got)
	}
}

func TestClassifyScenarioE(t *testing.T) {
	// S1 tolerance=5000ms, active window ws=2000, late event ts=1700.
	got := Classify(1700, 2000, S1, 5000)
	if got != LateWithin {
		t.Fatalf("got %s, want LateWithin", got)
	}
}

func TestClassifyScenarioF(t *testing.T) {
	// Same late event, but active window has advanced to ws=8000.
	got := Classify(1700, 8000, S1, 5000)
	if got != LateBeyond {
		t.Fatalf("got %s, want LateBeyond", got)
	}
}
