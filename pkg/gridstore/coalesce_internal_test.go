package gridstore

import "testing"

func TestScoredistMonotoneAndBounds(t *testing.T) {
	radius := 40.0
	score := 3.0

	atZero := scoredist(0, score, radius)
	atRadius := scoredist(radius, score, radius)
	atTwoRadius := scoredist(2*radius, score, radius)
	beyond := scoredist(3*radius, score, radius)

	if atZero <= atRadius {
		t.Errorf("expected scoredist to decrease with distance: atZero=%v atRadius=%v", atZero, atRadius)
	}
	if atTwoRadius != score {
		t.Errorf("scoredist at 2*radius = %v, want raw score %v", atTwoRadius, score)
	}
	if beyond != score {
		t.Errorf("scoredist beyond 2*radius = %v, want raw score %v", beyond, score)
	}
	if atZero < atRadius || atRadius < atTwoRadius {
		t.Errorf("expected scoredist monotone non-increasing in distance")
	}
}

func TestScoredistZeroRadiusIsScore(t *testing.T) {
	if got := scoredist(5, 2.5, 0); got != 2.5 {
		t.Errorf("scoredist with zero radius = %v, want raw score", got)
	}
}

func TestTileDist(t *testing.T) {
	if d := tileDist(0, 0, 3, 4); d != 5 {
		t.Errorf("tileDist(0,0,3,4) = %v, want 5", d)
	}
}

func TestTruncateRelevWindow(t *testing.T) {
	contexts := []CoalesceContext{
		{Relev: 1.0},
		{Relev: 0.9},
		{Relev: 0.7}, // more than 0.25 below the best, should be cut
		{Relev: 0.1},
	}
	got := truncate(contexts)
	if len(got) != 2 {
		t.Fatalf("expected 2 contexts to survive the relev window, got %d", len(got))
	}
}

func TestTruncateMaxContexts(t *testing.T) {
	contexts := make([]CoalesceContext, maxContexts+10)
	for i := range contexts {
		contexts[i] = CoalesceContext{Relev: 1.0}
	}
	got := truncate(contexts)
	if len(got) != maxContexts {
		t.Fatalf("expected truncation to maxContexts=%d, got %d", maxContexts, len(got))
	}
}
