package vm

import "testing"

func TestDefaultPolicyBands(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := []struct {
		draw    int
		action  Action
		peerIdx int
	}{
		{1, ActionSendOne, 0},
		{2, ActionSendOne, 1},
		{3, ActionSendAll, 0},
		{4, ActionInternal, 0},
		{7, ActionInternal, 0},
		{10, ActionInternal, 0},
	}
	for _, c := range cases {
		action, peerIdx := p.Classify(c.draw)
		if action != c.action || peerIdx != c.peerIdx {
			t.Fatalf("Classify(%d): got (%v, %d), want (%v, %d)",
				c.draw, action, peerIdx, c.action, c.peerIdx)
		}
	}
}

func TestInternalOnlyPolicy(t *testing.T) {
	p := InternalOnlyPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for draw := 1; draw <= p.DrawMax; draw++ {
		if action, _ := p.Classify(draw); action != ActionInternal {
			t.Fatalf("Classify(%d): got %v, want internal", draw, action)
		}
	}
}

func TestSendAllPolicy(t *testing.T) {
	p := SendAllPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for draw := 1; draw <= p.DrawMax; draw++ {
		if action, _ := p.Classify(draw); action != ActionSendAll {
			t.Fatalf("Classify(%d): got %v, want send_all", draw, action)
		}
	}
}

func TestValidateRejectsOverlap(t *testing.T) {
	p := Policy{
		DrawMax: 10,
		Bands: []Band{
			{Lo: 1, Hi: 3, Action: ActionSendAll},
			{Lo: 3, Hi: 5, Action: ActionSendOne},
		},
	}
	if err := p.Validate(); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestValidateRejectsOutOfRangeBand(t *testing.T) {
	p := Policy{
		DrawMax: 6,
		Bands:   []Band{{Lo: 5, Hi: 8, Action: ActionSendAll}},
	}
	if err := p.Validate(); err == nil {
		t.Fatal("expected range error")
	}
}

func TestValidateRejectsBadDrawMax(t *testing.T) {
	p := Policy{DrawMax: 0}
	if err := p.Validate(); err == nil {
		t.Fatal("expected draw max error")
	}
}

func TestActionString(t *testing.T) {
	if ActionInternal.String() != "internal" ||
		ActionSendOne.String() != "send_one" ||
		ActionSendAll.String() != "send_all" {
		t.Fatal("action names drifted from configuration vocabulary")
	}
}
