package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/zhouzirui/z-think/backend/internal/service/loop"
)

func TestTurnPrinterSkipsReplayedTurns(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	p := newTurnPrinter(&buf)

	// 先补打快照中的发言，随后同一条发言又从事件流到达。
	history := []loop.Turn{
		{ID: "t1", Seat: 0, Speaker: "Skeptic", Content: "too risky"},
		{ID: "t2", Seat: 1, Speaker: "Visionary", Content: "think bigger"},
	}
	for _, turn := range history {
		if !p.Print(turn) {
			t.Fatalf("first print of %s skipped", turn.ID)
		}
	}
	if p.Print(history[1]) {
		t.Fatal("turn delivered by both snapshot and event was printed twice")
	}
	if !p.Print(loop.Turn{ID: "t3", Speaker: "Manager", Content: "focus", Interjection: true}) {
		t.Fatal("new interjection skipped")
	}

	out := buf.String()
	if strings.Count(out, "think bigger") != 1 {
		t.Fatalf("expected one copy of t2, got:\n%s", out)
	}
	if !strings.Contains(out, "[Manager] focus") || !strings.Contains(out, "[Skeptic] too risky") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
