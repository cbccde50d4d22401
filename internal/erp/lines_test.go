package erp

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLinesAddSetDelete(t *testing.T) {
	t.Parallel()

	lines := NewLines(
		Line{LineNum: 0, ItemCode: "A"},
		Line{LineNum: 1, ItemCode: "B"},
		Line{LineNum: 2, ItemCode: "C"},
	)

	if err := lines.Set(1, Line{ItemCode: "B2", Quantity: decimal.NewFromInt(4)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := lines.At(1); got.ItemCode != "B2" || got.LineNum != 1 {
		t.Fatalf("Set must keep LineNum, got %+v", got)
	}

	idx := lines.Add()
	if idx != 3 || lines.Count() != 4 {
		t.Fatalf("Add returned %d, count %d", idx, lines.Count())
	}
	if lines.At(3).LineNum != -1 {
		t.Fatalf("new line must not have LineNum, got %d", lines.At(3).LineNum)
	}

	if err := lines.Delete(0); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if lines.Count() != 3 || lines.At(0).ItemCode != "B2" {
		t.Fatalf("Delete must shift subsequent lines, got %+v", lines.All())
	}
}

func TestLinesOutOfRange(t *testing.T) {
	t.Parallel()

	var lines Lines
	if err := lines.Set(0, Line{}); err == nil {
		t.Fatal("expected error for Set on empty list")
	}
	if err := lines.Delete(-1); err == nil {
		t.Fatal("expected error for negative index")
	}
}

func TestLinesAllReturnsCopy(t *testing.T) {
	t.Parallel()

	lines := NewLines(Line{ItemCode: "A"})
	all := lines.All()
	all[0].ItemCode = "Z"

	if lines.At(0).ItemCode != "A" {
		t.Fatal("All must return a copy")
	}
}
