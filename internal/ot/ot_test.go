package ot

import "testing"

func TestApplyInsert(t *testing.T) {
	got := Apply("hello", Operation{Type: TypeInsert, Position: 5, Text: " world"})
	if got != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}
}

func TestApplyDelete(t *testing.T) {
	got := Apply("hello world", Operation{Type: TypeDelete, Position: 5, Length: 6})
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestApplyReplace(t *testing.T) {
	got := Apply("hello world", Operation{Type: TypeReplace, Position: 6, Length: 5, Text: "there"})
	if got != "hello there" {
		t.Fatalf("expected %q, got %q", "hello there", got)
	}
}

func TestApplyFullUpdate(t *testing.T) {
	got := Apply("anything", Operation{Type: TypeFullUpdate, Text: "fresh"})
	if got != "fresh" {
		t.Fatalf("expected %q, got %q", "fresh", got)
	}
}

func TestApplyClampsPosition(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		want string
	}{
		{"negative position", Operation{Type: TypeInsert, Position: -5, Text: "x"}, "xabc"},
		{"position past end", Operation{Type: TypeInsert, Position: 100, Text: "x"}, "abcx"},
		{"delete past end", Operation{Type: TypeDelete, Position: 1, Length: 100}, "a"},
		{"negative length is zero", Operation{Type: TypeDelete, Position: 1, Length: -3}, "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Apply("abc", tc.op); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestApplyUnknownTypeIsNoOp(t *testing.T) {
	got := Apply("abc", Operation{Type: "squash", Position: 1})
	if got != "abc" {
		t.Fatalf("unknown op must not mutate content, got %q", got)
	}
}

func TestApplyRuneSafety(t *testing.T) {
	got := Apply("héllo", Operation{Type: TypeDelete, Position: 1, Length: 1})
	if got != "hllo" {
		t.Fatalf("expected %q, got %q", "hllo", got)
	}
}

func TestTransformInsertInsert(t *testing.T) {
	a := Operation{Type: TypeInsert, Position: 2, Text: "abc", UserID: 1}
	b := Operation{Type: TypeInsert, Position: 5, Text: "x", UserID: 2}
	got := Transform(a, b)
	if got.Position != 8 {
		t.Fatalf("expected position 8, got %d", got.Position)
	}

	// Earlier insert after b's position leaves b alone.
	a.Position = 6
	got = Transform(a, b)
	if got.Position != 5 {
		t.Fatalf("expected position 5, got %d", got.Position)
	}
}

func TestTransformDeleteInsert(t *testing.T) {
	a := Operation{Type: TypeDelete, Position: 1, Length: 3, UserID: 1}
	b := Operation{Type: TypeInsert, Position: 6, Text: "x", UserID: 2}
	got := Transform(a, b)
	if got.Position != 3 {
		t.Fatalf("expected position 3, got %d", got.Position)
	}

	// Never shifted before the delete position itself.
	b.Position = 2
	got = Transform(a, b)
	if got.Position != 1 {
		t.Fatalf("expected position 1, got %d", got.Position)
	}
}

func TestTransformSameUserUntouched(t *testing.T) {
	a := Operation{Type: TypeInsert, Position: 0, Text: "abc", UserID: 1}
	b := Operation{Type: TypeInsert, Position: 4, Text: "x", UserID: 1}
	if got := Transform(a, b); got.Position != 4 {
		t.Fatalf("same-user ops must pass through, got position %d", got.Position)
	}
}

func TestTransformUnhandledPairsPassThrough(t *testing.T) {
	a := Operation{Type: TypeDelete, Position: 0, Length: 2, UserID: 1}
	b := Operation{Type: TypeDelete, Position: 4, Length: 1, UserID: 2}
	if got := Transform(a, b); got.Position != 4 {
		t.Fatalf("delete/delete is intentionally unhandled, got position %d", got.Position)
	}
}

func TestTransformBatch(t *testing.T) {
	applied := []Operation{
		{Type: TypeInsert, Position: 0, Text: "hello", UserID: 1, ResultingVersion: 1},
	}
	pending := []Operation{
		{Type: TypeInsert, Position: 0, Text: " world", UserID: 2},
	}
	out := TransformBatch(applied, pending)
	if out[0].Position != 5 {
		t.Fatalf("expected rebased position 5, got %d", out[0].Position)
	}
	if pending[0].Position != 0 {
		t.Fatalf("TransformBatch must not mutate its input")
	}
}
