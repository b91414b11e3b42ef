package ot

// Transform adjusts the position of later so it can be applied after earlier,
// for two concurrent ops from different users. Only the insert/insert and
// delete/insert pairs are handled; every other combination passes through
// unchanged and is expected to go through the CAS rebase path instead.
func Transform(earlier, later Operation) Operation {
	if earlier.UserID == later.UserID {
		return later
	}

	switch {
	case earlier.Type == TypeInsert && later.Type == TypeInsert:
		if earlier.Position <= later.Position {
			later.Position += len([]rune(earlier.Text))
		}

	case earlier.Type == TypeDelete && later.Type == TypeInsert:
		if earlier.Position < later.Position {
			n := earlier.Length
			if n < 0 {
				n = 0
			}
			later.Position -= n
			if later.Position < earlier.Position {
				later.Position = earlier.Position
			}
		}
	}
	return later
}

// TransformBatch rebases a short-lived in-flight batch of pending ops over a
// sequence of already-applied ops.
func TransformBatch(applied, pending []Operation) []Operation {
	if len(applied) == 0 || len(pending) == 0 {
		return pending
	}
	out := make([]Operation, len(pending))
	copy(out, pending)
	for i := range out {
		for _, a := range applied {
			out[i] = Transform(a, out[i])
		}
	}
	return out
}
