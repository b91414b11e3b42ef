package engine

import "github.com/nexcode-project/nexcode-sub000/internal/ot"

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

// piece points into either the original or the add buffer.
type piece struct {
	buf    bufferKind
	offset int
	length int
}

// PieceTable holds live document content. Edits never move existing text;
// inserts land in the add buffer and the piece list is re-spliced, which
// keeps per-keystroke cost proportional to the piece count, not the text.
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	out := make([]rune, 0, pt.Len())
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			out = append(out, pt.original[p.offset:p.offset+p.length]...)
		case bufAdd:
			out = append(out, pt.add[p.offset:p.offset+p.length]...)
		}
	}
	return string(out)
}

// TableMark captures the table's state so a failed durable write can be
// rolled back without re-materializing content. Both buffer headers are
// saved: a full_update swaps original and nils add, so a length alone cannot
// restore them.
type TableMark struct {
	original []rune
	add      []rune
	pieces   []piece
}

func (pt *PieceTable) Mark() TableMark {
	m := TableMark{original: pt.original, add: pt.add}
	m.pieces = make([]piece, len(pt.pieces))
	copy(m.pieces, pt.pieces)
	return m
}

// Rollback restores the table to the marked state. Appends to add after the
// mark only ever write past the captured length, so the saved header still
// sees the marked content.
func (pt *PieceTable) Rollback(m TableMark) {
	pt.original = m.original
	pt.add = m.add
	pt.pieces = m.pieces
}

// ApplyOp mutates the table per op semantics: positions clamp to the
// document bounds, negative lengths count as 0, replace is a delete plus an
// insert at the same position, full_update swaps in fresh content. Unknown
// op types leave the table untouched.
func (pt *PieceTable) ApplyOp(op ot.Operation) {
	pos := op.Position
	if pos < 0 {
		pos = 0
	}
	if n := pt.Len(); pos > n {
		pos = n
	}
	length := op.Length
	if length < 0 {
		length = 0
	}

	switch op.Type {
	case ot.TypeInsert:
		pt.insert(pos, op.Text)
	case ot.TypeDelete:
		pt.delete(pos, length)
	case ot.TypeReplace:
		pt.delete(pos, length)
		pt.insert(pos, op.Text)
	case ot.TypeFullUpdate:
		pt.Reset(op.Text)
	}
}

// Reset discards all state and reloads the table from content.
func (pt *PieceTable) Reset(content string) {
	r := []rune(content)
	pt.original = r
	pt.add = nil
	pt.pieces = nil
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
}

func (pt *PieceTable) insert(pos int, text string) {
	r := []rune(text)
	if len(r) == 0 {
		return
	}
	start := len(pt.add)
	pt.add = append(pt.add, r...)
	np := piece{buf: bufAdd, offset: start, length: len(r)}

	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) {
		pt.pieces = append(pt.pieces, np)
		return
	}

	cur := pt.pieces[idx]
	out := make([]piece, 0, len(pt.pieces)+2)
	out = append(out, pt.pieces[:idx]...)
	if offset > 0 {
		out = append(out, piece{buf: cur.buf, offset: cur.offset, length: offset})
	}
	out = append(out, np)
	if rest := cur.length - offset; rest > 0 {
		out = append(out, piece{buf: cur.buf, offset: cur.offset + offset, length: rest})
	}
	out = append(out, pt.pieces[idx+1:]...)
	pt.pieces = out
}

func (pt *PieceTable) delete(pos, length int) {
	remain := length
	idx, offset := pt.locate(pos)

	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// Whole piece goes; idx now points at the next piece.
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
		} else {
			leftLen := offset
			rightLen := cur.length - offset - take

			out := make([]piece, 0, len(pt.pieces)+1)
			out = append(out, pt.pieces[:idx]...)
			if leftLen > 0 {
				out = append(out, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				out = append(out, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			out = append(out, pt.pieces[idx+1:]...)
			pt.pieces = out
			if leftLen > 0 {
				idx++
			}
			offset = 0
		}

		remain -= take
	}
}

// locate maps a logical rune position to a piece index and an offset inside
// that piece.
func (pt *PieceTable) locate(pos int) (idx, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
