package mask

// BoundingBox is the smallest axis-aligned rectangle enclosing every occupied
// cell of a mask. Bounds are zero-based and inclusive.
type BoundingBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// Width is XMax-XMin, so a single-column subject has width 0.
func (b BoundingBox) Width() int { return b.XMax - b.XMin }

// Height is YMax-YMin, so a single-row subject has height 0.
func (b BoundingBox) Height() int { return b.YMax - b.YMin }

// Bottom is the lowest occupied row.
func (b BoundingBox) Bottom() int { return b.YMax }

// BoundingBox scans rows and columns independently; a row or column is part
// of the box if it holds at least one occupied cell. ok is false when the
// mask is empty.
func (m *Mask) BoundingBox() (box BoundingBox, ok bool) {
	if m == nil || m.Width == 0 || m.Height == 0 {
		return BoundingBox{}, false
	}

	rows := make([]bool, m.Height)
	cols := make([]bool, m.Width)
	for y := range m.Height {
		row := m.Bits[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v {
				rows[y] = true
				cols[x] = true
			}
		}
	}

	yMin, yMax, found := span(rows)
	if !found {
		return BoundingBox{}, false
	}
	xMin, xMax, _ := span(cols)

	return BoundingBox{XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}, true
}

// LowestRow returns the index of the last row holding an occupied cell.
func (m *Mask) LowestRow() (int, bool) {
	for y := m.Height - 1; y >= 0; y-- {
		for _, v := range m.Bits[y*m.Width : (y+1)*m.Width] {
			if v {
				return y, true
			}
		}
	}
	return 0, false
}

func span(flags []bool) (first, last int, ok bool) {
	first = -1
	for i, v := range flags {
		if !v {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last, first >= 0
}
