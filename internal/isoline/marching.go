package isoline

// Streaming marching squares over the survival surface. The sweep walks the
// grid two rows at a time so the default resolution never holds the full
// surface in memory; crossing points are computed once per grid edge, keyed
// by edge identity, so shared endpoints of adjacent cells are bit-identical
// and chains link without tolerance matching.

// Point is a location in uniform coordinates.
type Point struct {
	U float64 `json:"u"`
	V float64 `json:"v"`
}

// edgeKey names one grid edge: the horizontal edge from (i,j) to (i+1,j), or
// the vertical edge from (i,j) to (i,j+1).
type edgeKey struct {
	vert bool
	i, j int
}

type segment struct {
	a, b edgeKey
}

// cell edge labels
const (
	edgeB = iota
	edgeR
	edgeT
	edgeL
)

// cellEdges resolves a corner occupancy mask (bit0=bottom-left,
// bit1=bottom-right, bit2=top-right, bit3=top-left; a bit is set when the
// corner value exceeds the level) to the crossed edge pairs. The two saddle
// masks are split by the cell-center average.
func cellEdges(mask int, centerInside bool) [][2]int {
	switch mask {
	case 1, 14:
		return [][2]int{{edgeL, edgeB}}
	case 2, 13:
		return [][2]int{{edgeB, edgeR}}
	case 3, 12:
		return [][2]int{{edgeL, edgeR}}
	case 4, 11:
		return [][2]int{{edgeR, edgeT}}
	case 6, 9:
		return [][2]int{{edgeB, edgeT}}
	case 7, 8:
		return [][2]int{{edgeL, edgeT}}
	case 5:
		if centerInside {
			return [][2]int{{edgeT, edgeL}, {edgeB, edgeR}}
		}
		return [][2]int{{edgeL, edgeB}, {edgeR, edgeT}}
	case 10:
		if centerInside {
			return [][2]int{{edgeL, edgeB}, {edgeR, edgeT}}
		}
		return [][2]int{{edgeB, edgeR}, {edgeT, edgeL}}
	}
	return nil
}

// traceSurvival extracts the level set surface(u,v) == level over axis x
// axis, returning every disjoint branch in row-major discovery order along
// with the surface range seen during the sweep. Branches come back empty
// when the level is never crossed.
func traceSurvival(surface func(u, v float64) float64, axis []float64, level float64) (branches [][]Point, sMin, sMax float64) {
	n := len(axis)
	if n < 2 {
		return nil, 0, 0
	}

	points := make(map[edgeKey]Point)
	var segs []segment

	evalRow := func(j int, dst []float64) {
		for i, u := range axis {
			dst[i] = surface(u, axis[j])
		}
	}

	prev := make([]float64, n)
	cur := make([]float64, n)
	evalRow(0, prev)
	sMin, sMax = prev[0], prev[0]
	for _, v := range prev {
		sMin = min(sMin, v)
		sMax = max(sMax, v)
	}

	// crossing interpolators, one per edge orientation
	horizontal := func(i, j int, row []float64) Point {
		a, b := row[i], row[i+1]
		t := (level - a) / (b - a)
		t = min(max(t, 0), 1)
		return Point{U: axis[i] + t*(axis[i+1]-axis[i]), V: axis[j]}
	}
	vertical := func(i, j int, lo, hi []float64) Point {
		a, b := lo[i], hi[i]
		t := (level - a) / (b - a)
		t = min(max(t, 0), 1)
		return Point{U: axis[i], V: axis[j] + t*(axis[j+1]-axis[j])}
	}

	for j := 0; j+1 < n; j++ {
		evalRow(j+1, cur)
		for _, v := range cur {
			sMin = min(sMin, v)
			sMax = max(sMax, v)
		}
		for i := 0; i+1 < n; i++ {
			c0, c1, c2, c3 := prev[i], prev[i+1], cur[i+1], cur[i]
			mask := 0
			if c0 > level {
				mask |= 1
			}
			if c1 > level {
				mask |= 2
			}
			if c2 > level {
				mask |= 4
			}
			if c3 > level {
				mask |= 8
			}
			if mask == 0 || mask == 15 {
				continue
			}
			center := (c0 + c1 + c2 + c3) / 4
			for _, pair := range cellEdges(mask, center > level) {
				var keys [2]edgeKey
				for k, e := range pair {
					switch e {
					case edgeB:
						key := edgeKey{vert: false, i: i, j: j}
						if _, ok := points[key]; !ok {
							points[key] = horizontal(i, j, prev)
						}
						keys[k] = key
					case edgeT:
						key := edgeKey{vert: false, i: i, j: j + 1}
						if _, ok := points[key]; !ok {
							points[key] = horizontal(i, j+1, cur)
						}
						keys[k] = key
					case edgeL:
						key := edgeKey{vert: true, i: i, j: j}
						if _, ok := points[key]; !ok {
							points[key] = vertical(i, j, prev, cur)
						}
						keys[k] = key
					case edgeR:
						key := edgeKey{vert: true, i: i + 1, j: j}
						if _, ok := points[key]; !ok {
							points[key] = vertical(i+1, j, prev, cur)
						}
						keys[k] = key
					}
				}
				segs = append(segs, segment{a: keys[0], b: keys[1]})
			}
		}
		prev, cur = cur, prev
	}

	return linkSegments(segs, points), sMin, sMax
}

// linkSegments joins segments sharing edge identities into polyline
// branches. Each edge touches at most two segments, so every branch is a
// simple open chain or a closed loop; branches are emitted in order of their
// smallest contained segment index, and loops repeat their first point at
// the end.
func linkSegments(segs []segment, points map[edgeKey]Point) [][]Point {
	if len(segs) == 0 {
		return nil
	}
	adj := make(map[edgeKey][]int, len(points))
	for idx, s := range segs {
		adj[s.a] = append(adj[s.a], idx)
		adj[s.b] = append(adj[s.b], idx)
	}

	used := make([]bool, len(segs))
	var branches [][]Point

	takeNext := func(at edgeKey) (int, bool) {
		for _, idx := range adj[at] {
			if !used[idx] {
				return idx, true
			}
		}
		return 0, false
	}
	otherEnd := func(idx int, at edgeKey) edgeKey {
		if segs[idx].a == at {
			return segs[idx].b
		}
		return segs[idx].a
	}

	for start := range segs {
		if used[start] {
			continue
		}
		used[start] = true
		chain := []edgeKey{segs[start].a, segs[start].b}

		// grow forward from the tail
		closed := false
		for {
			idx, ok := takeNext(chain[len(chain)-1])
			if !ok {
				break
			}
			used[idx] = true
			next := otherEnd(idx, chain[len(chain)-1])
			if next == chain[0] {
				closed = true
				break
			}
			chain = append(chain, next)
		}
		// grow backward from the head for open chains
		if !closed {
			var back []edgeKey
			at := chain[0]
			for {
				idx, ok := takeNext(at)
				if !ok {
					break
				}
				used[idx] = true
				at = otherEnd(idx, at)
				back = append(back, at)
			}
			if len(back) > 0 {
				for lo, hi := 0, len(back)-1; lo < hi; lo, hi = lo+1, hi-1 {
					back[lo], back[hi] = back[hi], back[lo]
				}
				chain = append(back, chain...)
			}
		}

		pts := make([]Point, 0, len(chain)+1)
		for _, key := range chain {
			pts = append(pts, points[key])
		}
		if closed {
			pts = append(pts, points[chain[0]])
		}
		branches = append(branches, pts)
	}
	return branches
}
