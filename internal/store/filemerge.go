// internal/store/filemerge.go
package store

import "bytes"

// Line-level three-way merge. Regions where only one side diverges from the
// base resolve to that side; identical changes on both sides are accepted
// once; anything else is a conflict region.

// splitInclusive splits content into lines that keep their trailing newline,
// so concatenating the result reproduces the input exactly.
func splitInclusive(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	var lines [][]byte
	start := 0
	for i, b := range content {
		if b == '\n' {
			lines = append(lines, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

// lcsPairs returns matched index pairs between a and b, in order.
func lcsPairs(a, b [][]byte) [][2]int {
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if bytes.Equal(a[i-1], b[j-1]) {
				matrix[i][j] = matrix[i-1][j-1] + 1
			} else if matrix[i-1][j] >= matrix[i][j-1] {
				matrix[i][j] = matrix[i-1][j]
			} else {
				matrix[i][j] = matrix[i][j-1]
			}
		}
	}

	var pairs [][2]int
	i, j := len(a), len(b)
	for i > 0 && j > 0 {
		if bytes.Equal(a[i-1], b[j-1]) {
			pairs = append(pairs, [2]int{i - 1, j - 1})
			i--
			j--
		} else if matrix[i-1][j] >= matrix[i][j-1] {
			i--
		} else {
			j--
		}
	}
	// reverse into ascending order
	for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
		pairs[l], pairs[r] = pairs[r], pairs[l]
	}
	return pairs
}

type mergeRegion struct {
	stable   bool
	base     [][]byte
	left     [][]byte
	right    [][]byte
	conflict bool
}

// alignRegions cuts the three inputs into alternating stable and diff
// regions, anchored on base lines matched by both sides.
func alignRegions(base, left, right [][]byte) []mergeRegion {
	toLeft := make(map[int]int)
	for _, p := range lcsPairs(base, left) {
		toLeft[p[0]] = p[1]
	}
	toRight := make(map[int]int)
	for _, p := range lcsPairs(base, right) {
		toRight[p[0]] = p[1]
	}

	var regions []mergeRegion
	b, l, r := 0, 0, 0
	for b <= len(base) {
		// gather the next run of base lines anchored in both sides, in order
		ab, al, ar := b, l, r
		type anchor struct{ b, l, r int }
		var run []anchor
		for i := b; i < len(base); i++ {
			li, okL := toLeft[i]
			ri, okR := toRight[i]
			if !okL || !okR || li < al || ri < ar {
				if len(run) > 0 {
					break
				}
				continue
			}
			if len(run) > 0 && (i != run[len(run)-1].b+1 || li != run[len(run)-1].l+1 || ri != run[len(run)-1].r+1) {
				break
			}
			run = append(run, anchor{i, li, ri})
			ab, al, ar = i, li, ri
		}
		_ = ab

		if len(run) == 0 {
			// trailing diff region
			if b < len(base) || l < len(left) || r < len(right) {
				regions = append(regions, mergeRegion{
					base:  base[b:],
					left:  left[l:],
					right: right[r:],
				})
			}
			break
		}

		first := run[0]
		if first.b > b || first.l > l || first.r > r {
			regions = append(regions, mergeRegion{
				base:  base[b:first.b],
				left:  left[l:first.l],
				right: right[r:first.r],
			})
		}
		last := run[len(run)-1]
		regions = append(regions, mergeRegion{
			stable: true,
			base:   base[first.b : last.b+1],
			left:   left[first.l : last.l+1],
			right:  right[first.r : last.r+1],
		})
		b, l, r = last.b+1, last.l+1, last.r+1
	}
	return regions
}

func linesEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// mergeFileLines merges left and right against base. The returned flag is
// true when at least one region conflicted; conflict regions appear in the
// output only when markers is set.
func mergeFileLines(base, left, right []byte, markers bool) ([]byte, bool) {
	regions := alignRegions(splitInclusive(base), splitInclusive(left), splitInclusive(right))

	var out bytes.Buffer
	conflicted := false
	for _, reg := range regions {
		if reg.stable {
			for _, line := range reg.base {
				out.Write(line)
			}
			continue
		}
		leftChanged := !linesEqual(reg.base, reg.left)
		rightChanged := !linesEqual(reg.base, reg.right)
		switch {
		case leftChanged && rightChanged && !linesEqual(reg.left, reg.right):
			conflicted = true
			if markers {
				writeConflictMarkers(&out, reg)
			}
		case leftChanged:
			for _, line := range reg.left {
				out.Write(line)
			}
		default:
			for _, line := range reg.right {
				out.Write(line)
			}
		}
	}
	return out.Bytes(), conflicted
}

func writeConflictMarkers(out *bytes.Buffer, reg mergeRegion) {
	out.WriteString("<<<<<<< left\n")
	writeLinesTerminated(out, reg.left)
	out.WriteString("||||||| base\n")
	writeLinesTerminated(out, reg.base)
	out.WriteString("=======\n")
	writeLinesTerminated(out, reg.right)
	out.WriteString(">>>>>>> right\n")
}

func writeLinesTerminated(out *bytes.Buffer, lines [][]byte) {
	for _, line := range lines {
		out.Write(line)
		if !bytes.HasSuffix(line, []byte("\n")) {
			out.WriteByte('\n')
		}
	}
}
