package tracks

import "math"

// Infeasible marks a forbidden pair in a cost matrix.
const Infeasible = 1e18

// HungarianAssign solves the rectangular assignment problem for an n×m cost
// matrix in O(dim³) with the Kuhn–Munkres method. Rows are detections and
// columns tracks in the manager. It returns the column assigned to each row,
// or -1 when a row stays unassigned. Costs ≥ Infeasible, +Inf and NaN are
// forbidden.
//
// The solver maximises the number of feasible pairs first and then minimises
// their total cost. Forbidden and padding cells are replaced by a penalty
// just above any feasible total so float64 keeps full resolution on the
// feasible costs.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if m == 0 {
		result := make([]int, n)
		for i := range result {
			result[i] = -1
		}
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}

	forbidden := func(v float64) bool {
		return math.IsNaN(v) || math.IsInf(v, 0) || v >= Infeasible
	}

	// Shift feasible costs to be non-negative and size the penalty.
	minCost, maxCost := math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if v := cost[i][j]; !forbidden(v) {
				minCost = math.Min(minCost, v)
				maxCost = math.Max(maxCost, v)
			}
		}
	}
	if math.IsInf(minCost, 1) {
		result := make([]int, n)
		for i := range result {
			result[i] = -1
		}
		return result
	}
	penalty := (maxCost - minCost + 1) * float64(dim+1)

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			if i < n && j < m && !forbidden(cost[i][j]) {
				c[i][j] = cost[i][j] - minCost
			} else {
				c[i][j] = penalty
			}
		}
	}

	// Shortest augmenting paths with row and column potentials. Row and
	// column 0 are a sentinel, so real indices run from 1 to dim.
	const unreached = math.MaxFloat64 / 2

	rowPot := make([]float64, dim+1)
	colPot := make([]float64, dim+1)
	owner := make([]int, dim+1) // row holding each column, 0 when free
	prev := make([]int, dim+1)  // column before this one on the path
	slack := make([]float64, dim+1)
	visited := make([]bool, dim+1)

	for row := 1; row <= dim; row++ {
		owner[0] = row
		col := 0
		for j := 1; j <= dim; j++ {
			slack[j] = unreached
			visited[j] = false
		}

		for {
			visited[col] = true
			r := owner[col]
			step := unreached
			next := -1
			for j := 1; j <= dim; j++ {
				if visited[j] {
					continue
				}
				if reduced := c[r-1][j-1] - rowPot[r] - colPot[j]; reduced < slack[j] {
					slack[j] = reduced
					prev[j] = col
				}
				if slack[j] < step {
					step = slack[j]
					next = j
				}
			}
			if next < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if visited[j] {
					rowPot[owner[j]] += step
					colPot[j] -= step
				} else {
					slack[j] -= step
				}
			}
			col = next
			if owner[col] == 0 {
				break
			}
		}

		// Flip ownership back along the path to the sentinel.
		for col != 0 {
			owner[col] = owner[prev[col]]
			col = prev[col]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if owner[j] > 0 {
			rowAssign[owner[j]-1] = j - 1
		}
	}

	// Padding rows and columns, and forbidden pairs, come back unassigned.
	result := make([]int, n)
	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || forbidden(cost[i][col]) {
			result[i] = -1
		} else {
			result[i] = col
		}
	}

	return result
}
