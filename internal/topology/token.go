package topology

import "strconv"

// AssignToken implements the deterministic token rule: node n of data
// center d (with N_d nodes in that data center) gets token
// n*floor(2^64/N_d) + d*100. Standalone nodes get "0": Server.RegisterNode
// places them as node 0 of the only data center, and AssignToken(0, 0, 1)
// is "0".
func AssignToken(dcIndex, nodeIndexInDC, nodesInDC int) string {
	if nodesInDC <= 0 {
		nodesInDC = 1
	}
	step := maxUint64DivBy(uint64(nodesInDC))
	token := step*uint64(nodeIndexInDC) + uint64(dcIndex)*100
	return strconv.FormatUint(token, 10)
}

// maxUint64DivBy computes floor(2^64 / n), clamped to the nearest
// representable uint64 when n <= 1 (2^64 itself doesn't fit in a uint64).
func maxUint64DivBy(n uint64) uint64 {
	if n <= 1 {
		return ^uint64(0)
	}
	q := ^uint64(0) / n
	if (^uint64(0))%n == n-1 {
		q++
	}
	return q
}
