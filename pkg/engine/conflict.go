// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

// isDevpathBusy decides whether candidate c, in StateQueued, is blocked by
// an earlier in-flight or queued event. q is scanned from the head in
// arrival order; only predecessors with a strictly smaller seqnum than c
// can block it.
//
// The step order below is part of the contract (spec.md §4.3): checks 3
// and 4 are identity checks (devnum, ifindex) and must never write
// c.DelayingSeqNum; checks 5 and 6 are path-based and do write it. A
// predecessor can change its devnum, or a later event can reuse an ifindex
// at a different path, so the identity checks are not safely memoizable —
// this asymmetry is intentional (spec.md §9's Open Question) and must be
// preserved exactly, not "optimized" into a single memoized result.
func isDevpathBusy(q *queue, c *Event) bool {
	blocked := false

	q.predecessorsOf(c, func(p *Event) bool {
		// 1. Memo fast-path.
		if p.SeqNum < c.DelayingSeqNum {
			return true // skip; an earlier event already known not to block further back
		}
		if p.SeqNum == c.DelayingSeqNum {
			blocked = true
			return false // the blocker still exists
		}

		// 2. Stop condition.
		if p.SeqNum >= c.SeqNum {
			return false // reached or passed ourselves; NOT BLOCKED
		}

		// 3. Block-device identity (no memo update).
		if c.DevNum.Major != 0 && c.DevNum == p.DevNum && c.IsBlock == p.IsBlock {
			blocked = true
			return false
		}

		// 4. Network-interface identity (no memo update).
		if c.IfIndex > 0 && c.IfIndex == p.IfIndex {
			blocked = true
			return false
		}

		// 5. Rename collision.
		if c.DevPathOld != "" && c.DevPathOld == p.DevPath {
			c.DelayingSeqNum = p.SeqNum
			blocked = true
			return false
		}

		// 6. Path relation.
		n := minLen(p.DevPath, c.DevPath)
		if n == 0 || p.DevPath[:n] != c.DevPath[:n] {
			return true // share no common prefix; skip
		}

		switch {
		case len(p.DevPath) == len(c.DevPath):
			// Same path. Identity already handled above, and names may
			// have swapped, so this is not treated as a blocker when the
			// candidate carries identity.
			if c.DevNum.Major != 0 || c.IfIndex > 0 {
				return true
			}
			c.DelayingSeqNum = p.SeqNum
			blocked = true
			return false
		case len(c.DevPath) > n && c.DevPath[n] == '/':
			// p is an ancestor of c.
			c.DelayingSeqNum = p.SeqNum
			blocked = true
			return false
		case len(p.DevPath) > n && p.DevPath[n] == '/':
			// c is an ancestor of p.
			c.DelayingSeqNum = p.SeqNum
			blocked = true
			return false
		default:
			// Share only a prefix; skip.
			return true
		}
	})

	return blocked
}

func minLen(a, b string) int {
	if len(a) < len(b) {
		return len(a)
	}
	return len(b)
}
