package repository

import "hash/fnv"

// ranking is a size-augmented treap over one job's results.
//
// Ordering: overallScore DESC, then resumeID ASC. "less" means ranks
// earlier, so in-order traversal yields the ranked list from best to worst.
// Priorities come from a hash of the id, which keeps the tree balanced in
// expectation and makes its shape reproducible.
type ranking struct {
	root  *node
	score map[string]int
}

type node struct {
	id    string
	score int
	prio  uint64
	left  *node
	right *node
	size  int
}

func newRanking() *ranking {
	return &ranking{score: make(map[string]int)}
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aScore int, aID string, bScore int, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score int) *node {
	if n == nil {
		return &node{id: id, score: score, prio: priority(id), size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score int) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// set places id at score, moving it if it was ranked before.
func (r *ranking) set(id string, score int) {
	if old, ok := r.score[id]; ok {
		if old == score {
			return
		}
		r.root = deleteNode(r.root, id, old)
	}
	r.score[id] = score
	r.root = insert(r.root, id, score)
}

func (r *ranking) len() int { return nsize(r.root) }

// top appends up to limit ids in rank order.
func (r *ranking) top(limit int) []string {
	out := make([]string, 0, min(limit, r.len()))
	collectTop(r.root, limit, &out)
	return out
}

func collectTop(n *node, limit int, out *[]string) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTop(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.id)
	}
	if len(*out) < limit {
		collectTop(n.right, limit, out)
	}
}

// position returns the 1-based position of id, or 0 when unranked.
func (r *ranking) position(id string) int {
	score, ok := r.score[id]
	if !ok {
		return 0
	}
	pos := 0
	for n := r.root; n != nil; {
		switch {
		case n.id == id && n.score == score:
			return pos + nsize(n.left) + 1
		case less(score, id, n.score, n.id):
			n = n.left
		default:
			pos += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}
