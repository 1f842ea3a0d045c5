// Package interval implements an augmented interval tree over closed
// integer ranges [Lo, Hi], supporting O(log n + k) overlap queries. It
// backs the local store's point-lookup cache (component C), the
// replicated store's overlap check, and the merge
// engine's cross-store overlap plan (component E), where each interval
// additionally carries a source tag so overlaps can be classified by
// which side(s) they came from.
package interval

// Entry is one interval stored in a Tree, with an opaque Payload the
// caller can use to recover the originating record.
type Entry struct {
	Lo, Hi  int64
	Payload any
}

func (e Entry) overlaps(lo, hi int64) bool {
	return e.Lo <= hi && lo <= e.Hi
}

type node struct {
	entry       Entry
	max         int64
	left, right *node
	height      int
}

// Tree is an AVL-balanced interval tree keyed on Lo, augmented with the
// max Hi across each subtree so overlap queries can prune branches that
// cannot possibly contain a match.
type Tree struct {
	root *node
	size int
}

// New returns an empty Tree.
func New() *Tree { return &Tree{} }

// Len reports the number of intervals currently stored.
func (t *Tree) Len() int { return t.size }

// Insert adds an interval [lo, hi] with the given payload. Duplicate
// intervals are permitted; each Insert adds a distinct entry.
func (t *Tree) Insert(lo, hi int64, payload any) {
	t.root = insert(t.root, Entry{Lo: lo, Hi: hi, Payload: payload})
	t.size++
}

// Query returns every stored interval that overlaps [lo, hi], in no
// particular order.
func (t *Tree) Query(lo, hi int64) []Entry {
	var out []Entry
	query(t.root, lo, hi, &out)
	return out
}

// Overlaps reports whether any stored interval overlaps [lo, hi],
// short-circuiting on the first match. Used by callers that only need a
// yes/no answer (the merge engine's pre-merge sanity check).
func (t *Tree) Overlaps(lo, hi int64) bool {
	return overlaps(t.root, lo, hi)
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func nmax(n *node) int64 {
	if n == nil {
		return 0
	}
	return n.max
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func update(n *node) {
	n.height = 1 + maxInt(height(n.left), height(n.right))
	n.max = maxInt64(n.entry.Hi, maxInt64(nmax(n.left), nmax(n.right)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func balanceFactor(n *node) int {
	return height(n.left) - height(n.right)
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	update(y)
	update(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	update(x)
	update(y)
	return y
}

func rebalance(n *node) *node {
	update(n)
	bf := balanceFactor(n)
	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

func insert(n *node, e Entry) *node {
	if n == nil {
		return &node{entry: e, height: 1, max: e.Hi}
	}
	if e.Lo < n.entry.Lo {
		n.left = insert(n.left, e)
	} else {
		n.right = insert(n.right, e)
	}
	return rebalance(n)
}

func query(n *node, lo, hi int64, out *[]Entry) {
	if n == nil || nmax(n) < lo {
		return
	}
	query(n.left, lo, hi, out)
	if n.entry.overlaps(lo, hi) {
		*out = append(*out, n.entry)
	}
	if n.entry.Lo > hi {
		return
	}
	query(n.right, lo, hi, out)
}

func overlaps(n *node, lo, hi int64) bool {
	if n == nil || nmax(n) < lo {
		return false
	}
	if overlaps(n.left, lo, hi) {
		return true
	}
	if n.entry.overlaps(lo, hi) {
		return true
	}
	if n.entry.Lo > hi {
		return false
	}
	return overlaps(n.right, lo, hi)
}
