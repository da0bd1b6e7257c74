package journal

import "strings"

// pathNode is one link in the reversed path chain built while walking a
// dentry's ancestors from leaf to root; Chain reverses the walk back into
// root-to-leaf order.
type pathNode struct {
	name string
	next *pathNode
}

// PathChain accumulates path components via Push (called leaf-first) and
// yields them in root-to-leaf order via Path. It exists so callers that
// walk a dentry's ancestor chain do not repeatedly slice and rejoin
// strings.
type PathChain struct {
	head *pathNode // most recently pushed (closest to root)
	n    int
}

// Push adds a component, most-recently-pushed first.
func (c *PathChain) Push(name string) {
	c.head = &pathNode{name: name, next: c.head}
	c.n++
}

// Pop removes the most recently pushed component, if any.
func (c *PathChain) Pop() {
	if c.head == nil {
		return
	}
	c.head = c.head.next
	c.n--
}

// Len reports the number of components currently pushed.
func (c *PathChain) Len() int { return c.n }

// Path renders the chain as an absolute, "/"-joined path. It walks the
// chain by following each node's next pointer until the pointer is nil —
// the original C implementation advanced a raw cursor (`cur++`) instead of
// following `cur->next`, which ran the walk off the end of the list; this
// is the fix documented as a required correction in the design's Open
// Questions.
func (c *PathChain) Path() string {
	if c.head == nil {
		return "/"
	}
	parts := make([]string, c.n)
	i := 0
	for node := c.head; node != nil; node = node.next {
		parts[i] = node.name
		i++
	}
	return "/" + strings.Join(parts, "/")
}

// Compare reports whether two chains render to the same path without
// allocating twice; used by callers that need frequent equality checks
// during traversal.
func (c *PathChain) Compare(other *PathChain) bool {
	return c.Path() == other.Path()
}
