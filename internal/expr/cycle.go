package expr

// Chain is the path of variable keys currently being resolved, outermost
// first. It is immutable: Push returns a new chain sharing its parent, so one
// chain can be handed to many concurrent lookups.
//
// Example cycle:
//
//	a = ${b}+1 → b = ${c}*2 → c = ${a} ← a is already on the chain
//
// A reference to a key already on the chain is left unresolved instead of
// being followed.
type Chain struct {
	parent *Chain
	key    string
	depth  int
}

// Root returns an empty chain.
func Root() *Chain {
	return nil
}

// Push returns a chain extended by key.
func (c *Chain) Push(key string) *Chain {
	return &Chain{parent: c, key: key, depth: c.Depth() + 1}
}

// Contains reports whether key is on the chain.
func (c *Chain) Contains(key string) bool {
	for n := c; n != nil; n = n.parent {
		if n.key == key {
			return true
		}
	}
	return false
}

// Depth returns the number of keys on the chain. A nil chain has depth 0.
func (c *Chain) Depth() int {
	if c == nil {
		return 0
	}
	return c.depth
}

// Keys returns the chain outermost first.
func (c *Chain) Keys() []string {
	keys := make([]string, c.Depth())
	for n := c; n != nil; n = n.parent {
		keys[n.depth-1] = n.key
	}
	return keys
}

// seenSet records every intermediate string produced while resolving one
// expression. A pass that reproduces an earlier string would loop forever.
//
// Not safe for concurrent use: each resolution owns its own set.
type seenSet struct {
	history map[string]bool
}

func newSeenSet() *seenSet {
	return &seenSet{history: make(map[string]bool)}
}

// WouldCycle reports whether s was already produced by an earlier pass.
func (s *seenSet) WouldCycle(v string) bool {
	return s.history[v]
}

// Record marks s as produced.
func (s *seenSet) Record(v string) {
	s.history[v] = true
}

// Size returns the number of distinct strings recorded.
func (s *seenSet) Size() int {
	return len(s.history)
}
