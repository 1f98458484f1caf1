package hfsplus

import (
	"container/list"
	"sync"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// nodeCache maps CNIDs to materialized Nodes.
//
// Referenced nodes are always kept. Unreferenced ones sit on an LRU list
// and are evicted once the cache grows past max. Eviction only picks
// victims here; the volume flushes them without holding the cache mutex
// and then calls finishEvict.
type nodeCache struct {
	mu    sync.Mutex
	nodes map[catalog.CNID]*Node
	lru   *list.List
	max   int
}

func newNodeCache(max int) *nodeCache {
	return &nodeCache{
		nodes: make(map[catalog.CNID]*Node),
		lru:   list.New(),
		max:   max,
	}
}

// get returns a referenced cached node, or nil.
func (c *nodeCache) get(id catalog.CNID) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[id]
	if !ok {
		return nil
	}
	c.refLocked(n)
	return n
}

// peek returns a cached node without taking a reference. The result may
// only be used to snoop its fields under n.mu.
func (c *nodeCache) peek(id catalog.CNID) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[id]
}

// insert adds a freshly materialized node with one reference. If another
// goroutine cached the same CNID first, that node is referenced and
// returned instead.
func (c *nodeCache) insert(n *Node) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.nodes[n.id]; ok {
		c.refLocked(cur)
		return cur
	}
	n.refs = 1
	c.nodes[n.id] = n
	return n
}

func (c *nodeCache) refLocked(n *Node) {
	n.refs++
	n.evicting = false
	if n.elem != nil {
		c.lru.Remove(n.elem)
		n.elem = nil
	}
}

// release drops one reference.
//
// When the last reference to a deleted node goes away, reclaim is true and
// the caller takes over that reference to reclaim the node's storage.
// Otherwise the node joins the LRU list and victims lists the unreferenced
// nodes the caller must flush and then pass to finishEvict.
func (c *nodeCache) release(n *Node) (reclaim bool, victims []*Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.refs <= 0 {
		return false, nil
	}
	n.refs--
	if n.refs > 0 {
		return false, nil
	}

	n.mu.Lock()
	flags := n.flags
	n.mu.Unlock()

	switch {
	case flags&flagNoExists != 0:
		if c.nodes[n.id] == n {
			delete(c.nodes, n.id)
		}
		return false, nil
	case flags&flagDeleted != 0:
		n.refs = 1
		return true, nil
	}

	n.elem = c.lru.PushFront(n)
	for len(c.nodes)-len(victims) > c.max {
		back := c.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*Node)
		c.lru.Remove(back)
		victim.elem = nil
		victim.evicting = true
		victims = append(victims, victim)
	}
	return false, victims
}

// finishEvict removes a flushed victim unless it was referenced again in
// the meantime.
func (c *nodeCache) finishEvict(n *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.evicting && n.refs == 0 && c.nodes[n.id] == n {
		delete(c.nodes, n.id)
	}
	n.evicting = false
}

// forget removes a node regardless of references. Used once a node's
// record no longer exists.
func (c *nodeCache) forget(n *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nodes[n.id] == n {
		delete(c.nodes, n.id)
	}
	if n.elem != nil {
		c.lru.Remove(n.elem)
		n.elem = nil
	}
}

// dirty returns referenced copies of every modified cached node.
func (c *nodeCache) dirty() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Node
	for _, n := range c.nodes {
		if n.hasFlags(flagModified) {
			c.refLocked(n)
			out = append(out, n)
		}
	}
	return out
}

func (c *nodeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}
