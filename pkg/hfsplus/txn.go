package hfsplus

import (
	"context"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/store/catalog"
)

// sysLocks selects the volume's metadata file locks.
type sysLocks uint8

const (
	lockCatalog sysLocks = 1 << iota
	lockAttributes
	lockBitmap

	lockAll = lockCatalog | lockAttributes | lockBitmap
)

// staged is a node's working state inside an op. Changes are written to
// the catalog through the op's transaction and installed on the Node only
// after the transaction commits.
type staged struct {
	desc  catalog.Descriptor
	attrs catalog.Attributes

	setFlags   nodeFlags
	clearFlags nodeFlags

	// written means attrs reached the catalog, so the node is clean
	written bool
}

// op is the scope of one mutating operation: a transaction, the metadata
// file locks taken under it, and the node state staged for installation.
//
// Internal helpers take an *op so they can run inside a caller's
// transaction. Passing nil makes them begin their own.
type op struct {
	vol *Volume
	ctx context.Context
	tx  catalog.Txn

	held   sysLocks
	nodes  map[*Node]*staged
	order  []*Node
	hooks  []func()
	failed bool
}

// beginOp opens a transaction. Node locks must already be held.
func (v *Volume) beginOp(ctx context.Context) (*op, error) {
	tx, err := v.store.Begin(ctx)
	if err != nil {
		return nil, catalog.WrapIO(err, "begin transaction")
	}
	return &op{vol: v, ctx: ctx, tx: tx, nodes: make(map[*Node]*staged)}, nil
}

// withOp runs fn inside o, or inside a new op when o is nil.
func (v *Volume) withOp(ctx context.Context, o *op, fn func(o *op) error) (err error) {
	if o != nil {
		if err := fn(o); err != nil {
			o.failed = true
			return err
		}
		return nil
	}

	o, err = v.beginOp(ctx)
	if err != nil {
		return err
	}
	defer o.finish(&err)
	return fn(o)
}

// lock takes the given metadata file locks exclusive. Locks already held
// by the op are skipped.
func (o *op) lock(which sysLocks) {
	v := o.vol
	want := which &^ o.held
	if want&lockCatalog != 0 {
		v.catalogLock.Lock()
	}
	if want&lockAttributes != 0 {
		v.attrLock.Lock()
	}
	if want&lockBitmap != 0 {
		v.bitmapLock.Lock()
	}
	o.held |= want
}

// unlock releases the metadata file locks in reverse order.
func (o *op) unlock() {
	v := o.vol
	if o.held&lockBitmap != 0 {
		v.bitmapLock.Unlock()
	}
	if o.held&lockAttributes != 0 {
		v.attrLock.Unlock()
	}
	if o.held&lockCatalog != 0 {
		v.catalogLock.Unlock()
	}
	o.held = 0
}

// finish ends the op. The metadata file locks are released first, then the
// transaction commits, or aborts if *errp is set. Staged node state and
// commit hooks only take effect after a successful commit.
func (o *op) finish(errp *error) {
	o.unlock()

	if *errp != nil || o.failed {
		o.tx.Abort()
		if *errp == nil {
			*errp = catalog.NewError(catalog.ErrIOError, "operation aborted", "")
		}
		return
	}

	if err := o.tx.Commit(); err != nil {
		logger.Error("transaction %s commit failed: %v", o.tx.ID(), err)
		*errp = catalog.WrapIO(err, "commit transaction")
		return
	}

	for _, n := range o.order {
		s := o.nodes[n]
		n.mu.Lock()
		n.desc = s.desc
		n.attrs = s.attrs
		flags := n.flags | s.setFlags
		if s.written {
			flags &^= flagModified | flagDirModification
		}
		n.flags = flags &^ s.clearFlags
		n.mu.Unlock()
	}
	for _, fn := range o.hooks {
		fn()
	}
}

// stage returns the working state of n, snapshotting it on first use.
func (o *op) stage(n *Node) *staged {
	if s, ok := o.nodes[n]; ok {
		return s
	}
	desc, attrs, _ := n.snapshot()
	s := &staged{desc: desc, attrs: attrs}
	o.nodes[n] = s
	o.order = append(o.order, n)
	return s
}

// write persists the staged attributes of n to its catalog record.
func (o *op) write(n *Node) error {
	s := o.stage(n)
	desc := s.desc
	desc.ID = n.id
	if err := o.vol.store.Update(o.ctx, o.tx, &desc, &s.attrs); err != nil {
		return catalog.WrapIO(err, "update catalog record")
	}
	s.written = true
	return nil
}

// onCommit registers fn to run after the transaction commits.
func (o *op) onCommit(fn func()) {
	o.hooks = append(o.hooks, fn)
}

// header applies fn to the volume header and writes it back.
func (o *op) header(fn func(h *catalog.VolumeHeader)) error {
	hdr, err := o.vol.store.ReadHeader(o.ctx, o.tx)
	if err != nil {
		return catalog.WrapIO(err, "read volume header")
	}
	fn(&hdr)
	return catalog.WrapIO(o.vol.store.WriteHeader(o.ctx, o.tx, &hdr), "write volume header")
}

// updateRecord applies fn to the attributes of a record whose node the op
// does not hold locked, such as the hidden metadata folders or ancestors of
// the directories being changed. Nodes already staged in o are updated
// there. Otherwise the catalog record is changed directly and a cached
// node gets the same change once the transaction commits.
func (o *op) updateRecord(id catalog.CNID, fn func(a *catalog.Attributes)) error {
	if n := o.stagedNode(id); n != nil {
		fn(&o.nodes[n].attrs)
		return o.write(n)
	}

	rec, err := o.vol.store.LookupByID(o.ctx, o.tx, id)
	if err != nil {
		return err
	}
	fn(&rec.Attrs)
	if err := o.vol.store.Update(o.ctx, o.tx, &rec.Desc, &rec.Attrs); err != nil {
		return catalog.WrapIO(err, "update catalog record")
	}
	if n := o.vol.cache.peek(id); n != nil {
		o.onCommit(func() {
			n.mu.Lock()
			fn(&n.attrs)
			n.mu.Unlock()
		})
	}
	return nil
}

// stagedNode returns the node staged in o under id, if any.
func (o *op) stagedNode(id catalog.CNID) *Node {
	for _, n := range o.order {
		if n.id == id {
			return n
		}
	}
	return nil
}

// markInconsistent flags the volume for offline repair. Used when storage
// could not be released after the namespace change was already made.
func (o *op) markInconsistent(reason error) {
	logger.Error("marking volume inconsistent: %v", reason)
	if err := o.header(func(h *catalog.VolumeHeader) {
		h.Attributes |= catalog.VolumeInconsistent
	}); err != nil {
		logger.Error("failed to mark volume inconsistent: %v", err)
	}
	o.onCommit(o.vol.metrics.RecordInconsistent)
}
