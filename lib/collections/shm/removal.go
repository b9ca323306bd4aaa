package shm

import (
	"encoding/binary"

	"github.com/ValentinKolb/scoll/lib/scheduler"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/cockroachdb/errors"
)

var _ scheduler.Task = (*removalTask)(nil)

// frame is a directory on the path of a removal task and the slot it is working on
type frame struct {
	Dir    txn.ObjectID
	Offset uint32
}

// removalTask removes a detached subtree depth first, a few objects per step.
// All progress is kept in its fields, so the task continues where it stopped after
// every step and after a restart.
type removalTask struct {
	Top     txn.ObjectID // root of the subtree
	Current txn.ObjectID // node that is drained or descended into, 0 when done
	Stack   []frame      // directories from Top to Current
}

func newRemovalTask(top txn.ObjectID) *removalTask {
	return &removalTask{Top: top, Current: top}
}

func (t *removalTask) Kind() txn.Kind { return KindRemovalTask }

func (t *removalTask) done() bool {
	return t.Current == 0 && len(t.Stack) == 0
}

// Step removes objects of the subtree until shouldContinue returns false. Every unit
// of work removes one entry with its boxes, one emptied leaf, or descends one level.
func (t *removalTask) Step(tx *txn.Txn, shouldContinue func() bool) (bool, error) {
	for !t.done() {
		if err := t.unit(tx); err != nil {
			return false, err
		}
		if t.done() {
			break
		}
		if !shouldContinue() {
			return false, nil
		}
	}
	log.Debugf("removed subtree %d", t.Top)
	return true, nil
}

func (t *removalTask) unit(tx *txn.Txn) error {
	n, err := txn.NewRef[*node](t.Current).Get(tx)
	if errors.Is(err, txn.ErrObjectNotFound) {
		return t.ascend(tx)
	}
	if err != nil {
		return errors.Wrapf(err, "node %d", t.Current)
	}

	if !n.isLeaf() {
		t.Stack = append(t.Stack, frame{Dir: t.Current})
		t.Current = n.dir.Children[0]
		return nil
	}

	for b, head := range n.leaf.Buckets {
		if head == 0 {
			continue
		}
		if err := tx.MarkForUpdate(n); err != nil {
			return err
		}
		e, err := txn.NewRef[*entry](head).Get(tx)
		if errors.Is(err, txn.ErrObjectNotFound) {
			n.leaf.Buckets[b] = 0
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "entry %d", head)
		}
		n.leaf.Buckets[b] = e.Next
		if n.leaf.Count > 0 {
			n.leaf.Count--
		}
		if err := removeIfExists(tx, e.Key); err != nil {
			return err
		}
		if err := removeIfExists(tx, e.Value); err != nil {
			return err
		}
		return tx.Remove(head)
	}

	if err := tx.Remove(t.Current); err != nil {
		return err
	}
	return t.ascend(tx)
}

// ascend continues with the next child of the innermost directory. Directories
// without further children are removed.
func (t *removalTask) ascend(tx *txn.Txn) error {
	t.Current = 0
	for len(t.Stack) > 0 {
		f := &t.Stack[len(t.Stack)-1]
		dir, err := txn.NewRef[*node](f.Dir).Get(tx)
		if errors.Is(err, txn.ErrObjectNotFound) {
			t.Stack = t.Stack[:len(t.Stack)-1]
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "node %d", f.Dir)
		}
		if dir.isLeaf() {
			return errors.AssertionFailedf("node %d on the removal stack is a leaf", f.Dir)
		}

		// a child occupies contiguous slots
		children := dir.dir.Children
		finished := children[f.Offset]
		for int(f.Offset) < len(children) && children[f.Offset] == finished {
			f.Offset++
		}
		if int(f.Offset) < len(children) {
			t.Current = children[f.Offset]
			return nil
		}

		if err := tx.Remove(f.Dir); err != nil {
			return err
		}
		t.Stack = t.Stack[:len(t.Stack)-1]
	}
	return nil
}

func (t *removalTask) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 8+8+4+12*len(t.Stack))
	data = binary.BigEndian.AppendUint64(data, uint64(t.Top))
	data = binary.BigEndian.AppendUint64(data, uint64(t.Current))
	data = binary.BigEndian.AppendUint32(data, uint32(len(t.Stack)))
	for _, f := range t.Stack {
		data = binary.BigEndian.AppendUint64(data, uint64(f.Dir))
		data = binary.BigEndian.AppendUint32(data, f.Offset)
	}
	return data, nil
}

func (t *removalTask) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	t.Top = txn.ObjectID(d.u64("top"))
	t.Current = txn.ObjectID(d.u64("current"))
	n := int(d.u32("stack count"))
	if d.err == nil && n*12 > len(d.data) {
		return errors.Newf("decode removal task: invalid stack count %d", n)
	}
	t.Stack = make([]frame, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		t.Stack = append(t.Stack, frame{Dir: txn.ObjectID(d.u64("frame")), Offset: d.u32("frame")})
	}
	return d.finish("removal task")
}
