package txn

import (
	"sort"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// entry is the state of one object inside a transaction
type entry struct {
	obj     Object // nil if the object is absent or removed
	version uint64 // version that was read, 0 if it was read as absent
	read    bool   // the version must be validated at commit
	dirty   bool   // the object is written at commit
	created bool   // the object was created by this transaction
	removed bool   // the object is deleted at commit
}

// Txn is a transaction on the object store.
//
// A transaction reads from the snapshot given by the write index of the backend at
// begin. Objects that changed after the snapshot make every access fail with
// ErrConflict. Writes are buffered and sent as one batch on commit, the backend
// validates all versions that were read and applies the batch atomically.
//
// Thread-safety: A Txn must only be used by one goroutine at a time.
type Txn struct {
	id    uuid.UUID
	mgr   *Manager
	store store.IStore
	start uint64

	objects map[ObjectID]*entry
	ids     map[Object]ObjectID

	bindingReads  map[string]ObjectID
	bindingWrites map[string]ObjectID // 0 removes the binding

	hooks []func()
	done  bool
}

func newTxn(mgr *Manager, start uint64) *Txn {
	return &Txn{
		id:            uuid.New(),
		mgr:           mgr,
		store:         mgr.store,
		start:         start,
		objects:       make(map[ObjectID]*entry),
		ids:           make(map[Object]ObjectID),
		bindingReads:  make(map[string]ObjectID),
		bindingWrites: make(map[string]ObjectID),
	}
}

// ID returns the unique id of the transaction (used for logging)
func (tx *Txn) ID() string {
	return tx.id.String()
}

// Start returns the write index of the snapshot the transaction reads from
func (tx *Txn) Start() uint64 {
	return tx.start
}

// OnCommit registers fn to run after the transaction committed successfully.
// Hooks run in registration order and are dropped if the transaction aborts.
func (tx *Txn) OnCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}

func (tx *Txn) check() error {
	if tx.done {
		return ErrTxnDone
	}
	return nil
}

func (tx *Txn) conflict(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConflict, format, args...)
}

// --------------------------------------------------------------------------
// Objects
// --------------------------------------------------------------------------

// Create stores obj as a new object and returns its id
func (tx *Txn) Create(obj Object) (ObjectID, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	if _, ok := tx.ids[obj]; ok {
		return 0, errors.AssertionFailedf("object %T is already managed by transaction %s", obj, tx.id)
	}
	id, err := tx.mgr.allocateID()
	if err != nil {
		return 0, err
	}
	tx.objects[id] = &entry{obj: obj, created: true, dirty: true}
	tx.ids[obj] = id
	return id, nil
}

// Get returns the object id. Repeated calls return the same instance.
// It fails with ErrObjectNotFound if the object does not exist.
func (tx *Txn) Get(id ObjectID) (Object, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, errors.Wrap(ErrObjectNotFound, "nil reference")
	}
	if e, ok := tx.objects[id]; ok {
		if e.obj == nil {
			return nil, errors.Wrapf(ErrObjectNotFound, "object %d", id)
		}
		return e.obj, nil
	}

	rec, found, err := tx.store.Read(uint64(id))
	if err != nil {
		return nil, errors.Wrapf(err, "read object %d", id)
	}

	if !found {
		// the record may be a tombstone that was already collected
		_, collected, err := tx.store.Horizon()
		if err != nil {
			return nil, errors.Wrap(err, "read horizon")
		}
		if tx.start < collected {
			return nil, tx.conflict("object %d is missing and the snapshot %d is older than the collected index %d", id, tx.start, collected)
		}
		tx.objects[id] = &entry{read: true}
		return nil, errors.Wrapf(ErrObjectNotFound, "object %d", id)
	}

	if rec.Version > tx.start {
		return nil, tx.conflict("object %d changed at %d after snapshot %d", id, rec.Version, tx.start)
	}

	if rec.Deleted {
		tx.objects[id] = &entry{read: true}
		return nil, errors.Wrapf(ErrObjectNotFound, "object %d", id)
	}

	obj, err := decodeObject(rec.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "object %d", id)
	}
	tx.objects[id] = &entry{obj: obj, version: rec.Version, read: true}
	tx.ids[obj] = id
	return obj, nil
}

// GetForUpdate returns the object id and marks it as modified
func (tx *Txn) GetForUpdate(id ObjectID) (Object, error) {
	obj, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	tx.objects[id].dirty = true
	return obj, nil
}

// MarkForUpdate marks an object returned by this transaction as modified
func (tx *Txn) MarkForUpdate(obj Object) error {
	if err := tx.check(); err != nil {
		return err
	}
	id, ok := tx.ids[obj]
	if !ok {
		return errors.AssertionFailedf("object %T is not managed by transaction %s", obj, tx.id)
	}
	e := tx.objects[id]
	if e.obj == nil {
		return errors.Wrapf(ErrObjectNotFound, "object %d", id)
	}
	e.dirty = true
	return nil
}

// Remove deletes the object id.
// It fails with ErrObjectNotFound if the object does not exist.
func (tx *Txn) Remove(id ObjectID) error {
	obj, err := tx.Get(id)
	if err != nil {
		return err
	}
	e := tx.objects[id]
	delete(tx.ids, obj)
	if e.created {
		// never stored, nothing to delete
		delete(tx.objects, id)
		return nil
	}
	e.obj = nil
	e.dirty = false
	e.removed = true
	return nil
}

// --------------------------------------------------------------------------
// Bindings
// --------------------------------------------------------------------------

// Binding returns the object bound to name.
// It fails with ErrNameNotBound if there is no binding. The binding is validated at commit.
func (tx *Txn) Binding(name string) (ObjectID, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	if id, ok := tx.bindingWrites[name]; ok {
		if id == 0 {
			return 0, errors.Wrapf(ErrNameNotBound, "%q", name)
		}
		return id, nil
	}
	id, ok := tx.bindingReads[name]
	if !ok {
		raw, found, err := tx.store.Binding(name)
		if err != nil {
			return 0, errors.Wrapf(err, "read binding %q", name)
		}
		if found {
			id = ObjectID(raw)
		}
		tx.bindingReads[name] = id
	}
	if id == 0 {
		return 0, errors.Wrapf(ErrNameNotBound, "%q", name)
	}
	return id, nil
}

// SetBinding binds name to id, replacing an existing binding
func (tx *Txn) SetBinding(name string, id ObjectID) error {
	if err := tx.check(); err != nil {
		return err
	}
	if id == 0 {
		return errors.AssertionFailedf("cannot bind %q to the nil reference", name)
	}
	tx.bindingWrites[name] = id
	return nil
}

// RemoveBinding removes the binding of name.
// It fails with ErrNameNotBound if there is no binding.
func (tx *Txn) RemoveBinding(name string) error {
	if _, err := tx.Binding(name); err != nil {
		return err
	}
	tx.bindingWrites[name] = 0
	return nil
}

// NextBoundName returns the first bound name that is greater than name, including the
// changes of this transaction. The result is not validated at commit.
func (tx *Txn) NextBoundName(name string) (string, bool, error) {
	if err := tx.check(); err != nil {
		return "", false, err
	}

	// next stored name that this transaction did not remove
	stored, storedOk := "", false
	cursor := name
	for {
		next, found, err := tx.store.NextBinding(cursor)
		if err != nil {
			return "", false, errors.Wrapf(err, "next binding after %q", cursor)
		}
		if !found {
			break
		}
		if id, written := tx.bindingWrites[next]; written && id == 0 {
			cursor = next
			continue
		}
		stored, storedOk = next, true
		break
	}

	// smallest name bound by this transaction
	local := make([]string, 0, len(tx.bindingWrites))
	for n, id := range tx.bindingWrites {
		if id != 0 && n > name {
			local = append(local, n)
		}
	}
	if len(local) > 0 {
		sort.Strings(local)
		if !storedOk || local[0] < stored {
			return local[0], true, nil
		}
	}
	return stored, storedOk, nil
}

// --------------------------------------------------------------------------
// Commit
// --------------------------------------------------------------------------

// batch collects the read set and write set of the transaction
func (tx *Txn) batch() (db.Batch, error) {
	var b db.Batch

	ids := make([]ObjectID, 0, len(tx.objects))
	for id := range tx.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e := tx.objects[id]
		if e.read {
			b.Reads = append(b.Reads, db.ReadCheck{ID: uint64(id), Version: e.version})
		}
		switch {
		case e.removed:
			b.Writes = append(b.Writes, db.Write{ID: uint64(id), Delete: true})
		case e.dirty:
			data, err := encodeObject(e.obj)
			if err != nil {
				return db.Batch{}, errors.Wrapf(err, "object %d", id)
			}
			b.Writes = append(b.Writes, db.Write{ID: uint64(id), Data: data})
		}
	}

	for name, id := range tx.bindingReads {
		b.BindingReads = append(b.BindingReads, db.BindingCheck{Name: name, ID: uint64(id)})
	}
	for name, id := range tx.bindingWrites {
		b.Bindings = append(b.Bindings, db.BindingWrite{Name: name, ID: uint64(id)})
	}
	return b, nil
}

// commit sends the batch of the transaction to the backend and finishes the transaction.
// Transactions without writes finish without contacting the backend.
func (tx *Txn) commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	tx.done = true

	b, err := tx.batch()
	if err != nil {
		return err
	}
	if b.IsReadOnly() {
		return nil
	}

	if _, err := tx.store.Commit(b); err != nil {
		var se *store.Error
		if errors.As(err, &se) && se.Code == store.RetCConflict {
			return errors.Wrapf(ErrConflict, "commit of %s rejected: %v", tx.id, err)
		}
		return errors.Wrapf(err, "commit of %s", tx.id)
	}
	return nil
}

func (tx *Txn) runHooks() {
	for _, fn := range tx.hooks {
		fn()
	}
}
