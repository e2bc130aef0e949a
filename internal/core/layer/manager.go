package layer

import (
	"strings"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// Members is the view of the annotation store the manager needs.
type Members interface {
	Exists(id string) bool
	IDsInLayer(layerID string) []string
	CountInLayer(layerID string) int
}

// Field names a replicated layer attribute.
type Field string

const (
	FieldName    Field = "name"
	FieldVisible Field = "visible"
	FieldLocked  Field = "locked"
)

// AllFields lists every replicated layer attribute.
var AllFields = []Field{FieldName, FieldVisible, FieldLocked}

// Change is a stamped write to one layer. Nil fields are left alone.
type Change struct {
	LayerID string
	Name    *string
	Visible *bool
	Locked  *bool
	Delete  bool
	Stamp   domain.Stamp
}

// stamps holds the last write to each field of a layer.
type stamps map[Field]domain.Stamp

func (s stamps) newest() domain.Stamp {
	var n domain.Stamp
	for _, st := range s {
		if n.Less(st) {
			n = st
		}
	}
	return n
}

// tombstone remembers a deleted layer.
type tombstone struct {
	layer  *domain.Layer
	fields stamps
}

// Manager holds the layers of one session.
//
// Manager is not safe for concurrent use.
type Manager struct {
	members Members
	layers  map[string]*domain.Layer
	fields  map[string]stamps
	order   []string
	now     func() time.Time

	// deletes holds the newest delete stamp per layer id. An entry for a
	// live layer is a pending delete that waits for the layer to empty.
	deletes map[string]domain.Stamp
	tombs   map[string]*tombstone
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager holding only the default layer.
func NewManager(members Members, opts ...Option) *Manager {
	m := &Manager{
		members: members,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reset()
	return m
}

func (m *Manager) reset() {
	def := domain.DefaultLayer()
	def.CreatedAt = m.now().UnixMilli()
	m.layers = map[string]*domain.Layer{def.ID: def}
	m.fields = map[string]stamps{def.ID: {}}
	m.order = []string{def.ID}
	m.deletes = make(map[string]domain.Stamp)
	m.tombs = make(map[string]*tombstone)
}

// CreateLayer creates a visible, unlocked layer and returns it.
func (m *Manager) CreateLayer(name string, st domain.Stamp) (*domain.Layer, error) {
	id, err := domain.NewLayerID()
	if err != nil {
		return nil, err
	}
	return m.CreateWithID(id, name, st)
}

// CreateWithID creates a layer with a caller supplied id. Creating an id that
// already exists renames it.
func (m *Manager) CreateWithID(id, name string, st domain.Stamp) (*domain.Layer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}
	l := &domain.Layer{ID: id, Name: name, Visible: true, CreatedAt: m.createdAt(st)}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if existing, ok := m.layers[id]; ok {
		existing.Name = name
		m.fields[id][FieldName] = st
		return existing.Clone(), nil
	}
	m.put(l, stamps{FieldName: st, FieldVisible: st, FieldLocked: st})
	delete(m.tombs, id)
	return l.Clone(), nil
}

// ToggleVisibility flips the visibility of a layer and returns the new value.
func (m *Manager) ToggleVisibility(id string, st domain.Stamp) (bool, error) {
	l, ok := m.layers[id]
	if !ok {
		return false, domain.ErrLayerNotFound.WithDetails(id)
	}
	l.Visible = !l.Visible
	m.fields[id][FieldVisible] = st
	return l.Visible, nil
}

// SetVisible sets the visibility of a layer.
func (m *Manager) SetVisible(id string, visible bool, st domain.Stamp) error {
	l, ok := m.layers[id]
	if !ok {
		return domain.ErrLayerNotFound.WithDetails(id)
	}
	l.Visible = visible
	m.fields[id][FieldVisible] = st
	return nil
}

// SetLocked locks or unlocks a layer.
func (m *Manager) SetLocked(id string, locked bool, st domain.Stamp) error {
	l, ok := m.layers[id]
	if !ok {
		return domain.ErrLayerNotFound.WithDetails(id)
	}
	l.Locked = locked
	m.fields[id][FieldLocked] = st
	return nil
}

// Delete removes an empty layer. The default layer cannot be deleted.
func (m *Manager) Delete(id string, st domain.Stamp) error {
	if id == domain.DefaultLayerID {
		return domain.ErrInvalidArgument.WithDetails("default layer cannot be deleted")
	}
	if _, ok := m.layers[id]; !ok {
		return domain.ErrLayerNotFound.WithDetails(id)
	}
	if n := m.members.CountInLayer(id); n > 0 {
		return domain.ErrLayerNotEmpty.WithDetails(id)
	}
	m.deletes[id] = st
	m.bury(id)
	return nil
}

// Apply applies a replicated change and returns the resulting layer. Each
// field is written only if ch is newer than its last write, so replicas that
// see the same changes in any order agree.
//
// A delete removes the layer once it is empty and no field was written after
// the delete; until then it stays pending. A write newer than the delete
// revives a deleted layer. changed reports whether the visible state moved;
// on a delete the returned layer is the removed one.
func (m *Manager) Apply(ch Change) (l *domain.Layer, changed bool, err error) {
	if ch.LayerID == "" {
		return nil, false, domain.ErrValidation.WithDetails("layer id is required")
	}
	if ch.Delete {
		return m.applyDelete(ch)
	}

	var name string
	if ch.Name != nil {
		name = strings.TrimSpace(*ch.Name)
		if len(name) > domain.MaxLayerNameLength {
			return nil, false, domain.ErrValidation.WithDetails("layer name too long")
		}
	}

	cur, ok := m.layers[ch.LayerID]
	if !ok {
		if del, found := m.deletes[ch.LayerID]; found && !del.Less(ch.Stamp) {
			// Buried by a newer delete.
			return nil, false, nil
		}
		cur = m.revive(ch.LayerID, ch.Stamp.Timestamp)
		changed = true
	}
	fs := m.fields[ch.LayerID]

	if ch.Name != nil && name != "" && fs[FieldName].Less(ch.Stamp) {
		changed = changed || cur.Name != name
		cur.Name = name
		fs[FieldName] = ch.Stamp
	}
	if ch.Visible != nil && fs[FieldVisible].Less(ch.Stamp) {
		changed = changed || cur.Visible != *ch.Visible
		cur.Visible = *ch.Visible
		fs[FieldVisible] = ch.Stamp
	}
	if ch.Locked != nil && fs[FieldLocked].Less(ch.Stamp) {
		changed = changed || cur.Locked != *ch.Locked
		cur.Locked = *ch.Locked
		fs[FieldLocked] = ch.Stamp
	}
	return cur.Clone(), changed, nil
}

func (m *Manager) applyDelete(ch Change) (*domain.Layer, bool, error) {
	if ch.LayerID == domain.DefaultLayerID {
		return nil, false, domain.ErrInvalidArgument.WithDetails("default layer cannot be deleted")
	}
	if del, ok := m.deletes[ch.LayerID]; !ok || del.Less(ch.Stamp) {
		m.deletes[ch.LayerID] = ch.Stamp
	}
	return m.Collect(ch.LayerID)
}

// Restore makes sure layerID exists, reviving it from its tombstone or
// creating it visible and unlocked. It is used when a replicated annotation
// lands in a layer this replica has deleted or not heard of yet; the
// annotation wins over the delete. created reports whether the layer was
// missing.
func (m *Manager) Restore(layerID string, ts int64) (l *domain.Layer, created bool) {
	if layerID == "" {
		layerID = domain.DefaultLayerID
	}
	if cur, ok := m.layers[layerID]; ok {
		return cur.Clone(), false
	}
	return m.revive(layerID, ts).Clone(), true
}

// Collect removes layerID if a pending delete is newer than every write to
// the layer and the layer is empty. It returns the removed layer.
func (m *Manager) Collect(layerID string) (*domain.Layer, bool, error) {
	l, ok := m.layers[layerID]
	if !ok || layerID == domain.DefaultLayerID {
		return nil, false, nil
	}
	del, ok := m.deletes[layerID]
	if !ok || del.Less(m.fields[layerID].newest()) {
		return nil, false, nil
	}
	if m.members.CountInLayer(layerID) > 0 {
		return nil, false, nil
	}
	removed := l.Clone()
	m.bury(layerID)
	return removed, true, nil
}

func (m *Manager) bury(id string) {
	m.tombs[id] = &tombstone{layer: m.layers[id], fields: m.fields[id]}
	delete(m.layers, id)
	delete(m.fields, id)
	for i, lid := range m.order {
		if lid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) revive(id string, ts int64) *domain.Layer {
	if t, ok := m.tombs[id]; ok {
		delete(m.tombs, id)
		m.put(t.layer, t.fields)
		return t.layer
	}
	if ts <= 0 {
		ts = m.now().UnixMilli()
	}
	l := &domain.Layer{ID: id, Name: id, Visible: true, CreatedAt: ts}
	m.put(l, stamps{})
	return l
}

func (m *Manager) put(l *domain.Layer, fs stamps) {
	if _, ok := m.layers[l.ID]; !ok {
		m.order = append(m.order, l.ID)
	}
	m.layers[l.ID] = l
	m.fields[l.ID] = fs
}

func (m *Manager) createdAt(st domain.Stamp) int64 {
	if st.Timestamp > 0 {
		return st.Timestamp
	}
	return m.now().UnixMilli()
}

// Get returns a copy of a layer.
func (m *Manager) Get(id string) (*domain.Layer, bool) {
	l, ok := m.layers[id]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// List returns all layers in creation order, default layer first.
func (m *Manager) List() []*domain.Layer {
	out := make([]*domain.Layer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.layers[id].Clone())
	}
	return out
}

// Len returns the number of layers.
func (m *Manager) Len() int {
	return len(m.order)
}

// Members returns the ids of the annotations in a layer, in creation order.
func (m *Manager) Members(id string) ([]string, error) {
	if _, ok := m.layers[id]; !ok {
		return nil, domain.ErrLayerNotFound.WithDetails(id)
	}
	return m.members.IDsInLayer(id), nil
}

// CheckAssignable reports whether annotations may be placed in layerID.
// An empty id means the default layer.
func (m *Manager) CheckAssignable(layerID string) error {
	if layerID == "" {
		layerID = domain.DefaultLayerID
	}
	l, ok := m.layers[layerID]
	if !ok {
		return domain.ErrLayerNotFound.WithDetails(layerID)
	}
	if l.Locked {
		return domain.ErrLayerLocked.WithDetails(layerID)
	}
	return nil
}

// Assign returns the update draft that moves an annotation to layerID.
// The move is an ordinary update and goes through the coordinator like any
// other edit.
func (m *Manager) Assign(annotationID, layerID string) (domain.OperationDraft, error) {
	if err := m.CheckAssignable(layerID); err != nil {
		return domain.OperationDraft{}, err
	}
	if !m.members.Exists(annotationID) {
		return domain.OperationDraft{}, domain.ErrAnnotationNotFound.WithDetails(annotationID)
	}
	if layerID == "" {
		layerID = domain.DefaultLayerID
	}
	return domain.UpdateDraft(annotationID, &domain.Patch{LayerID: &layerID}), nil
}

// Load replaces all layers. The default layer is added if missing.
// Tombstones and field stamps are reset, so any later write wins.
func (m *Manager) Load(layers []*domain.Layer) {
	m.reset()
	for _, l := range layers {
		if l == nil || l.Validate() != nil {
			continue
		}
		m.put(l.Clone(), stamps{})
	}
}
