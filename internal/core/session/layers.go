package session

import (
	"context"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/core/layer"
	"github.com/yndnr/annomesh-go/internal/wire"
)

// CreateLayer creates a visible, unlocked layer and replicates it.
func (c *Coordinator) CreateLayer(ctx context.Context, participantID, name string) (*domain.Layer, error) {
	var (
		l   *domain.Layer
		err error
	)
	if derr := c.do(ctx, func() { l, err = c.createLayer(participantID, name) }); derr != nil {
		return nil, derr
	}
	return l, err
}

// SetLayerLocked locks or unlocks a layer. Locking blocks new assignments;
// annotations already in the layer stay.
func (c *Coordinator) SetLayerLocked(ctx context.Context, participantID, layerID string, locked bool) error {
	var err error
	if derr := c.do(ctx, func() { err = c.setLayerLocked(participantID, layerID, locked) }); derr != nil {
		return derr
	}
	return err
}

// ToggleLayerVisibility flips a layer's visibility and returns the new value.
func (c *Coordinator) ToggleLayerVisibility(ctx context.Context, participantID, layerID string) (bool, error) {
	var (
		visible bool
		err     error
	)
	if derr := c.do(ctx, func() { visible, err = c.toggleLayer(participantID, layerID) }); derr != nil {
		return false, derr
	}
	return visible, err
}

// DeleteLayer removes an empty layer.
func (c *Coordinator) DeleteLayer(ctx context.Context, participantID, layerID string) error {
	var err error
	if derr := c.do(ctx, func() { err = c.deleteLayer(participantID, layerID) }); derr != nil {
		return derr
	}
	return err
}

// MoveAnnotation reassigns an annotation to layerID. The move is an update
// of the layer field, sequenced and recorded like any other edit.
func (c *Coordinator) MoveAnnotation(ctx context.Context, participantID, annotationID, layerID string) (*domain.Operation, error) {
	var (
		op  *domain.Operation
		err error
	)
	if derr := c.do(ctx, func() { op, err = c.moveAnnotation(participantID, annotationID, layerID) }); derr != nil {
		return nil, derr
	}
	return op, err
}

// Layers returns all layers in creation order.
func (c *Coordinator) Layers(ctx context.Context) ([]*domain.Layer, error) {
	var out []*domain.Layer
	err := c.do(ctx, func() { out = c.layers.List() })
	return out, err
}

// LayerMembers returns the ids of the live annotations in a layer.
func (c *Coordinator) LayerMembers(ctx context.Context, layerID string) ([]string, error) {
	var (
		ids []string
		err error
	)
	if derr := c.do(ctx, func() { ids, err = c.layers.Members(layerID) }); derr != nil {
		return nil, derr
	}
	return ids, err
}

func (c *Coordinator) layerStamp(participantID string) domain.Stamp {
	return domain.Stamp{Timestamp: c.nextStamp(), OriginID: participantID}
}

func (c *Coordinator) createLayer(participantID, name string) (*domain.Layer, error) {
	st := c.layerStamp(participantID)
	l, err := c.layers.CreateLayer(name, st)
	if err != nil {
		return nil, c.reject(participantID, err)
	}
	c.publishLayer(wire.LayerCreated, l, st)
	return l, nil
}

func (c *Coordinator) setLayerLocked(participantID, layerID string, locked bool) error {
	st := c.layerStamp(participantID)
	if err := c.layers.SetLocked(layerID, locked, st); err != nil {
		return c.reject(participantID, err)
	}
	l, _ := c.layers.Get(layerID)
	c.publishLayer(wire.LayerUpdated, l, st, layer.FieldLocked)
	return nil
}

func (c *Coordinator) toggleLayer(participantID, layerID string) (bool, error) {
	st := c.layerStamp(participantID)
	visible, err := c.layers.ToggleVisibility(layerID, st)
	if err != nil {
		return false, c.reject(participantID, err)
	}
	l, _ := c.layers.Get(layerID)
	c.publishLayer(wire.LayerUpdated, l, st, layer.FieldVisible)
	return visible, nil
}

func (c *Coordinator) deleteLayer(participantID, layerID string) error {
	st := c.layerStamp(participantID)
	l, ok := c.layers.Get(layerID)
	if err := c.layers.Delete(layerID, st); err != nil {
		return c.reject(participantID, err)
	}
	if ok {
		c.publishLayer(wire.LayerDeleted, l, st)
	}
	return nil
}

func (c *Coordinator) moveAnnotation(participantID, annotationID, layerID string) (*domain.Operation, error) {
	draft, err := c.layers.Assign(annotationID, layerID)
	if err != nil {
		return nil, c.reject(participantID, err)
	}
	return c.submit(participantID, draft, true)
}

// publishLayer notifies the observer and broadcasts a layer event. Updates
// carry only the fields that were written, so a concurrent write to another
// field of the same layer is not overwritten on other replicas.
func (c *Coordinator) publishLayer(action string, l *domain.Layer, st domain.Stamp, fields ...layer.Field) {
	c.noteChange()
	if c.observer != nil {
		c.observer.LayerChanged(c.id, l, action == wire.LayerDeleted)
	}
	ev := wire.LayerEventFrom(action, l, st.OriginID, st.Timestamp)
	if action == wire.LayerUpdated {
		keep := make(map[layer.Field]bool, len(fields))
		for _, f := range fields {
			keep[f] = true
		}
		if !keep[layer.FieldName] {
			ev.Name = ""
		}
		if !keep[layer.FieldVisible] {
			ev.Visible = nil
		}
		if !keep[layer.FieldLocked] {
			ev.Locked = nil
		}
	}
	payload, err := wire.Encode(wire.TypeLayer, ev)
	if err != nil {
		c.logger.Error("encode layer event failed", "error", err)
		return
	}
	c.broadcast(payload)
}

// applyLayerEvent installs a replicated layer change. Fields are resolved
// last-writer-wins on (ts, originId), so applying events in any order, or
// one event twice, gives the same layer state.
func (c *Coordinator) applyLayerEvent(ev *wire.LayerEvent) {
	if ev.TS > c.lastTS {
		c.lastTS = ev.TS
	}
	c.noteChange()

	ch := layer.Change{
		LayerID: ev.LayerID,
		Visible: ev.Visible,
		Locked:  ev.Locked,
		Stamp:   domain.Stamp{Timestamp: ev.TS, OriginID: ev.OriginID},
	}
	switch ev.Action {
	case wire.LayerCreated, wire.LayerUpdated:
		if ev.Name != "" {
			name := ev.Name
			ch.Name = &name
		}
	case wire.LayerDeleted:
		ch.Delete = true
	default:
		c.logger.Debug("unknown layer event", "action", ev.Action)
		return
	}

	l, changed, err := c.layers.Apply(ch)
	if err != nil {
		c.logger.Warn("replicated layer change rejected", "layer", ev.LayerID, "action", ev.Action, "error", err)
		return
	}
	if !changed {
		if ch.Delete {
			c.logger.Debug("replicated layer delete deferred", "layer", ev.LayerID)
		}
		return
	}
	if c.observer != nil {
		c.observer.LayerChanged(c.id, l, ch.Delete)
	}
}

// reconcileLayers keeps every annotation in an existing layer after op.
// A layer that gains an annotation is revived if it was deleted, and a
// layer with a pending delete goes once its last annotation leaves.
func (c *Coordinator) reconcileLayers(op *domain.Operation, eff domain.Effect) {
	var from, to string
	switch op.Type {
	case domain.OpCreate:
		if eff.After != nil {
			to = eff.After.EffectiveLayer()
		}
	case domain.OpUpdate:
		if eff.Before == nil || eff.After == nil {
			return
		}
		from, to = eff.Before.EffectiveLayer(), eff.After.EffectiveLayer()
		if from == to {
			return
		}
	case domain.OpDelete:
		if eff.Before != nil {
			from = eff.Before.EffectiveLayer()
		}
	}

	if to != "" {
		if l, created := c.layers.Restore(to, op.Timestamp); created {
			c.logger.Info("layer restored for annotation", "layer", to, "annotation", op.AnnotationID)
			if c.observer != nil {
				c.observer.LayerChanged(c.id, l, false)
			}
		}
	}
	if from != "" {
		if l, gone, _ := c.layers.Collect(from); gone {
			c.logger.Info("deferred layer delete completed", "layer", from)
			if c.observer != nil {
				c.observer.LayerChanged(c.id, l, true)
			}
		}
	}
}

// runLayerCommand executes a thin client's layer request.
func (c *Coordinator) runLayerCommand(participantID string, cmd *wire.LayerCommand) error {
	switch cmd.Action {
	case wire.CmdCreate:
		_, err := c.createLayer(participantID, cmd.Name)
		return err
	case wire.CmdSetLocked:
		if cmd.Locked == nil {
			return domain.ErrMissingArgument.WithDetails("locked")
		}
		return c.setLayerLocked(participantID, cmd.LayerID, *cmd.Locked)
	case wire.CmdToggleVisibility:
		_, err := c.toggleLayer(participantID, cmd.LayerID)
		return err
	case wire.CmdDelete:
		return c.deleteLayer(participantID, cmd.LayerID)
	case wire.CmdMove:
		_, err := c.moveAnnotation(participantID, cmd.AnnotationID, cmd.LayerID)
		return err
	}
	return domain.ErrBadRequest.WithDetails("unknown layer command " + cmd.Action)
}
