package session

import (
	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/transport"
	"github.com/yndnr/annomesh-go/internal/wire"
)

var _ transport.Handler = (*Coordinator)(nil)

// OnMessage implements transport.Handler. Presence is recorded immediately;
// everything else is queued behind earlier requests.
func (c *Coordinator) OnMessage(participantID string, payload []byte) {
	env, err := wire.Decode(payload)
	if err != nil {
		c.logger.Debug("undecodable message dropped", "participant", participantID, "error", err)
		return
	}

	switch env.Msg {
	case wire.TypePresence:
		var p wire.Presence
		if err := env.Into(&p); err != nil {
			c.logger.Debug("bad presence dropped", "participant", participantID, "error", err)
			return
		}
		c.recordRemotePresence(participantID, &p)

	case wire.TypeOp:
		var m wire.Op
		if err := env.Into(&m); err != nil {
			c.logger.Debug("bad op dropped", "participant", participantID, "error", err)
			return
		}
		op, err := m.Operation()
		if err != nil {
			c.logger.Debug("bad op dropped", "participant", participantID, "error", err)
			return
		}
		c.post(func() { _ = c.receive(op) })

	case wire.TypeSubmit:
		var m wire.Submit
		if err := env.Into(&m); err != nil {
			c.post(func() { c.sendError(participantID, domain.ErrBadRequest.WithCause(err)) })
			return
		}
		draft, err := m.Draft()
		c.post(func() {
			if err == nil {
				_, err = c.submit(participantID, draft, true)
			}
			if err != nil {
				c.sendError(participantID, err)
			}
		})

	case wire.TypeUndo:
		c.post(func() {
			if _, err := c.undo(participantID); err != nil {
				c.sendError(participantID, err)
			}
		})

	case wire.TypeRedo:
		c.post(func() {
			if _, err := c.redo(participantID); err != nil {
				c.sendError(participantID, err)
			}
		})

	case wire.TypeLayer:
		var ev wire.LayerEvent
		if err := env.Into(&ev); err != nil {
			c.logger.Debug("bad layer event dropped", "participant", participantID, "error", err)
			return
		}
		c.post(func() { c.applyLayerEvent(&ev) })

	case wire.TypeLayerCmd:
		var cmd wire.LayerCommand
		if err := env.Into(&cmd); err != nil {
			c.post(func() { c.sendError(participantID, domain.ErrBadRequest.WithCause(err)) })
			return
		}
		c.post(func() {
			if err := c.runLayerCommand(participantID, &cmd); err != nil {
				c.sendError(participantID, err)
			}
		})

	case wire.TypeSnapshotRequest:
		if !c.cfg.Authority {
			return
		}
		c.post(func() { c.sendSnapshot(participantID, c.snapshot()) })

	case wire.TypeSnapshot:
		if c.cfg.Authority {
			return
		}
		var m wire.Snapshot
		if err := env.Into(&m); err != nil {
			c.logger.Warn("bad snapshot dropped", "error", err)
			return
		}
		snap := m.Snapshot()
		c.post(func() {
			if c.pendingSnapshots == 0 {
				c.logger.Debug("unrequested snapshot ignored")
				return
			}
			c.load(snap, true)
		})

	case wire.TypeResync:
		if c.cfg.Authority {
			return
		}
		c.post(c.requestSnapshot)

	case wire.TypeError:
		var m wire.Error
		if err := env.Into(&m); err == nil {
			c.logger.Info("error from peer", "participant", participantID, "code", m.Code, "message", m.Message)
		}
	}
}

// OnJoin implements transport.Handler.
func (c *Coordinator) OnJoin(participantID string) {
	c.post(func() { c.join(participantID) })
}

// OnLeave implements transport.Handler.
func (c *Coordinator) OnLeave(participantID string) {
	c.post(func() { c.leave(participantID) })
}
