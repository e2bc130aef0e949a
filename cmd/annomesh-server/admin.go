package main

import (
	"context"
	"errors"

	"github.com/yndnr/annomesh-go/internal/core/domain"
	"github.com/yndnr/annomesh-go/internal/infra/buildinfo"
	"github.com/yndnr/annomesh-go/internal/server/localserver"
)

// adminAPI backs the local administration socket.
type adminAPI struct {
	app    *app
	reload func() error
	stop   func()
}

func (x *adminAPI) Status() localserver.Status {
	st := localserver.Status{
		Version:   buildinfo.Get().Version,
		StartedAt: x.app.startedAt,
	}
	for _, s := range x.app.manager.List() {
		st.Sessions++
		st.Participants += s.Participants
	}
	if err := x.app.ready(context.Background()); err != nil {
		st.ReadyError = err.Error()
	}
	return st
}

func (x *adminAPI) Sessions() []domain.SessionSummary {
	return x.app.manager.List()
}

func (x *adminAPI) CloseSession(sessionID string) error {
	return x.app.manager.CloseSession(sessionID)
}

func (x *adminAPI) Reload() error {
	if x.reload == nil {
		return errors.New("no configuration file to reload")
	}
	return x.reload()
}

func (x *adminAPI) Shutdown() {
	x.app.log.Info("shutdown requested on admin socket")
	x.stop()
}

// startAdmin opens the admin socket and serves it in the background.
func (a *app) startAdmin(reload func() error, stop func()) error {
	api := &adminAPI{app: a, reload: reload, stop: stop}
	a.admin = localserver.New(a.cfg.Server.AdminSocket, localserver.NewHandler(api),
		localserver.WithLogger(a.log))
	if err := a.admin.Listen(); err != nil {
		return err
	}
	go func() {
		if err := a.admin.Serve(); err != nil {
			a.log.Error("admin socket error", "error", err)
		}
	}()
	a.log.Info("admin socket listening", "path", a.admin.Path())
	return nil
}
