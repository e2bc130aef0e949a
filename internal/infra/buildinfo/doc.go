// Package buildinfo exposes version information injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/annomesh-go/internal/infra/buildinfo.Version=v0.3.0 \
//	  -X github.com/yndnr/annomesh-go/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// Values not injected fall back to what the Go toolchain recorded in the
// binary.
package buildinfo
