package api

import (
	"context"

	"github.com/mantonx/muxpipe/internal/database"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/events"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/process"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/core/repository"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

// MuxAPIService is the part of the muxing service the HTTP layer needs.
// It lives here to keep the api package free of a dependency on the module.
type MuxAPIService interface {
	Status() types.Status
	Mux(ctx context.Context, req types.MuxRequest) (types.MuxedOutput, error)
	Stop(id string) error

	Processes() []*process.ProcessInfo
	ProcessStats(ctx context.Context, pid int) (*process.Stats, error)

	History(ctx context.Context, limit int) ([]*database.MuxSession, error)
	GetSession(ctx context.Context, id string) (*database.MuxSession, error)
	Stats(ctx context.Context) (*repository.Stats, error)

	Subscribe(handler events.Handler) func()
}
