package ipc

import (
	"context"
	"log/slog"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/haloedge/ingestd/internal/domainerr"
)

// ProducerCore is the subset of producerd's pipeline lifecycle the daemon
// dispatches into (spec.md §4.7).
type ProducerCore interface {
	CreatePipeline(nodeID uint32) error
	DestroyPipeline(nodeID uint32) error
}

// Producerd serves the producerd protocol over an AF_UNIX socket: one
// goroutine per connection, the Go-native substitute for "fork a child"
// (SPEC_FULL.md §5.4).
type Producerd struct {
	ln     net.Listener
	core   ProducerCore
	logger *slog.Logger
}

// NewProducerd binds the well-known producerd socket path, removing any
// stale socket file left by a prior unclean shutdown first.
func NewProducerd(sockPath string, core ProducerCore, logger *slog.Logger) (*Producerd, error) {
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, domainerr.New(domainerr.IpcFailed, "producerd.listen", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producerd{ln: ln, core: core, logger: logger.With("component", "producerd")}, nil
}

// Serve runs the accept loop until ctx is cancelled, then unlinks the
// socket (spec.md §4.7 SIGTERM behavior) and waits for in-flight
// connections to finish.
func (d *Producerd) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return d.ln.Close()
	})

	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			d.logger.Error("accept failed", "error", err)
			break
		}
		g.Go(func() error {
			d.handleConn(conn)
			return nil
		})
	}

	err := g.Wait()
	_ = os.Remove(d.sockPath())
	return err
}

func (d *Producerd) sockPath() string {
	if a, ok := d.ln.Addr().(*net.UnixAddr); ok {
		return a.Name
	}
	return ""
}

func (d *Producerd) handleConn(conn net.Conn) {
	defer conn.Close()
	msg, err := ReadProviderMsg(conn)
	if err != nil {
		d.logger.Warn("read request failed", "error", err)
		return
	}

	var rsp ProviderRsp
	switch msg.MsgType {
	case MsgCreatePipeline:
		if err := d.core.CreatePipeline(uint32(msg.PipewireNodeID)); err != nil {
			d.logger.Error("create pipeline failed", "node_id", msg.PipewireNodeID, "error", err)
			rsp.RspType = RspFail
		} else {
			rsp.RspType = RspCreateSuccess
		}
	case MsgDestroyPipeline:
		if err := d.core.DestroyPipeline(uint32(msg.PipewireNodeID)); err != nil {
			d.logger.Error("destroy pipeline failed", "node_id", msg.PipewireNodeID, "error", err)
			rsp.RspType = RspFail
		} else {
			rsp.RspType = RspDestroySuccess
		}
	default:
		rsp.RspType = RspFail
	}

	if err := WriteProviderRsp(conn, rsp); err != nil {
		d.logger.Warn("write response failed", "error", err)
	}
}
