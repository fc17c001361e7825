package ipc

import (
	"context"
	"log/slog"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/haloedge/ingestd/internal/domainerr"
)

// ConsumerCore is the subset of consumerd's target lifecycle the daemon
// dispatches into (spec.md §4.7).
type ConsumerCore interface {
	CreateSrtTarget(msg ConsumerMsg) (hashID uint32, err error)
	CreateRecordingTarget(msg ConsumerMsg) (hashID uint32, err error)
	CreateImageCaptureTarget(msg ConsumerMsg) (hashID uint32, err error)
	StartTarget(hashID, outputNodeID uint32) error
	DestroyTarget(hashID, outputNodeID uint32) error
}

// Consumerd serves the consumerd protocol over an AF_UNIX socket.
type Consumerd struct {
	ln     net.Listener
	core   ConsumerCore
	logger *slog.Logger
}

// NewConsumerd binds the well-known consumerd socket path.
func NewConsumerd(sockPath string, core ConsumerCore, logger *slog.Logger) (*Consumerd, error) {
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, domainerr.New(domainerr.IpcFailed, "consumerd.listen", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumerd{ln: ln, core: core, logger: logger.With("component", "consumerd")}, nil
}

// Serve runs the accept loop until ctx is cancelled.
func (d *Consumerd) Serve(ctx context.Context) error {
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

func (d *Consumerd) sockPath() string {
	if a, ok := d.ln.Addr().(*net.UnixAddr); ok {
		return a.Name
	}
	return ""
}

func (d *Consumerd) handleConn(conn net.Conn) {
	defer conn.Close()
	msg, err := ReadConsumerMsg(conn)
	if err != nil {
		d.logger.Warn("read request failed", "error", err)
		return
	}

	var rsp ConsumerRsp
	switch msg.MsgType {
	case MsgCreateSrtTarget:
		if _, err := d.core.CreateSrtTarget(msg); err != nil {
			d.logger.Error("create srt target failed", "error", err)
			rsp.RspType = RspFail
		} else {
			rsp.RspType = RspCreateTargetSuccess
		}
	case MsgCreateRecordingTarget:
		if _, err := d.core.CreateRecordingTarget(msg); err != nil {
			d.logger.Error("create recording target failed", "error", err)
			rsp.RspType = RspFail
		} else {
			rsp.RspType = RspCreateTargetSuccess
		}
	case MsgCreateImageCaptureTarget:
		if _, err := d.core.CreateImageCaptureTarget(msg); err != nil {
			d.logger.Error("create image capture target failed", "error", err)
			rsp.RspType = RspFail
		} else {
			rsp.RspType = RspCreateTargetSuccess
		}
	case MsgStartTarget:
		if err := d.core.StartTarget(msg.HashID, msg.OutputNodeID); err != nil {
			d.logger.Error("start target failed", "error", err)
			rsp.RspType = RspFail
		} else {
			rsp.RspType = RspStartSuccess
		}
	case MsgDestroyTarget:
		if err := d.core.DestroyTarget(msg.HashID, msg.OutputNodeID); err != nil {
			d.logger.Error("destroy target failed", "error", err)
			rsp.RspType = RspFail
		} else {
			rsp.RspType = RspDestroyTargetSuccess
		}
	default:
		rsp.RspType = RspFail
	}

	if err := WriteConsumerRsp(conn, rsp); err != nil {
		d.logger.Warn("write response failed", "error", err)
	}
}
