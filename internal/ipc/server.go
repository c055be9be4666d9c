package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"ytauto/internal/daemon"
	"ytauto/internal/logging"
	"ytauto/internal/queue"
)

const serviceName = "Ytauto"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connections that are
// mid-call finish their current request first.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun ytauto stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(req StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested", logging.Bool("force", req.Force), logging.Bool("shutdown", req.Shutdown))
	ctx := s.ctx
	if req.GraceSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.GraceSeconds)*time.Second)
		defer cancel()
	}
	s.daemon.Stop(ctx, req.Force)
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"),
		logging.Bool("force", req.Force))
	if req.Shutdown {
		s.daemon.RequestShutdown()
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	id, err := s.daemon.Enqueue(s.ctx, req.Line)
	if err != nil {
		return err
	}
	resp.ID = id
	return nil
}

func (s *service) Run(req RunRequest, resp *RunResponse) error {
	rec, err := s.daemon.Run(s.ctx, req.Line, seconds(req.TimeoutSeconds))
	if err != nil {
		return err
	}
	resp.Job = rec
	resp.TimedOut = !rec.State.Terminal()
	return nil
}

func (s *service) RunAll(req RunAllRequest, resp *RunAllResponse) error {
	recs, err := s.daemon.RunAll(s.ctx, seconds(req.TimeoutSeconds))
	resp.Jobs = recs
	for _, rec := range recs {
		if !rec.State.Terminal() {
			resp.TimedOut = true
		}
	}
	return err
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if req.ID == "" {
		return errors.New("cancel requires a job id")
	}
	if err := s.daemon.Cancel(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Cancelled = true
	s.logger.Info("job cancel requested via IPC",
		logging.String(logging.FieldEventType, "job_cancel_requested"),
		logging.JobID(req.ID))
	return nil
}

func (s *service) Job(req JobRequest, resp *JobResponse) error {
	rec, err := s.daemon.Job(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = rec
	return nil
}

func (s *service) Jobs(req JobsRequest, resp *JobsResponse) error {
	recs, err := s.daemon.Jobs(s.ctx, req.Line, req.Limit)
	if err != nil {
		return err
	}
	resp.Jobs = append([]queue.Record{}, recs...)
	return nil
}

func (s *service) SetSchedule(req ScheduleRequest, resp *ScheduleResponse) error {
	if err := s.daemon.SetSchedule(req.Line, req.Enabled); err != nil {
		return err
	}
	resp.Line = req.Line
	resp.Enabled = req.Enabled
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
