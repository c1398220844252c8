package debug

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server implements the InspectService gRPC service declared in
// inspect.proto. Wire format is a generic google.protobuf.Struct rather
// than a hand-rolled message type, since the snapshot shape (registers,
// sprite list, memory dumps) is debugger-tooling data, not part of the
// emulator's own save-state/wire contract.
type Server struct {
	inspector    *Inspector
	pollInterval time.Duration
}

// NewServer wraps an Inspector as a gRPC service.
func NewServer(inspector *Inspector, pollInterval time.Duration) *Server {
	if pollInterval <= 0 {
		pollInterval = 16 * time.Millisecond
	}
	return &Server{inspector: inspector, pollInterval: pollInterval}
}

// GetSnapshot returns one point-in-time snapshot of emulator state.
func (s *Server) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.snapshot()
}

// StreamState emits one snapshot per poll interval until the client
// cancels the stream.
func (s *Server) StreamState(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			snap, err := s.snapshot()
			if err != nil {
				return err
			}
			if err := stream.SendMsg(snap); err != nil {
				return err
			}
		}
	}
}

func (s *Server) snapshot() (*structpb.Struct, error) {
	regs := s.inspector.PPURegisters()
	counters := s.inspector.CycleCounters()
	sprites := s.inspector.Sprites()

	spriteList := make([]interface{}, 0, len(sprites))
	for _, sp := range sprites {
		spriteList = append(spriteList, map[string]interface{}{
			"index":      float64(sp.Index),
			"x":          float64(sp.X),
			"y":          float64(sp.Y),
			"tile":       float64(sp.Tile),
			"attributes": float64(sp.Attributes),
		})
	}

	return structpb.NewStruct(map[string]interface{}{
		"ppu_ctrl":    float64(regs.Ctrl),
		"ppu_mask":    float64(regs.Mask),
		"ppu_status":  float64(regs.Status),
		"scanline":    float64(regs.Scanline),
		"cycle":       float64(regs.Cycle),
		"cpu_cycles":  float64(counters.CPUCycles),
		"frame_count": float64(counters.FrameCount),
		"sprites":     spriteList,
	})
}

// serviceDesc is the hand-registered equivalent of protoc-gen-go-grpc's
// generated _InspectService_serviceDesc, wired directly against *Server
// since inspect.proto's stubs aren't checked into the tree (run `protoc
// --go_out=. --go-grpc_out=. inspect.proto` to regenerate them).
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "corenes.debug.InspectService",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSnapshot",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(emptypb.Empty)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).GetSnapshot(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/corenes.debug.InspectService/GetSnapshot"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).GetSnapshot(ctx, req.(*emptypb.Empty))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "StreamState",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				req := new(emptypb.Empty)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(*Server).StreamState(req, stream)
			},
			ServerStreams: true,
		},
	},
}

// Register attaches the inspection service to an existing *grpc.Server.
func Register(grpcServer *grpc.Server, inspector *Inspector, pollInterval time.Duration) {
	grpcServer.RegisterService(&serviceDesc, NewServer(inspector, pollInterval))
}
