package profiles

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/grpcx"
	"google.golang.org/grpc"
)

const (
	ServiceName      = "profile.v1.ProfileService"
	GetProfileMethod = "/" + ServiceName + "/GetProfile"
)

type GetProfileRequest struct {
	ID string `json:"id"`
}

// Server is implemented by whatever owns the profile records.
type Server interface {
	GetProfile(ctx context.Context, req *GetProfileRequest) (*Profile, error)
}

// ServiceDesc lets Register expose a Server without generated stubs; messages are
// plain structs carried by the grpcx JSON codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetProfile", Handler: getProfileHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "profile/v1/profile.proto",
}

func Register(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func getProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetProfileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetProfile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetProfileMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetProfile(ctx, req.(*GetProfileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// DirectoryServer adapts a Directory to the gRPC Server interface.
type DirectoryServer struct {
	Directory Directory
}

func (s DirectoryServer) GetProfile(ctx context.Context, req *GetProfileRequest) (*Profile, error) {
	p, err := s.Directory.GetProfile(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type Client struct {
	conn *grpc.ClientConn
}

func NewClient(addr string, timeout time.Duration) (*Client, error) {
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) GetProfile(ctx context.Context, id string) (Profile, error) {
	const op = "profiles.Client.GetProfile"

	var out Profile
	if err := c.conn.Invoke(ctx, GetProfileMethod, &GetProfileRequest{ID: id}, &out); err != nil {
		return Profile{}, apperr.FromGRPC(op, err)
	}
	return out, nil
}
