package approvalapi

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aegis-sign/walletbridge/internal/wallet/actions"
	"github.com/aegis-sign/walletbridge/pkg/apierrors"
)

func TestGRPCApproveValidatesHash(t *testing.T) {
	server := NewGRPCServer(&stubBackend{})
	_, err := server.Approve(context.Background(), &wrapperspb.StringValue{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCRejectMapsErrors(t *testing.T) {
	server := NewGRPCServer(&stubBackend{rejectFn: func(context.Context, string) error {
		return apierrors.New(apierrors.CodeAlreadyResolved, "action already approved")
	}})
	_, err := server.Reject(context.Background(), wrapperspb.String("0x01"))
	require.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestGRPCServiceRoundTrip(t *testing.T) {
	backend := &stubBackend{pending: []actions.Action{{Hash: "0xaa", Kind: actions.KindAddToken, RequestID: "r1"}}}
	var approved string
	backend.approveFn = func(_ context.Context, hash string) error {
		approved = hash
		return nil
	}

	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	RegisterApprovalServiceServer(srv, NewGRPCServer(backend))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := NewApprovalServiceClient(conn)

	list, err := client.ListPending(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	require.Len(t, list.GetValues(), 1)
	fields := list.GetValues()[0].GetStructValue().GetFields()
	require.Equal(t, "0xaa", fields["actionHash"].GetStringValue())
	require.Equal(t, "add_token", fields["kind"].GetStringValue())

	_, err = client.Approve(context.Background(), wrapperspb.String("0xaa"))
	require.NoError(t, err)
	require.Equal(t, "0xaa", approved)
}
