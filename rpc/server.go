package rpc

import (
	"context"
	"time"

	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/usecase"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "orderbooksync.MarketDataService"

// MarketData is the part of the market data use case served over the wire.
type MarketData interface {
	Subscribe(symbol *domain.MarketSymbol) error
	Unsubscribe(symbol *domain.MarketSymbol) error
	State(symbol *domain.MarketSymbol) (usecase.MarketState, error)
	Refresh(symbol *domain.MarketSymbol) error
	Symbols() []string
	OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error)
	DailyCandles(ctx context.Context, symbol *domain.MarketSymbol, from, to time.Time) ([]domain.DailyCandle, error)
}

type MarketDataServiceServer interface {
	GetState(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Subscribe(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Unsubscribe(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Refresh(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetOrderBookSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDailyCandles(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type server struct {
	provider          string
	marketData        MarketData
	validationService *ValidationService
	logger            *zap.Logger
}

func NewServer(provider string, marketData MarketData, conf *ValidationServiceConfig, logger *zap.Logger) *server {
	return &server{
		provider:          provider,
		marketData:        marketData,
		validationService: NewValidationService(conf),
		logger:            logger,
	}
}

// NewGRPCServer returns a grpc.Server with the market data service registered.
func NewGRPCServer(srv MarketDataServiceServer, logger *zap.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	s.RegisterService(&MarketDataService_ServiceDesc, srv)
	return s
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)), zap.Error(err))
		} else {
			logger.Debug("rpc served", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)))
		}
		return resp, err
	}
}

var MarketDataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetState", func() interface{} { return new(wrapperspb.StringValue) },
			func(s MarketDataServiceServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.GetState(ctx, in.(*wrapperspb.StringValue))
			}),
		unary("Subscribe", func() interface{} { return new(wrapperspb.StringValue) },
			func(s MarketDataServiceServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Subscribe(ctx, in.(*wrapperspb.StringValue))
			}),
		unary("Unsubscribe", func() interface{} { return new(wrapperspb.StringValue) },
			func(s MarketDataServiceServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Unsubscribe(ctx, in.(*wrapperspb.StringValue))
			}),
		unary("Refresh", func() interface{} { return new(wrapperspb.StringValue) },
			func(s MarketDataServiceServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Refresh(ctx, in.(*wrapperspb.StringValue))
			}),
		unary("GetOrderBookSnapshot", func() interface{} { return new(structpb.Struct) },
			func(s MarketDataServiceServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.GetOrderBookSnapshot(ctx, in.(*structpb.Struct))
			}),
		unary("GetDailyCandles", func() interface{} { return new(structpb.Struct) },
			func(s MarketDataServiceServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.GetDailyCandles(ctx, in.(*structpb.Struct))
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orderbooksync.proto",
}

type unaryCall func(s MarketDataServiceServer, ctx context.Context, in interface{}) (interface{}, error)

func unary(method string, newRequest func() interface{}, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newRequest()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MarketDataServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(MarketDataServiceServer), ctx, req)
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// MarketDataClient calls the service over an existing connection.
type MarketDataClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketDataClient(cc grpc.ClientConnInterface) *MarketDataClient {
	return &MarketDataClient{cc: cc}
}

func (c *MarketDataClient) GetState(ctx context.Context, symbol string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetState", wrapperspb.String(symbol), out)
	return out, err
}

func (c *MarketDataClient) Subscribe(ctx context.Context, symbol string) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/Subscribe", wrapperspb.String(symbol), new(emptypb.Empty))
}

func (c *MarketDataClient) Unsubscribe(ctx context.Context, symbol string) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/Unsubscribe", wrapperspb.String(symbol), new(emptypb.Empty))
}

func (c *MarketDataClient) Refresh(ctx context.Context, symbol string) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/Refresh", wrapperspb.String(symbol), new(emptypb.Empty))
}

func (c *MarketDataClient) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetOrderBookSnapshot", in, out)
	return out, err
}

func (c *MarketDataClient) GetDailyCandles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetDailyCandles", in, out)
	return out, err
}
