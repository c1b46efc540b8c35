package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/usecase"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func (s *server) GetState(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	symbol, err := s.symbol(in.GetValue())
	if err != nil {
		return nil, err
	}

	state, err := s.marketData.State(symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(state)
}

func (s *server) Subscribe(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	symbol, err := s.symbol(in.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.marketData.Subscribe(symbol); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *server) Unsubscribe(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	symbol, err := s.symbol(in.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.marketData.Unsubscribe(symbol); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *server) Refresh(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	symbol, err := s.symbol(in.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.marketData.Refresh(symbol); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// GetOrderBookSnapshot expects {provider?, symbol, maxDepth}.
func (s *server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()

	if provider := fields["provider"].GetStringValue(); provider != "" {
		if !s.validationService.IsSupportedProvider(provider) || provider != s.provider {
			return nil, status.Errorf(codes.InvalidArgument, "provider %s is not supported", provider)
		}
	}

	symbol, err := s.symbol(fields["symbol"].GetStringValue())
	if err != nil {
		return nil, err
	}

	maxDepth := int(fields["maxDepth"].GetNumberValue())
	if maxDepth < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "maxDepth must not be negative")
	}

	snapshot, err := s.marketData.OrderBookSnapshot(ctx, symbol, maxDepth)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(snapshot)
}

// GetDailyCandles expects {symbol, from, to} with YYYY-MM-DD dates.
func (s *server) GetDailyCandles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()

	symbol, err := s.symbol(fields["symbol"].GetStringValue())
	if err != nil {
		return nil, err
	}

	from, to, err := s.validationService.DateRange(fields["from"].GetStringValue(), fields["to"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	candles, err := s.marketData.DailyCandles(ctx, symbol, from, to)
	if err != nil {
		return nil, toStatus(err)
	}
	if candles == nil {
		candles = []domain.DailyCandle{}
	}
	return toStruct(map[string]interface{}{"candles": candles})
}

func (s *server) symbol(raw string) (*domain.MarketSymbol, error) {
	symbol, err := s.validationService.Symbol(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return symbol, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, usecase.ErrSymbolNotTracked):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, usecase.ErrSymbolAlreadyTracked):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// toStruct goes through the JSON form so decimals and states keep their text encoding.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
