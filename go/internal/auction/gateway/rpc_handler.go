package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/char-123717/lelang/go/internal/auction/store"
)

const (
	// AuctionServiceName is the fully-qualified name of the auction query service.
	AuctionServiceName = "auction.v1.AuctionService"
	// GetAuctionDetailsProcedure is the Connect procedure for auction details.
	GetAuctionDetailsProcedure = "/" + AuctionServiceName + "/GetAuctionDetails"
)

// NewAuctionServiceHandler exposes the details query over Connect, gRPC and gRPC-Web.
// The request carries the auction id; the response mirrors the REST body.
func NewAuctionServiceHandler(h *StateHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	handler := connect.NewUnaryHandler(
		GetAuctionDetailsProcedure,
		func(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
			details, err := h.Details(req.Msg.GetValue())
			if err != nil {
				if errors.Is(err, store.ErrUnknownAuction) {
					return nil, connect.NewError(connect.CodeNotFound, err)
				}
				return nil, connect.NewError(connect.CodeInternal, err)
			}

			body, err := structpb.NewStruct(map[string]interface{}{
				"ok":              details.OK,
				"auctionId":       details.AuctionID,
				"name":            details.Name,
				"contractAddress": details.ContractAddress,
				"minBid":          details.MinBid,
				"minBidExact":     details.MinBidExact,
				"highestBid":      details.HighestBid,
				"highestBidExact": details.HighestBidExact,
				"highestBidder":   details.HighestBidder,
				"auctionEndTime":  details.AuctionEndTime,
				"ended":           details.Ended,
			})
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to encode details: %w", err))
			}
			return connect.NewResponse(body), nil
		},
		opts...,
	)

	mux := http.NewServeMux()
	mux.Handle(GetAuctionDetailsProcedure, handler)
	return "/" + AuctionServiceName + "/", mux
}
