package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/ledger"
	"github.com/char-123717/lelang/go/internal/bidder"
	"github.com/char-123717/lelang/go/internal/config"
)

const usage = `usage:
  bidder bid <amount-eth>
  bidder withdraw
  bidder watch`

func main() {
	config.LoadDotEnv()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayURL := config.GetEnv("RELAY_URL", "http://localhost:3000")
	auctionID := config.GetEnv("AUCTION_ID", "101")
	relay := bidder.NewRelayClient(relayURL, 10*time.Second)

	details, err := relay.FetchDetails(ctx, auctionID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load auction")
	}

	if os.Args[1] == "watch" {
		watch(ctx, relayURL, auctionID)
		return
	}

	key := os.Getenv("BIDDER_PRIVATE_KEY")
	if key == "" {
		log.Fatal().Msg("BIDDER_PRIVATE_KEY environment variable is required")
	}

	client, err := ethclient.DialContext(ctx, config.GetEnv("RPC_URL", "http://localhost:8545"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ledger")
	}
	defer client.Close()

	chainID, err := resolveChainID(ctx, client)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve chain id")
	}

	writer, err := ledger.NewContractWriter(client, details.ContractAddress, key, chainID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind auction contract")
	}

	gw := bidder.NewGateway(auctionID, details.MinBidAmount(), writer, relay)
	gw.ApplyDetails(details)
	if err := gw.RefreshCumulative(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to read current bid")
	}

	switch os.Args[1] {
	case "bid":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		amount, err := decimal.NewFromString(os.Args[2])
		if err != nil {
			log.Fatal().Err(err).Str("amount", os.Args[2]).Msg("invalid amount")
		}
		if err := gw.PlaceBid(ctx, amount); err != nil {
			log.Fatal().Err(err).Msg("bid failed")
		}
	case "withdraw":
		if err := gw.Withdraw(ctx); err != nil {
			log.Fatal().Err(err).Msg("withdraw failed")
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	state := gw.State()
	log.Info().
		Str("auction_id", state.AuctionID).
		Str("wallet", writer.Address()).
		Str("cumulative", state.Cumulative.String()).
		Str("highest_bid", state.HighestBid.String()).
		Bool("leading", state.Leading).
		Msg(string(state.Status))
}

func resolveChainID(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
	if raw := os.Getenv("CHAIN_ID"); raw != "" {
		id, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("invalid CHAIN_ID %q", raw)
		}
		return id, nil
	}
	return client.ChainID(ctx)
}

func watch(ctx context.Context, relayURL, auctionID string) {
	push := bidder.NewPushClient(bidder.PushConfig{
		RelayURL:      relayURL,
		AuctionID:     auctionID,
		Name:          os.Getenv("BIDDER_NAME"),
		WalletAddress: os.Getenv("WALLET_ADDRESS"),
		Token:         os.Getenv("AUCTION_TOKEN"),
	}, clockwork.NewRealClock())

	err := push.Run(ctx, func(ev *events.Event) {
		log.Info().
			Str("type", string(ev.Type)).
			Interface("data", ev.Data).
			Msg("event")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("watch failed")
	}
}
