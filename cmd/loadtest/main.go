package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/transport/grpcapi"
)

type loadMode string

const (
	// modeCreate — корзина и оформление заказа.
	modeCreate loadMode = "create"
	// modeCreateReplay дополнительно повторяет CreateOrder с тем же ключом и ждёт дубликат.
	modeCreateReplay loadMode = "create-replay"
	// modeCreateCancel отменяет часть заказов (cancel-rate процентов).
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	addr        string
	total       int
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   int64
	qty         int
	customerTag string
	outputPath  string
}

// scenarioClient — подмножество grpcapi.Client, нужное сценарию.
type scenarioClient interface {
	AddToCart(ctx context.Context, in *grpcapi.AddToCartRequest, opts ...grpc.CallOption) (*grpcapi.CartResponse, error)
	CreateOrder(ctx context.Context, in *grpcapi.CreateOrderRequest, opts ...grpc.CallOption) (*grpcapi.CreateOrderResponse, error)
	AdvanceOrder(ctx context.Context, in *grpcapi.AdvanceOrderRequest, opts ...grpc.CallOption) (*grpcapi.OrderResponse, error)
}

var errNotDuplicate = errors.New("replayed create was not reported as duplicate")

func parseConfig(args []string) (config, error) {
	var (
		cfg  config
		mode string
	)
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC address")
	fs.IntVar(&cfg.total, "total", 100, "number of scenarios (ignored when -duration is set)")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of -total")
	fs.IntVar(&cfg.concurrency, "concurrency", 10, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-call timeout")
	fs.StringVar(&mode, "mode", string(modeCreate), "create|create-replay|create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 100, "percent of orders to cancel in create-cancel mode")
	fs.Int64Var(&cfg.productID, "product-id", 1, "product to order")
	fs.IntVar(&cfg.qty, "qty", 1, "quantity per order")
	fs.StringVar(&cfg.customerTag, "customer-tag", "loadtest", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "write JSON report to file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.mode = loadMode(strings.ToLower(strings.TrimSpace(mode)))
	switch {
	case cfg.mode != modeCreate && cfg.mode != modeCreateReplay && cfg.mode != modeCreateCancel:
		return config{}, fmt.Errorf("unsupported mode %q", mode)
	case strings.TrimSpace(cfg.addr) == "":
		return config{}, errors.New("addr is required")
	case cfg.duration <= 0 && cfg.total <= 0:
		return config{}, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return config{}, errors.New("cancel-rate must be in [0,100]")
	case cfg.productID <= 0 || cfg.qty <= 0:
		return config{}, errors.New("product-id and qty must be > 0")
	}
	return cfg, nil
}

type runner struct {
	cfg    config
	client scenarioClient
	runID  string
	col    *collector
}

// call выполняет один RPC от имени покупателя и записывает латентность.
func (r *runner) call(ctx context.Context, method, customerID string, extra []string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	pairs := append([]string{grpcapi.MetadataCustomerID, customerID}, extra...)
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)

	start := time.Now()
	err := fn(ctx)
	r.col.record(method, time.Since(start), status.Code(err))
	return err
}

func (r *runner) scenario(ctx context.Context, index int) (err error) {
	start := time.Now()
	defer func() {
		r.col.record(scenarioMetric, time.Since(start), status.Code(err))
	}()

	customerID := fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index)
	key := []string{grpcapi.MetadataIdempotencyKey, fmt.Sprintf("lt-%s-%d", r.runID, index)}

	err = r.call(ctx, "AddToCart", customerID, nil, func(ctx context.Context) error {
		_, err := r.client.AddToCart(ctx, &grpcapi.AddToCartRequest{ProductID: r.cfg.productID, Qty: int32(r.cfg.qty)})
		return err
	})
	if err != nil {
		return err
	}

	createReq := &grpcapi.CreateOrderRequest{PaymentMethod: "card", ShippingMethod: "standard"}
	var created *grpcapi.CreateOrderResponse
	err = r.call(ctx, "CreateOrder", customerID, key, func(ctx context.Context) error {
		var err error
		created, err = r.client.CreateOrder(ctx, createReq)
		return err
	})
	if err != nil {
		return err
	}

	switch r.cfg.mode {
	case modeCreateReplay:
		return r.call(ctx, "CreateOrderReplay", customerID, key, func(ctx context.Context) error {
			replayed, err := r.client.CreateOrder(ctx, createReq)
			if err != nil {
				return err
			}
			if !replayed.Duplicate || replayed.OrderID != created.OrderID {
				return errNotDuplicate
			}
			return nil
		})
	case modeCreateCancel:
		if !shouldCancel(index, r.cfg.cancelRate) {
			return nil
		}
		return r.call(ctx, "AdvanceOrder", customerID, nil, func(ctx context.Context) error {
			_, err := r.client.AdvanceOrder(ctx, &grpcapi.AdvanceOrderRequest{
				OrderID: created.OrderID,
				Event:   string(domain.OrderEventCancelled),
				Note:    "load-cancel",
			})
			return err
		})
	}
	return nil
}

func shouldCancel(index, rate int) bool {
	return index%100 < rate
}

// run раздаёт сценарии воркерам: фиксированное число или до истечения duration.
func (r *runner) run(ctx context.Context) {
	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = r.scenario(ctx, index)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	dispatch := ctx
	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		dispatch, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	for index := 0; r.cfg.duration > 0 || index < r.cfg.total; index++ {
		select {
		case <-dispatch.Done():
			return
		case jobs <- index:
		}
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.WithError(err).Fatal("failed to create grpc client")
	}
	defer conn.Close()

	startedAt := time.Now()
	r := &runner{
		cfg:    cfg,
		client: grpcapi.NewClient(conn),
		runID:  fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:    newCollector(),
	}
	r.run(context.Background())

	result := r.col.buildReport(startedAt, time.Since(startedAt))
	printReport(os.Stdout, result, cfg.mode)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			log.WithError(err).Fatal("failed to write report")
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}
