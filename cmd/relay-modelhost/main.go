// relay-modelhost serves the identity model to remote relay servers over TCP,
// a unix socket or vsock.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/seantiz/relay/internal/backend"
	"github.com/seantiz/relay/internal/backend/identity"
	"github.com/seantiz/relay/internal/modelhost"
	"github.com/seantiz/relay/internal/wire"
)

func main() {
	klog.InitFlags(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := "tcp://:8001"
	modelName := identity.ModelName
	var latency time.Duration
	flag.StringVar(&listen, "listen", listen, "listen address (tcp://host:port, unix:///path or vsock://cid:port)")
	flag.StringVar(&modelName, "model", modelName, "name to serve the identity model under")
	flag.DurationVar(&latency, "latency", latency, "artificial latency added to every call")
	flag.Parse()

	addr, err := wire.ParseAddress(listen)
	if err != nil {
		return fmt.Errorf("parsing listen address: %w", err)
	}

	l, err := wire.Listen(addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	reg := backend.NewRegistry()
	reg.Register(modelName, identity.New(identity.WithLatency(latency)))

	srv := modelhost.New(l, reg)
	go func() {
		<-ctx.Done()
		log.Info("shutting down model host")
		srv.Close()
	}()

	log.Info("serving model", "model", modelName, "addr", addr.String(), "latency", latency)
	if err := srv.Serve(klog.NewContext(ctx, log)); err != nil {
		return fmt.Errorf("serving on %s: %w", addr, err)
	}
	return nil
}
