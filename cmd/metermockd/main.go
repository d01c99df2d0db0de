// Command metermockd runs the in-memory mock backend for local
// development. It speaks the same wire contract as the production API
// and seeds a small route graph so a freshly built client has something
// to sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/gsm-fullweb/WaterMeterSync/internal/devserver"
	"github.com/gsm-fullweb/WaterMeterSync/internal/remote"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	readerID := flag.String("reader", "dev-reader", "Reader ID to seed a route graph for")
	flag.Parse()

	logger := log.New(os.Stderr)
	logger.SetLevel(log.DebugLevel)

	server := devserver.New(logger)
	server.SetRouteGraph(*readerID, seedGraph())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("mock backend listening", "addr", httpServer.Addr, "reader", *readerID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// seedGraph builds a two-route graph resembling a small town sector.
func seedGraph() *remote.RouteGraph {
	return &remote.RouteGraph{
		Routes: []remote.RemoteRoute{
			{
				ID:   "route-centro",
				Name: "Centro",
				Streets: []remote.RemoteStreet{
					{
						ID:   "street-principal",
						Name: "Rua Principal",
						Residences: []remote.RemoteResidence{
							{
								ID:          "res-101",
								Address:     "Rua Principal, 101",
								MeterSerial: "MTR-0101",
								Client:      &remote.RemoteClient{ID: "cli-101", Name: "Ana Souza", AccountNumber: "AC-101"},
							},
							{
								ID:          "res-103",
								Address:     "Rua Principal, 103",
								MeterSerial: "MTR-0103",
								Client:      &remote.RemoteClient{ID: "cli-103", Name: "Bruno Lima", AccountNumber: "AC-103"},
							},
						},
					},
				},
			},
			{
				ID:   "route-norte",
				Name: "Zona Norte",
				Streets: []remote.RemoteStreet{
					{
						ID:   "street-flores",
						Name: "Rua das Flores",
						Residences: []remote.RemoteResidence{
							{
								ID:          "res-201",
								Address:     "Rua das Flores, 20",
								MeterSerial: "MTR-0201",
								Client:      &remote.RemoteClient{ID: "cli-201", Name: "Carla Dias", AccountNumber: "AC-201"},
							},
						},
					},
				},
			},
		},
	}
}
