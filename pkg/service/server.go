// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/routing"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
	"github.com/plainclass/plain-rtc/version"
)

const shutdownTimeout = 5 * time.Second

type PlainRTCServer struct {
	config      *config.Config
	roomManager *RoomManager
	gateway     *ConnectionGateway
	chatStore   ChatStore
	currentNode *routing.LocalNode
	handler     http.Handler
	httpServer  *http.Server
	promServer  *http.Server
	running     atomic.Bool
	doneChan    chan struct{}
	closedChan  chan struct{}
}

func NewPlainRTCServer(
	conf *config.Config,
	roomService *RoomService,
	chatRoomService *ChatRoomService,
	gateway *ConnectionGateway,
	validator TokenValidator,
	roomManager *RoomManager,
	chatStore ChatStore,
	currentNode *routing.LocalNode,
) *PlainRTCServer {
	s := &PlainRTCServer{
		config:      conf,
		roomManager: roomManager,
		gateway:     gateway,
		chatStore:   chatStore,
		currentNode: currentNode,
		doneChan:    make(chan struct{}),
		closedChan:  make(chan struct{}),
	}

	middlewares := []negroni.Handler{
		// always first
		negroni.NewRecovery(),
		cors.New(cors.Options{
			AllowedOrigins:   conf.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
		NewAPIKeyAuthMiddleware(validator),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/meeting/{roomId}", gateway.ServeMeeting)
	mux.HandleFunc("GET /ws/chat/{chatId}", gateway.ServeChat)
	roomService.RegisterRoutes(mux)
	chatRoomService.RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", s.healthCheck)

	s.handler = configureMiddlewares(mux, middlewares...)
	s.httpServer = &http.Server{
		Handler: s.handler,
	}

	if conf.PrometheusPort > 0 {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", promhttp.Handler())
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: promMux,
		}
	}
	return s
}

// Handler is the fully wrapped HTTP handler, exposed for in-process servers.
func (s *PlainRTCServer) Handler() http.Handler {
	return s.handler
}

func (s *PlainRTCServer) Node() *routing.LocalNode {
	return s.currentNode
}

func (s *PlainRTCServer) IsRunning() bool {
	return s.running.Load()
}

// Start blocks until Stop is called.
func (s *PlainRTCServer) Start() error {
	if s.running.Swap(true) {
		return errors.New("already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err := s.roomManager.Cleanup(ctx)
	cancel()
	if err != nil {
		logger.Warnw("could not clean up stale rooms", err)
	}
	s.roomManager.Start()

	addresses := s.config.BindAddresses
	if len(addresses) == 0 {
		addresses = []string{""}
	}

	// ensure we could listen
	listeners := make([]net.Listener, 0, len(addresses))
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.Port))))
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return err
		}
		listeners = append(listeners, ln)
	}

	var eg errgroup.Group
	for _, ln := range listeners {
		eg.Go(func() error {
			return s.httpServer.Serve(ln)
		})
	}
	if s.promServer != nil {
		eg.Go(func() error {
			return s.promServer.ListenAndServe()
		})
	}
	go s.backgroundWorker()

	logger.Infow("starting plain-rtc server",
		"version", version.Version,
		"nodeID", s.currentNode.NodeID(),
		"bindAddresses", addresses,
		"port", s.config.Port,
		"prometheusPort", s.config.PrometheusPort,
	)

	<-s.doneChan

	s.gateway.Stop()
	s.roomManager.Stop()

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
	if s.promServer != nil {
		_ = s.promServer.Shutdown(ctx)
	}
	if err := eg.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warnw("server exited with error", err)
	}
	if err := s.chatStore.Close(); err != nil {
		logger.Warnw("could not close chat store", err)
	}

	close(s.closedChan)
	return nil
}

func (s *PlainRTCServer) Stop(force bool) {
	if !s.running.Swap(false) {
		return
	}
	if !force {
		logger.Infow("stopping server")
	}
	close(s.doneChan)
	<-s.closedChan
}

func (s *PlainRTCServer) backgroundWorker() {
	s.currentNode.UpdateNodeStats()

	ticker := time.NewTicker(prometheus.StatsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.doneChan:
			return
		case <-ticker.C:
			s.currentNode.UpdateNodeStats()
		}
	}
}

func (s *PlainRTCServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	// stats go stale when the background worker is stuck
	if s.IsRunning() && s.currentNode.SecondsSinceNodeStatsUpdate() > 4*prometheus.StatsUpdateInterval.Seconds() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "node stats are stale"})
		return
	}
	writeJSON(w, http.StatusOK, s.currentNode.Stats())
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
