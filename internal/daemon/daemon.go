package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/judwhite/go-svc"

	"github.com/adcondev/pos-printer/internal/auth"
	"github.com/adcondev/pos-printer/internal/config"
	"github.com/adcondev/pos-printer/internal/dispatch"
	"github.com/adcondev/pos-printer/internal/posprinter"
	"github.com/adcondev/pos-printer/internal/printer"
	"github.com/adcondev/pos-printer/internal/server"
	"github.com/adcondev/pos-printer/internal/spooler"
	"github.com/adcondev/pos-printer/internal/worker"
)

// sessionCloseTimeout bounds releasing the printer handle on Stop.
const sessionCloseTimeout = 10 * time.Second

// Program implements svc.Service interface
type Program struct {
	wg         sync.WaitGroup
	quit       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        config.Environment
	configured bool
	sp         spooler.Spooler
	directory  *posprinter.Directory
	session    *posprinter.Session
	httpServer *http.Server
	wsServer   *server.Server
	callWorker *worker.Worker
	authMgr    *auth.Manager
	startTime  time.Time
}

// Init loads the configuration and initializes logging
func (p *Program) Init(_ svc.Environment) error {
	cfg, err := config.Load(config.BuildEnvironment, config.ProgramData())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	p.cfg = cfg
	p.configured = true

	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║   🖨️  POS PRINTER - Raw Spooler Bridge                      ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")
	log.Printf("[INIT] 🚀 Starting service - Environment: %s", cfg.Name)
	log.Printf("[INIT] 📅 Build: %s %s", config.BuildDate, config.BuildTime)

	return nil
}

// Start starts the service
func (p *Program) Start() error {
	p.quit = make(chan struct{})
	p.startTime = time.Now()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if !p.configured {
		p.cfg = config.GetEnvironment(config.BuildEnvironment)
	}
	cfg := p.cfg
	if p.sp == nil {
		p.sp = spooler.New()
	}

	// Initialize auth manager (bound to service context for clean shutdown)
	p.authMgr = auth.NewManager(p.ctx, config.TokenHashB64, config.AuthToken)

	// Printer core
	p.directory = posprinter.NewDirectory(p.sp, cfg.DiscoveryTTL)
	p.session = posprinter.NewSession(p.sp,
		posprinter.WithIOTimeout(cfg.IOTimeout),
		posprinter.WithDocName(cfg.DocName),
	)
	LogStartupDiagnostics(p.directory)
	ConnectDefaultPrinter(p.ctx, p.session, cfg.DefaultPrinter)

	// Initialize WebSocket server
	p.wsServer = server.NewServer(server.Config{
		QueueSize:  cfg.QueueCapacity,
		CallLimits: map[string]int{
			dispatch.MethodPrintBytes:     cfg.PrintRatePerMinute,
			dispatch.MethodConnectPrinter: cfg.ConnectRatePerMinute,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           p.authMgr,
	}, p.directory)

	// Initialize call worker
	p.callWorker = worker.NewWorker(
		p.wsServer.JobQueue(),
		dispatch.New(p.directory, p.session),
		p.wsServer,
		worker.Config{CallTimeout: cfg.CallTimeout()},
	)
	p.callWorker.Start()

	p.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      p.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		log.Println("┌─────────────────────────────────────────────────────────────┐")
		log.Printf("│ 🖨️  POS PRINTER READY - Environment: %-23s│", cfg.Name)
		log.Printf("│ 🔌 WebSocket: ws://%s/ws%-25s│", cfg.ListenAddr, "")
		log.Printf("│ 💚 Health:     http://%s/health%-20s│", cfg.ListenAddr, "")
		log.Printf("│ 🔐 Auth:       %-43v│", p.authMgr.Enabled())
		log.Println("└─────────────────────────────────────────────────────────────┘")

		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] ❌ Error starting HTTP server: %v", err)
		}
	}()

	return nil
}

// routes builds the HTTP mux
func (p *Program) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.wsServer.HandleWebSocket) // token validated per call
	mux.HandleFunc("/health", p.handleHealth)         // public for monitoring tools
	return mux
}

// handleHealth reports session, queue, worker and printer state
func (p *Program) handleHealth(w http.ResponseWriter, _ *http.Request) {
	current, capacity := p.wsServer.QueueStatus()
	stats := p.callWorker.Stats()

	var utilization float64
	if capacity > 0 {
		utilization = float64(current) / float64(capacity) * 100
	}

	name, bound := p.session.Bound()

	response := HealthResponse{
		Status:  "ok",
		Session: printer.SessionDTO{Bound: bound, Printer: name},
		Queue: QueueStatus{
			Current:     current,
			Capacity:    capacity,
			Utilization: utilization,
		},
		Worker: WorkerStatus{
			Running:       stats.IsRunning,
			JobsProcessed: stats.JobsProcessed,
			JobsFailed:    stats.JobsFailed,
		},
		Printers: p.directory.Summary(),
		Clients:  p.wsServer.ClientCount(),
		Build: BuildInfo{
			Env:  config.BuildEnvironment,
			Date: config.BuildDate,
			Time: config.BuildTime,
		},
		Uptime: int(time.Since(p.startTime).Seconds()),
	}

	if response.Printers.Status == "error" {
		response.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(response)
}

// Stop stops the service gracefully
func (p *Program) Stop() error {
	log.Println("[STOP] 🛑 Service shutting down...")

	// 1. Cancel context (stops auth cleanup goroutine)
	p.cancel()

	// 2. Stop call worker
	if p.callWorker != nil {
		p.callWorker.Stop()
	}

	// 3. Graceful HTTP shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[STOP] ⚠️ HTTP shutdown error: %v", err)
		}
	}

	// 4. Shutdown WebSocket server
	if p.wsServer != nil {
		p.wsServer.Shutdown()
	}

	// 5. Release the printer handle
	if p.session != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		if err := p.session.Close(closeCtx); err != nil {
			log.Printf("[STOP] ⚠️ Error releasing printer: %v", err)
		}
		closeCancel()
	}

	close(p.quit)
	p.wg.Wait()

	uptime := time.Since(p.startTime)
	log.Printf("[STOP] ✅ Service stopped (uptime: %v)", uptime.Round(time.Second))
	return nil
}

func initLogging(envConfig config.Environment) error {
	logPath := envConfig.LogPath(config.ProgramData())
	logDir := filepath.Dir(logPath)

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	policy := RotationPolicy{
		MaxBytes:  int64(envConfig.LogMaxSizeMB) << 20,
		KeepLines: envConfig.LogKeepLines,
	}
	if err := InitLogger(logPath, envConfig.Verbose, policy); err != nil {
		return err
	}

	log.Printf("[INIT] 📁 Log file: %s (rotates at %d MB, keeps %d lines)",
		logPath, envConfig.LogMaxSizeMB, envConfig.LogKeepLines)
	return nil
}
