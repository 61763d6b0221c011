// Package main es el punto de entrada de POS Printer.
// POS Printer es un servicio de Windows que recibe llamadas vía WebSocket
// y envía buffers ESC/POS crudos al spooler de impresión.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/judwhite/go-svc"

	"github.com/adcondev/pos-printer/internal/daemon"
)

func main() {
	// Parse flags
	consoleMode := flag.Bool("console", false, "Run in console mode (not as service)")
	flag.Parse()

	prg := &daemon.Program{}

	// Check if running interactively (console mode)
	if *consoleMode || isInteractive() {
		runConsole(prg)
		return
	}

	// Run as Windows Service
	if err := svc.Run(prg, syscall.SIGINT, syscall.SIGTERM); err != nil {
		log.Fatal(err)
	}
}

// runConsole runs the program in console mode
func runConsole(prg *daemon.Program) {
	if err := prg.Init(nil); err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	if err := prg.Start(); err != nil {
		log.Fatalf("Start failed: %v", err)
	}

	log.Println("═══════════════════════════════════════════════════════")
	log.Println("  🖨️  POS PRINTER - Modo Consola")
	log.Println("  Presiona Ctrl+C para detener...")
	log.Println("═══════════════════════════════════════════════════════")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("🛑 Shutting down...")
	if err := prg.Stop(); err != nil {
		log.Printf("Stop failed: %v", err)
	}
}

// isInteractive checks if running from a terminal (not as service)
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	// If stdin is a character device (terminal), we're interactive
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
