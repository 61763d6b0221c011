package daemon

import (
	"context"
	"log"

	"github.com/adcondev/pos-printer/internal/posprinter"
)

// PrinterLister is the part of the directory the diagnostics need.
type PrinterLister interface {
	List(forceRefresh bool) ([]posprinter.Descriptor, error)
}

// PrinterConnector binds the session to a named printer.
type PrinterConnector interface {
	PickPrinter(ctx context.Context, name string) error
}

// LogStartupDiagnostics logs printer info at service start
func LogStartupDiagnostics(printers PrinterLister) {
	list, err := printers.List(true)
	if err != nil {
		log.Printf("[PRINTERS] ⚠️ Error enumerating printers: %v", err)
		return
	}

	log.Println("[PRINTERS] ══════════════════════════════════════════════════")
	log.Printf("[PRINTERS] 🖨️ Detected %d installed printer(s)", len(list))

	thermal := 0
	for _, p := range list {
		if !p.IsThermal {
			continue
		}
		thermal++
		mark := ""
		if p.IsDefault {
			mark = " ⭐"
		}
		log.Printf("[PRINTERS]    • %s [%s] (%s)%s", p.Name, p.Port, p.Status, mark)
	}
	if thermal == 0 {
		log.Println("[PRINTERS] ⚠️ No thermal printers detected!")
	}

	if GetVerbose() {
		for _, p := range list {
			switch {
			case p.IsVirtual:
				log.Printf("[PRINTERS]    (virtual) %s", p.Name)
			case !p.IsThermal:
				log.Printf("[PRINTERS]    (other) %s [%s] (%s)", p.Name, p.Port, p.Status)
			}
		}
	}
	log.Println("[PRINTERS] ══════════════════════════════════════════════════")
}

// ConnectDefaultPrinter binds the configured printer at start.
// Failure is logged and reported but never stops the service.
func ConnectDefaultPrinter(ctx context.Context, session PrinterConnector, name string) bool {
	if name == "" {
		log.Println("[PRINTERS] ℹ️ No default printer configured, waiting for connectPrinter")
		return false
	}
	if err := session.PickPrinter(ctx, name); err != nil {
		log.Printf("[PRINTERS] ⚠️ Could not connect default printer %q: %v", name, err)
		return false
	}
	log.Printf("[PRINTERS] ✅ Default printer %q connected", name)
	return true
}
