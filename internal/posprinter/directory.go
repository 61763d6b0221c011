// Package posprinter holds the printer directory and the single printer
// session used to stream raw jobs.
package posprinter

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/adcondev/pos-printer/internal/printer"
	"github.com/adcondev/pos-printer/internal/spooler"
)

// DefaultCacheTTL is how long a cached enumeration is served.
const DefaultCacheTTL = 30 * time.Second

// Descriptor is a read-only snapshot of one printer at enumeration time.
type Descriptor struct {
	Name      string
	Model     string
	Port      string
	Status    string
	IsDefault bool
	Available bool
	IsVirtual bool
	IsThermal bool
}

// DTO converts the descriptor to its getList wire form.
func (d Descriptor) DTO() printer.DescriptorDTO {
	return printer.DescriptorDTO{
		Name:      d.Name,
		Model:     d.Model,
		Default:   d.IsDefault,
		Available: d.Available,
	}
}

// Directory handles printer enumeration with caching
type Directory struct {
	spooler     spooler.Spooler
	cache       []Descriptor
	lastRefresh time.Time
	cacheTTL    time.Duration
	mu          sync.RWMutex
}

// NewDirectory creates a directory over the given spooler
func NewDirectory(sp spooler.Spooler, cacheTTL time.Duration) *Directory {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Directory{
		spooler:  sp,
		cacheTTL: cacheTTL,
	}
}

// List returns cached printers or enumerates again if stale or forced.
// An installation without printers yields an empty slice and no error.
func (d *Directory) List(forceRefresh bool) ([]Descriptor, error) {
	d.mu.RLock()
	if !forceRefresh && d.fresh() {
		result := cloneDescriptors(d.cache)
		d.mu.RUnlock()
		return result, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !forceRefresh && d.fresh() {
		return cloneDescriptors(d.cache), nil
	}

	printers, err := d.enumerate()
	if err != nil {
		if d.cache != nil {
			return cloneDescriptors(d.cache), err // stale copy
		}
		return nil, err
	}

	d.cache = printers
	d.lastRefresh = time.Now()
	return cloneDescriptors(printers), nil
}

func (d *Directory) fresh() bool {
	return d.cache != nil && time.Since(d.lastRefresh) < d.cacheTTL
}

// enumerate builds descriptors from the spooler. Unnamed entries are
// skipped; duplicates (a local queue and a connection with the same name)
// are kept once.
func (d *Directory) enumerate() ([]Descriptor, error) {
	infos, err := d.spooler.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("error enumerating printers: %w", err)
	}

	defaultName, err := d.spooler.DefaultPrinter()
	if err != nil {
		log.Printf("[PRINTERS] ⚠️ Could not resolve default printer: %v", err)
		defaultName = ""
	}

	out := make([]Descriptor, 0, len(infos))
	seen := make(map[string]bool, len(infos))
	defaultTaken := false

	for i, info := range infos {
		if info.Name == "" {
			log.Printf("[PRINTERS] ⚠️ Skipping unnamed spooler entry #%d (driver %q)", i, info.Driver)
			continue
		}
		key := strings.ToLower(info.Name)
		if seen[key] {
			continue
		}
		seen[key] = true

		isDefault := !defaultTaken && defaultName != "" && strings.EqualFold(info.Name, defaultName)
		if isDefault {
			defaultTaken = true
		}

		out = append(out, Descriptor{
			Name:      info.Name,
			Model:     info.Driver,
			Port:      info.Port,
			Status:    spooler.StatusText(info.Status, info.Attributes),
			IsDefault: isDefault,
			Available: spooler.Available(info.Status, info.Attributes),
			IsVirtual: isVirtual(info),
			IsThermal: isThermal(info),
		})
	}
	return out, nil
}

// Summary returns a lightweight summary for health checks
func (d *Directory) Summary() printer.Summary {
	printers, err := d.List(false)
	if err != nil {
		return printer.Summary{Status: "error"}
	}

	s := printer.Summary{DetectedCount: len(printers)}
	physical, physicalAvailable := 0, 0
	for _, p := range printers {
		if p.Available {
			s.AvailableCount++
		}
		if p.IsThermal {
			s.ThermalCount++
		}
		if p.IsDefault {
			s.DefaultName = p.Name
		}
		if !p.IsVirtual {
			physical++
			if p.Available {
				physicalAvailable++
			}
		}
	}

	switch {
	case physical == 0:
		s.Status = "error"
	case physicalAvailable == 0 || s.ThermalCount == 0:
		s.Status = "warning"
	default:
		s.Status = "ok"
	}
	return s
}

var virtualMarkers = []string{"pdf", "xps", "onenote", "fax", "send to", "microsoft print to"}

var virtualPorts = []string{"file:", "portprompt:", "nul:", "xps", "onenote"}

var thermalMarkers = []string{
	"thermal", "receipt", "pos-", "pos ", "pos58", "pos80", "esc/pos", "escpos",
	"tm-t", "tsp1", "58mm", "80mm", "xp-58", "xp-80", "pt-210", "gp-58", "ec-pm",
}

func isVirtual(info spooler.PrinterInfo) bool {
	text := strings.ToLower(info.Name + " " + info.Driver)
	for _, m := range virtualMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	port := strings.ToLower(info.Port)
	for _, p := range virtualPorts {
		if strings.HasPrefix(port, p) {
			return true
		}
	}
	return false
}

func isThermal(info spooler.PrinterInfo) bool {
	text := strings.ToLower(info.Name + " " + info.Driver)
	for _, m := range thermalMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func cloneDescriptors(in []Descriptor) []Descriptor {
	out := make([]Descriptor, len(in))
	copy(out, in)
	return out
}
