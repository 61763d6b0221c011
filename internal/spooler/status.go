package spooler

import "strings"

// Printer status flags (PRINTER_INFO_2.Status).
const (
	StatusPaused           uint32 = 0x00000001
	StatusError            uint32 = 0x00000002
	StatusPendingDeletion  uint32 = 0x00000004
	StatusPaperJam         uint32 = 0x00000008
	StatusPaperOut         uint32 = 0x00000010
	StatusManualFeed       uint32 = 0x00000020
	StatusPaperProblem     uint32 = 0x00000040
	StatusOffline          uint32 = 0x00000080
	StatusIOActive         uint32 = 0x00000100
	StatusBusy             uint32 = 0x00000200
	StatusPrinting         uint32 = 0x00000400
	StatusOutputBinFull    uint32 = 0x00000800
	StatusNotAvailable     uint32 = 0x00001000
	StatusWaiting          uint32 = 0x00002000
	StatusProcessing       uint32 = 0x00004000
	StatusInitializing     uint32 = 0x00008000
	StatusWarmingUp        uint32 = 0x00010000
	StatusTonerLow         uint32 = 0x00020000
	StatusNoToner          uint32 = 0x00040000
	StatusPagePunt         uint32 = 0x00080000
	StatusUserIntervention uint32 = 0x00100000
	StatusOutOfMemory      uint32 = 0x00200000
	StatusDoorOpen         uint32 = 0x00400000
	StatusServerUnknown    uint32 = 0x00800000
	StatusPowerSave        uint32 = 0x01000000
)

// Printer attribute flags (PRINTER_INFO_2.Attributes).
const (
	AttributeDefault     uint32 = 0x00000004
	AttributeShared      uint32 = 0x00000008
	AttributeNetwork     uint32 = 0x00000010
	AttributeLocal       uint32 = 0x00000040
	AttributeWorkOffline uint32 = 0x00000400
)

// unavailableMask holds the flags that mean a job will not reach paper.
const unavailableMask = StatusError | StatusPendingDeletion | StatusPaperJam |
	StatusPaperOut | StatusOffline | StatusNotAvailable | StatusUserIntervention |
	StatusDoorOpen | StatusServerUnknown

// Available reports whether a printer with the given status and attributes
// can take jobs right now.
func Available(status, attributes uint32) bool {
	if attributes&AttributeWorkOffline != 0 {
		return false
	}
	return status&unavailableMask == 0
}

var statusNames = []struct {
	flag uint32
	name string
}{
	{StatusPaused, "paused"},
	{StatusError, "error"},
	{StatusPendingDeletion, "pending deletion"},
	{StatusPaperJam, "paper jam"},
	{StatusPaperOut, "paper out"},
	{StatusManualFeed, "manual feed"},
	{StatusPaperProblem, "paper problem"},
	{StatusOffline, "offline"},
	{StatusIOActive, "io active"},
	{StatusBusy, "busy"},
	{StatusPrinting, "printing"},
	{StatusOutputBinFull, "output bin full"},
	{StatusNotAvailable, "not available"},
	{StatusWaiting, "waiting"},
	{StatusProcessing, "processing"},
	{StatusInitializing, "initializing"},
	{StatusWarmingUp, "warming up"},
	{StatusTonerLow, "toner low"},
	{StatusNoToner, "no toner"},
	{StatusPagePunt, "page punt"},
	{StatusUserIntervention, "user intervention"},
	{StatusOutOfMemory, "out of memory"},
	{StatusDoorOpen, "door open"},
	{StatusServerUnknown, "server unknown"},
	{StatusPowerSave, "power save"},
}

// StatusText renders status flags as a comma separated list, "ready" when
// no flag is set.
func StatusText(status, attributes uint32) string {
	var parts []string
	for _, s := range statusNames {
		if status&s.flag != 0 {
			parts = append(parts, s.name)
		}
	}
	if attributes&AttributeWorkOffline != 0 && status&StatusOffline == 0 {
		parts = append(parts, "offline")
	}
	if len(parts) == 0 {
		return "ready"
	}
	return strings.Join(parts, ", ")
}
