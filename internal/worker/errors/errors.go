package workererrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adcondev/pos-printer/internal/dispatch"
	"github.com/adcondev/pos-printer/internal/posprinter"
	"github.com/adcondev/pos-printer/internal/spooler"
)

// errorMappings pairs core errors with their client-facing messages.
// Order matters: the first match wins.
var errorMappings = []struct {
	target  error
	message string
}{
	{posprinter.ErrEmptyName, "PRINTER: No printer name specified"},
	{posprinter.ErrPrinterNotFound, "PRINTER: Printer not found - check if it is installed"},
	{posprinter.ErrAccessDenied, "PRINTER: Access denied by the print spooler"},
	{posprinter.ErrOffline, "PRINTER: Printer is offline or in an error state"},
	{posprinter.ErrNotBound, "PRINTER: No printer connected - call connectPrinter first"},
	{posprinter.ErrNoProgress, "SPOOLER: Printer stopped accepting data"},
	{posprinter.ErrTimeout, "TIMEOUT: Printer did not respond in time"},
	{spooler.ErrUnsupported, "PLATFORM: Printing requires the Windows print spooler"},
}

// ExtractUserFriendlyError creates a clean error message for the client
func ExtractUserFriendlyError(err error) string {
	if err == nil {
		return ""
	}

	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.message
		}
	}

	var fault *posprinter.FaultError
	if errors.As(err, &fault) {
		return fmt.Sprintf("FAULT: Unexpected failure during %s", fault.Op)
	}

	var callErr *dispatch.Error
	if errors.As(err, &callErr) {
		return fmt.Sprintf("%s: %s", callErr.Code, callErr.Message)
	}

	errStr := err.Error()
	if strings.Contains(errStr, "invalid base64") || strings.Contains(errStr, "invalid byte at index") {
		return fmt.Sprintf("DATA: %s", extractInnerError(errStr))
	}

	// Fallback: return cleaned error
	return fmt.Sprintf("ERROR: %s", cleanErrorMessage(errStr))
}

// extractInnerError gets the innermost error message
func extractInnerError(errStr string) string {
	parts := strings.Split(errStr, ": ")
	return parts[len(parts)-1]
}

// cleanErrorMessage removes verbose prefixes
func cleanErrorMessage(errStr string) string {
	prefixes := []string{
		"print: ",
		"connect: ",
		"close: ",
		"error enumerating printers: ",
	}
	result := errStr
	for _, prefix := range prefixes {
		result = strings.TrimPrefix(result, prefix)
	}
	return result
}
