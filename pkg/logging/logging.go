// Package logging configures the process-wide structured logger.
package logging

import (
	"strings"

	"github.com/charmbracelet/log"
)

// Setup applies the configured level to the default charmbracelet logger,
// which every package logs through. Unknown levels fall back to info.
func Setup(level string) {
	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	log.SetReportTimestamp(true)
}
