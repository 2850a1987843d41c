package transport

import (
	applog "spectro/internal/log"
	"spectro/internal/spectrogram"
	"spectro/pkg/utils"
)

// LoggingTransport implements the Transport interface by logging a one-line
// summary of each column at debug level.
type LoggingTransport struct {
	log applog.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{log: applog.WithPrefix("LoggingTransport")}
	lt.log.Infof("using logging transport")
	return lt
}

// Send logs the column time, bin count and peak frequency.
func (lt *LoggingTransport) Send(col spectrogram.Column) error {
	if len(col.Magnitudes) == 0 {
		return nil
	}
	peak := utils.FindPeakBin(col.Magnitudes, 1, len(col.Magnitudes)-1)
	lt.log.Debugf("t=%.3fs bins=%d peak=%.1f Hz (%.2f)",
		col.Time, len(col.Magnitudes), float64(peak)*col.BinWidth, col.Magnitudes[peak])
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	lt.log.Debugf("close called")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
