// Package forensics holds the append-only device and IP trail used by the
// fraud scorer and the suspicion re-checks. Rows are retained 90 days.
package forensics

import (
	"strings"
	"time"
)

// Action tags recorded in the device/IP log.
const (
	ActionWithdrawalRequest         = "withdrawal_request"
	ActionSuspiciousRapidCompletion = "suspicious_rapid_completion"
)

// SuspiciousPrefix marks action tags that settlement treats as a red flag.
const SuspiciousPrefix = "suspicious_"

// DeviceIPLog is one forensic record.
type DeviceIPLog struct {
	ID                int64
	UserID            int64
	Action            string
	DeviceFingerprint string
	IP                string
	CreatedAt         time.Time
}

// Suspicious reports whether the record's action carries the suspicious tag
// prefix.
func (l DeviceIPLog) Suspicious() bool {
	return strings.HasPrefix(l.Action, SuspiciousPrefix)
}
