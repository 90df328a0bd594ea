package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateTicketNumber returns a ticket number in the backend's format,
// e.g. "DS-260829-4F2A": a date part plus four hex characters of entropy.
func GenerateTicketNumber(now time.Time) string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return fmt.Sprintf("DS-%s-%s", now.UTC().Format("060102"), random)
}
