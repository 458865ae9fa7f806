package projection

import (
	"fmt"
	"time"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
)

// ServiceWindow is how long after the peer's last inbound message
// outbound composition stays enabled.
const ServiceWindow = 24 * time.Hour

// ServiceWindowActive reports whether the last message authored by
// someone other than selfID is younger than the service window. With no
// peer message on record the window is closed.
func ServiceWindowActive(msgs []*models.Message, selfID string, now time.Time) bool {
	var last int64
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].UserID != selfID {
			last = msgs[i].CreatedAt
			break
		}
	}
	if last == 0 {
		return false
	}
	return now.UnixMilli()-last < ServiceWindow.Milliseconds()
}

// ServiceWindowRemaining formats the time left until the window closes,
// "Expired" once it has.
func ServiceWindowRemaining(lastPeerAt int64, now time.Time) string {
	expiresAt := lastPeerAt + ServiceWindow.Milliseconds()
	diff := expiresAt - now.UnixMilli()
	if diff <= 0 {
		return "Expired"
	}
	d := time.Duration(diff) * time.Millisecond
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
