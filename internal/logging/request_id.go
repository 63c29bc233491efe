package logging

import "github.com/google/uuid"

// GenerateRequestID returns a random identifier used to correlate the log
// lines one node writes for a single election or replication round. The ID
// is not sent to peers.
func GenerateRequestID() string {
	return uuid.NewString()
}
