package v1

// QueueItemStatus tracks a queued task through a session's work queue.
type QueueItemStatus string

const (
	QueueItemQueued     QueueItemStatus = "queued"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemFailed     QueueItemStatus = "failed"
	QueueItemSkipped    QueueItemStatus = "skipped"
)

// IsTerminal reports whether the item has finished moving through the queue.
func (s QueueItemStatus) IsTerminal() bool {
	switch s {
	case QueueItemCompleted, QueueItemFailed, QueueItemSkipped:
		return true
	}
	return false
}
