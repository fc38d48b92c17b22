package wallet

import "go.uber.org/zap"

// Notifier surfaces user-visible outcomes.
type Notifier interface {
	Success(title string)
	Error(title string, err error)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier logging under "notify".
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Success logs a success notification.
func (n *LogNotifier) Success(title string) {
	n.logger.Info(title)
}

// Error logs a failure notification.
func (n *LogNotifier) Error(title string, err error) {
	n.logger.Error(title, zap.Error(err))
}
