package platform

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// LoggingClient is a development stand-in for the real platform binding:
// every call is logged and succeeds with synthetic identifiers. Production
// wiring swaps in the concrete client at bootstrap.
type LoggingClient struct {
	logger *zap.Logger
	nextID atomic.Int64
}

// NewLoggingClient constructs the stub.
func NewLoggingClient(logger *zap.Logger) *LoggingClient {
	return &LoggingClient{logger: logger}
}

func (c *LoggingClient) SendMessage(ctx context.Context, msg OutgoingMessage) (*SentMessage, error) {
	id := c.nextID.Add(1)
	c.logger.Debug("sendMessageStub",
		zap.Int64("chat_id", msg.ChatID),
		zap.Int64("thread_id", msg.ThreadID),
		zap.String("text", msg.Text))
	return &SentMessage{MessageID: id}, nil
}

func (c *LoggingClient) EditMessage(ctx context.Context, chatID, threadID, messageID int64, text string) error {
	c.logger.Debug("editMessageStub",
		zap.Int64("chat_id", chatID),
		zap.Int64("thread_id", threadID),
		zap.Int64("message_id", messageID))
	return nil
}

func (c *LoggingClient) CreateThread(ctx context.Context, title string) (int64, error) {
	id := c.nextID.Add(1)
	c.logger.Debug("createThreadStub", zap.String("title", title), zap.Int64("thread_id", id))
	return id, nil
}

func (c *LoggingClient) ThreadAdmins(ctx context.Context) ([]Admin, error) {
	return nil, nil
}

func (c *LoggingClient) Me(ctx context.Context) (*Identity, error) {
	return &Identity{UserID: 0, Username: "support-relay-bot"}, nil
}
