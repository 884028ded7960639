package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"aqiwatch/internal/types"
)

// StubEmailProvider implements EmailProvider by logging calls and keeping the
// sent messages in memory. Used when APP_ENV=local or EMAIL_PROVIDER=stub.
type StubEmailProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []types.SendInput
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.mu.Lock()
	s.sent = append(s.sent, input)
	n := len(s.sent)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "stub: Send email called",
		"subject", input.Subject,
		"from", input.From.Address,
		"reference_id", input.ReferenceID,
	)
	return fmt.Sprintf("msg_stub_%d", n), nil
}

// Sent returns a copy of every message accepted so far.
func (s *StubEmailProvider) Sent() []types.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SendInput(nil), s.sent...)
}

var _ EmailProvider = (*StubEmailProvider)(nil)
