package schema

import "errors"

// HistoryMode selects which messages accompany a chat request.
type HistoryMode string

const (
	// HistoryLatest sends only the new human message.
	HistoryLatest HistoryMode = "latest"
	// HistoryFull sends the prior transcript plus the new message.
	HistoryFull HistoryMode = "full"
)

// DefaultFreeMessages is the unauthenticated message allowance.
const DefaultFreeMessages = 20

// NoFreeMessages sets a zero allowance: guests must sign in before the
// first message.
const NoFreeMessages = -1

// ChatConfig tunes the chat controller.
type ChatConfig struct {
	// FreeMessages is the guest allowance. Zero selects
	// DefaultFreeMessages and NoFreeMessages disables guest chat.
	FreeMessages int
	HistoryMode  HistoryMode
}

// NormalizeChatConfig applies defaults and validates the config.
func NormalizeChatConfig(cfg ChatConfig) (ChatConfig, error) {
	switch {
	case cfg.FreeMessages == NoFreeMessages:
		cfg.FreeMessages = 0
	case cfg.FreeMessages < 0:
		return ChatConfig{}, errors.New("free messages must not be negative")
	case cfg.FreeMessages == 0:
		cfg.FreeMessages = DefaultFreeMessages
	}
	switch cfg.HistoryMode {
	case "":
		cfg.HistoryMode = HistoryLatest
	case HistoryLatest, HistoryFull:
	default:
		return ChatConfig{}, errors.New("history mode must be latest or full")
	}
	return cfg, nil
}
