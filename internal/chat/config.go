package chat

import "time"

// Config holds the orchestrator's pacing windows and probabilities. All
// delays are jittered: the effective delay is Min + rand*Jitter.
type Config struct {
	// TurnHistoryWindow is how many trailing messages a reply turn sees.
	TurnHistoryWindow int
	// TransferHistoryWindow is the wider window for transfer reactions.
	TransferHistoryWindow int
	// CallTimeout bounds one completion call.
	CallTimeout time.Duration
	// Temperature is passed through to the model.
	Temperature float32

	// Single-conversation pacing between bubbles of one reply.
	BubbleDelayMin    time.Duration
	BubbleDelayJitter time.Duration

	// Group pacing: within one member's reply, and between members.
	GroupBubbleDelayMin    time.Duration
	GroupBubbleDelayJitter time.Duration
	ResponderDelayMin      time.Duration
	ResponderDelayJitter   time.Duration

	// GroupExtraResponderChance is the probability that one unmentioned
	// member joins in after the mentioned ones.
	GroupExtraResponderChance float64

	// Transfer reaction pacing.
	TransferReactDelay        time.Duration
	TransferBubbleDelayMin    time.Duration
	TransferBubbleDelayJitter time.Duration
	TransferAcceptDelay       time.Duration

	// Sticker echo: probability and delay of answering a sticker with a
	// sticker.
	StickerEchoChance      float64
	StickerEchoDelayMin    time.Duration
	StickerEchoDelayJitter time.Duration
}

// DefaultConfig returns the standard pacing profile.
func DefaultConfig() Config {
	return Config{
		TurnHistoryWindow:     16,
		TransferHistoryWindow: 20,
		CallTimeout:           30 * time.Second,
		Temperature:           0.9,

		BubbleDelayMin:    160 * time.Millisecond,
		BubbleDelayJitter: 180 * time.Millisecond,

		GroupBubbleDelayMin:    140 * time.Millisecond,
		GroupBubbleDelayJitter: 150 * time.Millisecond,
		ResponderDelayMin:      350 * time.Millisecond,
		ResponderDelayJitter:   400 * time.Millisecond,

		GroupExtraResponderChance: 0.35,

		TransferReactDelay:        800 * time.Millisecond,
		TransferBubbleDelayMin:    300 * time.Millisecond,
		TransferBubbleDelayJitter: 300 * time.Millisecond,
		TransferAcceptDelay:       1500 * time.Millisecond,

		StickerEchoChance:      0.4,
		StickerEchoDelayMin:    1200 * time.Millisecond,
		StickerEchoDelayJitter: 800 * time.Millisecond,
	}
}
