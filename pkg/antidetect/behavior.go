package antidetect

import (
	"context"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"
	"unicode"

	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/retry"
)

const (
	actionBufferSize = 200
	typoChance       = 0.02
	minMoveSteps     = 10
	maxMoveSteps     = 20
)

// Action records one simulated input for self-monitoring.
type Action struct {
	Type      string        `json:"type"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Simulator produces human-plausible typing and mouse movement. It
// tracks the virtual cursor position so consecutive moves chain
// naturally.
type Simulator struct {
	rng    *mrand.Rand
	logger logger.Logger

	mu      sync.Mutex
	actions []Action
	mouseX  float64
	mouseY  float64
}

// NewSimulator creates a behavior simulator. A nil rng uses a
// time-seeded source.
func NewSimulator(rng *mrand.Rand, log logger.Logger) *Simulator {
	if rng == nil {
		rng = mrand.New(mrand.NewSource(mrand.Int63()))
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Simulator{
		rng:     rng,
		logger:  log,
		actions: make([]Action, 0, actionBufferSize),
	}
}

// HumanType types text into the selector one character at a time with
// human cadence: spaces pause longest, punctuation next, ordinary
// characters least. Roughly 2% of characters are mistyped, noticed
// after a beat, backspaced, and corrected.
func (s *Simulator) HumanType(ctx context.Context, page browser.Page, selector, text string) error {
	start := time.Now()

	for _, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.rng.Float64() < typoChance && unicode.IsLetter(r) {
			if err := s.typeTypo(ctx, page, selector, r); err != nil {
				return err
			}
		}

		if err := page.TypeText(ctx, selector, string(r), 0); err != nil {
			return fmt.Errorf("failed to type character: %w", err)
		}

		if err := retry.Wait(ctx, s.charDelay(r)); err != nil {
			return err
		}
	}

	s.record("type", time.Since(start))
	return nil
}

// typeTypo types a wrong neighbor character, pauses as if noticing, and
// removes it again.
func (s *Simulator) typeTypo(ctx context.Context, page browser.Page, selector string, intended rune) error {
	wrong := s.neighborKey(intended)
	if err := page.TypeText(ctx, selector, string(wrong), 0); err != nil {
		return fmt.Errorf("failed to type character: %w", err)
	}

	// The pause before noticing a typo is distinctly longer than
	// inter-key delays.
	if err := retry.Wait(ctx, s.randDuration(200, 500)); err != nil {
		return err
	}

	if err := page.Press(ctx, selector, "Backspace"); err != nil {
		return fmt.Errorf("failed to correct typo: %w", err)
	}

	return retry.Wait(ctx, s.randDuration(80, 200))
}

// charDelay draws the inter-key delay for a character class.
func (s *Simulator) charDelay(r rune) time.Duration {
	switch {
	case r == ' ':
		return s.randDuration(150, 280)
	case unicode.IsPunct(r) || unicode.IsSymbol(r):
		return s.randDuration(100, 220)
	default:
		return s.randDuration(50, 150)
	}
}

// neighborKey returns a plausible adjacent key for a QWERTY layout,
// falling back to the intended rune's neighbor in the alphabet.
func (s *Simulator) neighborKey(r rune) rune {
	neighbors := map[rune]string{
		'a': "sqw", 'b': "vn", 'c': "xv", 'd': "sf", 'e': "wr",
		'f': "dg", 'g': "fh", 'h': "gj", 'i': "uo", 'j': "hk",
		'k': "jl", 'l': "k", 'm': "n", 'n': "bm", 'o': "ip",
		'p': "o", 'q': "wa", 'r': "et", 's': "ad", 't': "ry",
		'u': "yi", 'v': "cb", 'w': "qe", 'x': "zc", 'y': "tu",
		'z': "x",
	}
	lower := unicode.ToLower(r)
	if candidates, ok := neighbors[lower]; ok {
		picked := rune(candidates[s.rng.Intn(len(candidates))])
		if unicode.IsUpper(r) {
			return unicode.ToUpper(picked)
		}
		return picked
	}
	return r + 1
}

// HumanMove moves the cursor along a quadratic Bézier curve from the
// current position to (x, y) with a randomized control point, easing in
// and out like a human hand.
func (s *Simulator) HumanMove(ctx context.Context, page browser.Page, x, y float64) error {
	start := time.Now()

	s.mu.Lock()
	fromX, fromY := s.mouseX, s.mouseY
	s.mu.Unlock()

	// Control point: midpoint displaced perpendicular to the travel
	// direction, so the path bows instead of running straight.
	midX, midY := (fromX+x)/2, (fromY+y)/2
	offset := (s.rng.Float64() - 0.5) * 200
	ctrlX := midX + offset
	ctrlY := midY - offset

	steps := minMoveSteps + s.rng.Intn(maxMoveSteps-minMoveSteps+1)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := float64(i) / float64(steps)
		// Quadratic Bézier interpolation.
		inv := 1 - t
		px := inv*inv*fromX + 2*inv*t*ctrlX + t*t*x
		py := inv*inv*fromY + 2*inv*t*ctrlY + t*t*y

		if err := page.MouseMove(ctx, px, py); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}

		if err := retry.Wait(ctx, s.stepDelay(t)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.mouseX, s.mouseY = x, y
	s.mu.Unlock()

	s.record("move", time.Since(start))
	return nil
}

// stepDelay follows an ease-in/ease-out profile: the hand is slow at the
// start and end of a movement and fastest in the middle, plus jitter.
func (s *Simulator) stepDelay(t float64) time.Duration {
	// 0 at the midpoint, 1 at either end.
	edge := 2*t - 1
	easing := edge * edge
	base := 8 + easing*22 // milliseconds
	jitter := s.rng.Float64() * 6
	return time.Duration(base+jitter) * time.Millisecond
}

func (s *Simulator) randDuration(minMs, maxMs int) time.Duration {
	return time.Duration(minMs+s.rng.Intn(maxMs-minMs)) * time.Millisecond
}

// record appends an action to the bounded ring buffer.
func (s *Simulator) record(actionType string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.actions) >= actionBufferSize {
		copy(s.actions, s.actions[1:])
		s.actions = s.actions[:len(s.actions)-1]
	}
	s.actions = append(s.actions, Action{
		Type:      actionType,
		Duration:  duration,
		Timestamp: time.Now(),
	})
}

// Actions returns a snapshot of recorded actions, oldest first.
func (s *Simulator) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}
