package game

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrAutoplayBlocked is returned by a Player when output is refused until a user gesture.
var ErrAutoplayBlocked = errors.New("autoplay blocked until user gesture")

// Clip identifies a playable audio asset.
type Clip string

const (
	ClipSuspense         Clip = "suspense"
	ClipCorrect          Clip = "correct_answer"
	ClipWrong            Clip = "wrong_answer"
	ClipTimeExpired      Clip = "time_up"
	ClipHint             Clip = "cards"
	ClipCrowd            Clip = "students"
	ClipSkip             Clip = "skip"
	ClipVictory          Clip = "victory"
	ClipDefeat           Clip = "goodbye"
	ClipSuddenDeathIntro Clip = "sudden_death"
	ClipGameStart        Clip = "game_start"
)

type introClip struct {
	prize int64
	clip  Clip
}

// introClips maps ladder prizes to the "question worth X" announcement, ascending.
var introClips = []introClip{
	{1000, "question_1k"},
	{2000, "question_2k"},
	{3000, "question_3k"},
	{4000, "question_4k"},
	{5000, "question_5k"},
	{10000, "question_10k"},
	{20000, "question_20k"},
	{30000, "question_30k"},
	{40000, "question_40k"},
	{50000, "question_50k"},
	{100000, "question_100k"},
	{200000, "question_200k"},
	{300000, "question_300k"},
	{400000, "question_400k"},
	{500000, "question_500k"},
	{1000000, "question_1m"},
}

// IntroClip picks the clip with the greatest threshold not above prize. Amounts
// below the smallest threshold use the smallest clip.
func IntroClip(prize int64) Clip {
	clip := introClips[0].clip
	for _, c := range introClips {
		if c.prize > prize {
			break
		}
		clip = c.clip
	}
	return clip
}

// Player renders clips. Play blocks until the clip ends, ctx is canceled, or
// playback fails.
type Player interface {
	Play(ctx context.Context, clip Clip) error
	Unlock() error
}

// MuteStore persists the mute preference.
type MuteStore interface {
	LoadMuted() (bool, error)
	SaveMuted(muted bool) error
}

// Playback is a handle to one requested clip.
type Playback struct {
	clip   Clip
	done   func()
	ctx    context.Context
	cancel context.CancelFunc
	owner  *SoundController
}

// Clip returns the clip this playback was started with.
func (p *Playback) Clip() Clip {
	if p == nil {
		return ""
	}
	return p.clip
}

// Stop halts the clip if it is still current. Its completion callback is dropped.
func (p *Playback) Stop() {
	if p == nil {
		return
	}
	c := p.owner
	c.mu.Lock()
	if c.current == p {
		c.current = nil
	}
	if c.deferred == p {
		c.deferred = nil
	}
	c.mu.Unlock()
	p.cancel()
}

// SoundController plays one clip at a time and always reports completion,
// muted or not, so callers can gate transitions on it.
type SoundController struct {
	player       Player
	prefs        MuteStore
	log          zerolog.Logger
	mutedDelay   time.Duration
	failureDelay time.Duration

	mu       sync.Mutex
	muted    bool
	unlocked bool
	current  *Playback
	deferred *Playback
}

// NewSoundController loads the persisted mute flag from prefs when given.
func NewSoundController(player Player, prefs MuteStore, log zerolog.Logger) *SoundController {
	c := &SoundController{
		player:       player,
		prefs:        prefs,
		log:          log,
		mutedDelay:   100 * time.Millisecond,
		failureDelay: 500 * time.Millisecond,
	}
	if prefs != nil {
		muted, err := prefs.LoadMuted()
		if err != nil {
			log.Warn().Err(err).Msg("load mute preference")
		}
		c.muted = muted
	}
	return c
}

// SetDelays overrides the muted completion delay and the fallback delay used
// after a failed playback.
func (c *SoundController) SetDelays(muted, failure time.Duration) {
	c.mu.Lock()
	c.mutedDelay = muted
	c.failureDelay = failure
	c.mu.Unlock()
}

func (c *SoundController) PlayQuestionIntro(prize int64, done func()) *Playback {
	return c.play(IntroClip(prize), done)
}

func (c *SoundController) PlaySuspense(done func()) *Playback {
	return c.play(ClipSuspense, done)
}

func (c *SoundController) PlayCorrect(done func()) *Playback { return c.play(ClipCorrect, done) }
func (c *SoundController) PlayWrong(done func()) *Playback   { return c.play(ClipWrong, done) }

func (c *SoundController) PlayTimeExpired(done func()) *Playback {
	return c.play(ClipTimeExpired, done)
}

func (c *SoundController) PlayHintUsed(done func()) *Playback  { return c.play(ClipHint, done) }
func (c *SoundController) PlayCrowdUsed(done func()) *Playback { return c.play(ClipCrowd, done) }
func (c *SoundController) PlaySkipUsed(done func()) *Playback  { return c.play(ClipSkip, done) }
func (c *SoundController) PlayVictory(done func()) *Playback   { return c.play(ClipVictory, done) }
func (c *SoundController) PlayDefeat(done func()) *Playback    { return c.play(ClipDefeat, done) }

func (c *SoundController) PlaySuddenDeathIntro(done func()) *Playback {
	return c.play(ClipSuddenDeathIntro, done)
}

func (c *SoundController) PlayGameStart(done func()) *Playback {
	return c.play(ClipGameStart, done)
}

// StopCurrent halts whatever is playing and drops any deferred request.
func (c *SoundController) StopCurrent() {
	c.mu.Lock()
	cur := c.current
	c.current = nil
	c.deferred = nil
	c.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}

// Current returns the clip playing now, if any.
func (c *SoundController) Current() (Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", false
	}
	return c.current.clip, true
}

// Muted reports the mute flag.
func (c *SoundController) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SetMuted updates and persists the mute flag. Muting stops the current clip.
func (c *SoundController) SetMuted(muted bool) error {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	if muted {
		c.StopCurrent()
	}
	if c.prefs == nil {
		return nil
	}
	return c.prefs.SaveMuted(muted)
}

// ToggleMute flips the mute flag and returns the new value.
func (c *SoundController) ToggleMute() (bool, error) {
	muted := !c.Muted()
	return muted, c.SetMuted(muted)
}

// Unlocked reports whether a user gesture has enabled output.
func (c *SoundController) Unlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocked
}

// Unlock is called on a user gesture. On success a play request that was
// blocked by the autoplay policy is started.
func (c *SoundController) Unlock() error {
	if err := c.player.Unlock(); err != nil {
		return err
	}
	c.mu.Lock()
	c.unlocked = true
	pending := c.deferred
	c.deferred = nil
	resume := pending != nil && pending == c.current
	c.mu.Unlock()
	if resume {
		go c.run(pending)
	}
	return nil
}

func (c *SoundController) play(clip Clip, done func()) *Playback {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Playback{clip: clip, done: done, ctx: ctx, cancel: cancel, owner: c}

	c.mu.Lock()
	prev := c.current
	c.current = p
	c.deferred = nil
	muted := c.muted
	delay := c.mutedDelay
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	if muted {
		time.AfterFunc(delay, func() { c.finish(p) })
		return p
	}
	go c.run(p)
	return p
}

func (c *SoundController) run(p *Playback) {
	err := c.player.Play(p.ctx, p.clip)
	switch {
	case err == nil:
		c.finish(p)
	case p.ctx.Err() != nil:
		// stopped or replaced
	case errors.Is(err, ErrAutoplayBlocked):
		c.mu.Lock()
		if c.current == p {
			c.unlocked = false
			c.deferred = p
		}
		c.mu.Unlock()
		c.log.Debug().Str("clip", string(p.clip)).Msg("playback deferred until unlock")
	default:
		c.log.Warn().Err(err).Str("clip", string(p.clip)).Msg("playback failed")
		c.mu.Lock()
		delay := c.failureDelay
		c.mu.Unlock()
		time.AfterFunc(delay, func() { c.finish(p) })
	}
}

func (c *SoundController) finish(p *Playback) {
	c.mu.Lock()
	if c.current != p {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()
	p.cancel()
	if p.done != nil {
		p.done()
	}
}

// FileMuteStore keeps the mute flag in a small YAML file.
type FileMuteStore struct {
	path string
}

func NewFileMuteStore(path string) *FileMuteStore {
	return &FileMuteStore{path: path}
}

type soundPrefs struct {
	Muted bool `yaml:"muted"`
}

// LoadMuted returns false when the file does not exist yet.
func (s *FileMuteStore) LoadMuted() (bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var prefs soundPrefs
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return false, err
	}
	return prefs.Muted, nil
}

func (s *FileMuteStore) SaveMuted(muted bool) error {
	data, err := yaml.Marshal(soundPrefs{Muted: muted})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
