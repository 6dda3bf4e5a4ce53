package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/client"
	"milhao-quiz-service/internal/config"
	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/game"
	"milhao-quiz-service/internal/logging"
)

const playHelp = `commands:
  1-4 or option id   select (again to clear)
  ok                 confirm the selected answer
  hint | crowd | expert | skip
  comment | close    show or hide the expert comment after answering
  next               load the next question
  stop, then yes/no  leave with the current prize
  yes | no           accept or decline sudden death after winning
  new                start another game
  mute               toggle sound
  quit`

type playOptions struct {
	serverURL string
	userID    string
	params    domain.StartParams
}

// NewPlayCmd runs a game session in the terminal, either against a remote
// server or against an in-process service built from the config.
func NewPlayCmd(configPath *string) *cobra.Command {
	var (
		opts       playOptions
		unanswered string
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a game in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Log.Level == "" {
				cfg.Log.Level = "warn"
			}
			log := logging.Init(cfg.Log.Level, cfg.Log.Pretty)
			if opts.serverURL == "" {
				opts.serverURL = cfg.Play.ServerURL
			}
			if opts.userID == "" {
				opts.userID = cfg.Play.UserID
			}
			if opts.userID == "" {
				opts.userID = "player"
			}
			opts.params.Unanswered = domain.UnansweredMode(unanswered)
			return runPlay(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().StringVar(&opts.serverURL, "server", "", "game server URL; plays in process when empty")
	cmd.Flags().StringVar(&opts.userID, "user", "", "player id")
	cmd.Flags().StringSliceVar(&opts.params.FilterIDs, "filter", nil, "specialty filter ids")
	cmd.Flags().StringSliceVar(&opts.params.SubFilterIDs, "sub-filter", nil, "sub-filter ids (years, topics)")
	cmd.Flags().StringSliceVar(&opts.params.InstitutionIDs, "institution", nil, "institution prefixes")
	cmd.Flags().StringVar(&unanswered, "unanswered", string(domain.UnansweredAll), "all, unanswered_game or unanswered_system")
	return cmd
}

func runPlay(ctx context.Context, cfg config.Config, opts playOptions, in io.Reader, out io.Writer, log zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out = &lockedWriter{w: out}
	var api game.API
	if opts.serverURL != "" {
		api = client.New(opts.serverURL, opts.userID)
	} else {
		svc, err := buildServices(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer svc.Close()
		api = app.NewLocalAPI(svc.games, opts.userID)
	}

	prefs := cfg.Play.PrefsPath
	if prefs == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			prefs = filepath.Join(dir, "milhao", "sound.yaml")
		}
	}
	var store game.MuteStore
	if prefs != "" {
		store = game.NewFileMuteStore(prefs)
	}
	sound := game.NewSoundController(&terminalPlayer{out: out, length: 400 * time.Millisecond}, store, log)

	view := newTerminalView(out)
	defer view.Close()
	m := game.NewMachine(api, sound, timingFrom(cfg), view, log)
	defer m.Close()

	fmt.Fprintln(out, playHelp)
	if err := m.Start(ctx, opts.params); err != nil {
		fmt.Fprintf(out, "could not start: %v\n", err)
	}
	return commandLoop(ctx, m, sound, opts.params, in, out)
}

// timingFrom overlays configured timings on the defaults.
func timingFrom(cfg config.Config) game.Timing {
	t := game.DefaultTiming()
	if cfg.Game.QuestionTimeLimit > 0 {
		t.QuestionBudget = cfg.Game.QuestionTimeLimit
	}
	t.RevealTimeout = config.TTLDuration(cfg.Game.RevealTimeout, t.RevealTimeout)
	t.SkipTimeout = t.RevealTimeout
	t.TimeUpTimeout = config.TTLDuration(cfg.Game.TimeUpTimeout, t.TimeUpTimeout)
	t.IntroTimeout = config.TTLDuration(cfg.Game.IntroTimeout, t.IntroTimeout)
	t.SuddenDeathTimeout = t.IntroTimeout
	t.SuspenseDelay = config.TTLDuration(cfg.Game.SuspenseDelay, t.SuspenseDelay)
	return t
}

// commandLoop reads one command per line until quit or end of input.
func commandLoop(ctx context.Context, m *game.Machine, sound *game.SoundController, params domain.StartParams, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	unlocked := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "q" {
			return nil
		}
		if !unlocked {
			// first gesture enables audio
			if err := m.Unlock(); err != nil {
				fmt.Fprintf(out, "! audio unavailable: %v\n", err)
			}
			unlocked = true
		}
		if err := dispatch(ctx, m, sound, params, line, out); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
	return sc.Err()
}

func dispatch(ctx context.Context, m *game.Machine, sound *game.SoundController, params domain.StartParams, line string, out io.Writer) error {
	snap := m.Snapshot()
	switch strings.ToLower(line) {
	case "help", "?":
		fmt.Fprintln(out, playHelp)
		return nil
	case "ok":
		return m.Confirm(ctx)
	case "hint":
		ids, err := m.UseHint(ctx)
		if err == nil {
			fmt.Fprintf(out, "eliminated: %s\n", strings.Join(ids, ", "))
		}
		return err
	case "crowd":
		_, err := m.UseCrowd(ctx)
		return err
	case "expert":
		_, err := m.UseExpertComment()
		return err
	case "comment":
		_, err := m.ShowComment()
		return err
	case "close":
		return m.CloseComment()
	case "skip":
		return m.Skip(ctx)
	case "next", "n":
		return m.Advance()
	case "stop":
		return m.RequestStop()
	case "yes", "y":
		if snap.StopPending {
			prize, err := m.ConfirmStop(ctx)
			if err == nil {
				fmt.Fprintf(out, "you leave with %s\n", money(prize))
			}
			return err
		}
		return m.EnterSuddenDeath(ctx)
	case "no":
		if snap.StopPending {
			return m.CancelStop()
		}
		return m.DeclineSuddenDeath()
	case "new":
		return m.Start(ctx, params)
	case "mute":
		muted, err := sound.ToggleMute()
		if err == nil {
			fmt.Fprintf(out, "muted: %t\n", muted)
		}
		return err
	}
	return m.Select(optionFor(snap.Question, line))
}

// optionFor maps a 1-based index to the option id; anything else is taken as an id.
func optionFor(q *domain.QuestionView, input string) string {
	if q == nil {
		return input
	}
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(q.Options) {
		return q.Options[n-1].ID
	}
	return input
}

// terminalView renders snapshots off the machine loop.
type terminalView struct {
	out     io.Writer
	updates chan game.Snapshot
	done    chan struct{}
	once    sync.Once
}

func newTerminalView(out io.Writer) *terminalView {
	v := &terminalView{out: out, updates: make(chan game.Snapshot, 16), done: make(chan struct{})}
	go v.run()
	return v
}

func (v *terminalView) Changed(s game.Snapshot) {
	select {
	case v.updates <- s:
	default:
	}
}

func (v *terminalView) Failed(op string, err error) {
	fmt.Fprintf(v.out, "! %s failed: %v\n", op, err)
}

func (v *terminalView) Close() {
	v.once.Do(func() {
		close(v.updates)
		<-v.done
	})
}

func (v *terminalView) run() {
	defer close(v.done)
	var last string
	for s := range v.updates {
		key := screenKey(s)
		if key == last {
			if s.Phase == game.PhaseQuestionRevealed || s.Phase == game.PhaseAnswerSelected {
				if s.Remaining > 0 && (s.Remaining <= 10 || s.Remaining%30 == 0) {
					fmt.Fprintf(v.out, "  %ds left\n", s.Remaining)
				}
			}
			continue
		}
		last = key
		render(v.out, s)
	}
}

func screenKey(s game.Snapshot) string {
	q := ""
	if s.Question != nil {
		q = s.Question.ID
	}
	return fmt.Sprintf("%s|%s|%s|%v|%d|%s|%t|%t|%t|%t|%s",
		s.Phase, q, s.Selected, s.Eliminated, len(s.Crowd), s.Comment,
		s.StopPending, s.SuddenDeathOffered, s.TimedOut, s.Result != nil, s.Session.Status)
}

func render(w io.Writer, s game.Snapshot) {
	ses := s.Session
	switch s.Phase {
	case game.PhaseLoadingQuestion:
		if s.Question != nil {
			fmt.Fprintf(w, "\n== question %d for %s ==\n", s.Question.QuestionIndex+1, money(s.Question.PrizeLevel.Prize))
		}
		return
	case game.PhaseQuestionRevealed, game.PhaseAnswerSelected:
		renderQuestion(w, s)
	case game.PhaseConfirming:
		fmt.Fprintln(w, "is that your final answer...")
	case game.PhaseAwaitingAdvance:
		if s.Result != nil && s.Result.Correct {
			fmt.Fprintf(w, "correct! you have %s (guaranteed %s). type next\n", money(ses.CurrentPrize), money(ses.GuaranteedPrize))
		} else {
			fmt.Fprintln(w, "type next to continue")
		}
	case game.PhaseFinished:
		renderFinish(w, s)
	}
	if s.Comment != game.CommentHidden && s.Question != nil {
		fmt.Fprintf(w, "expert: %s\n", s.Question.ExpertComment)
	}
	if s.StopPending {
		fmt.Fprintf(w, "stop and keep %s? yes/no\n", money(ses.CurrentPrize))
	}
	if s.TimedOut {
		fmt.Fprintln(w, "time is up")
	}
}

func renderQuestion(w io.Writer, s game.Snapshot) {
	q := s.Question
	if q == nil {
		return
	}
	ctx := strings.TrimSpace(strings.Join([]string{q.Institution, q.Year}, " "))
	if ctx != "" {
		fmt.Fprintf(w, "[%s]\n", ctx)
	}
	fmt.Fprintln(w, q.Content)
	for i, o := range q.Options {
		mark := " "
		switch {
		case contains(s.Eliminated, o.ID):
			mark = "x"
		case s.Selected == o.ID:
			mark = ">"
		}
		fmt.Fprintf(w, " %s %d) %s\n", mark, i+1, o.Text)
	}
	for _, c := range s.Crowd {
		fmt.Fprintf(w, "   %s thinks %s (%s)\n", c.StudentName, c.OptionID, c.Confidence)
	}
	h := s.Session.Help
	fmt.Fprintf(w, "aids: hint=%t crowd=%t expert=%t skips=%d | %ds\n",
		!h.HintUsed, !h.CrowdUsed, !h.ExpertUsed, h.SkipsRemaining, s.Remaining)
}

func renderFinish(w io.Writer, s game.Snapshot) {
	ses := s.Session
	switch ses.Status {
	case domain.StatusWon:
		if ses.SuddenDeathMultiplier > 0 {
			fmt.Fprintf(w, "sudden death cleared with multiplier x%d\n", ses.SuddenDeathMultiplier)
		} else {
			fmt.Fprintln(w, "ONE MILLION!")
		}
	case domain.StatusLost:
		if ses.SuddenDeathMultiplier > 0 {
			fmt.Fprintf(w, "sudden death over at x%d, the million stays yours\n", ses.SuddenDeathMultiplier)
		} else {
			fmt.Fprintf(w, "wrong answer, you leave with %s\n", money(ses.CurrentPrize))
		}
	case domain.StatusStopped:
		fmt.Fprintf(w, "game over with %s\n", money(ses.CurrentPrize))
	}
	if s.SuddenDeathOffered {
		fmt.Fprintln(w, "try sudden death? yes/no")
	} else {
		fmt.Fprintln(w, "type new to play again or quit")
	}
}

func money(v int64) string {
	s := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return "R$ " + b.String()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// terminalPlayer "plays" a clip by announcing it and waiting a fixed time.
type terminalPlayer struct {
	out    io.Writer
	length time.Duration
}

func (p *terminalPlayer) Play(ctx context.Context, clip game.Clip) error {
	if clip == game.ClipSuspense {
		// background track: runs until replaced
		<-ctx.Done()
		return ctx.Err()
	}
	fmt.Fprintf(p.out, "  ♪ %s\n", clip)
	t := time.NewTimer(p.length)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *terminalPlayer) Unlock() error { return nil }

// lockedWriter serializes writes from the view, the player and the prompt.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
