// Command thinktank runs a think tank room in the terminal and prints every
// turn as it is committed, followed by the condensed summary.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-think/backend/internal/config"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
	"github.com/zhouzirui/z-think/backend/internal/service/synthesis"
	"github.com/zhouzirui/z-think/backend/internal/service/thinktank"
)

var (
	envFile   string
	maxRounds int
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "thinktank [idea...]",
		Short: "Let two AI personas discuss an idea and print the summary",
		Long: `Dispatches two personas for the idea, lets them take turns until they
agree or run out of rounds, then condenses the discussion.

Example:
  thinktank "a four day work week for a 20 person startup"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file")
	rootCmd.Flags().IntVar(&maxRounds, "rounds", 0, "Override LOOP_MAX_ROUNDS")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("✗"), err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_ = godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if maxRounds > 0 {
		cfg.Loop.MaxRounds = maxRounds
	}

	logger := logging.New(logLevel, "console")
	gateway := ai.NewGatewayFromConfig(cfg.AI, logger)
	rooms := loop.NewRegistry()
	defer rooms.Close()

	svc := thinktank.New(gateway, synthesis.New(gateway), loop.PolicyFromConfig(cfg.Loop), rooms, logger)

	idea := strings.Join(args, " ")
	fmt.Println(color.CyanString("Dispatching personas for:"), idea)

	room, err := svc.Create(ctx, idea)
	if err != nil {
		return err
	}

	events, unsubscribe := room.Engine.Subscribe()
	defer unsubscribe()

	snap := room.Engine.State()
	for i, seat := range snap.Seats {
		fmt.Printf("  %s %s: %s\n", seatColor(i)("●"), seat.Name, seat.Goal)
	}
	fmt.Println()

	// 订阅前引擎已经开始运行，先补打已提交的发言，之后按 ID 去重。
	out := newTurnPrinter(os.Stdout)
	for _, turn := range snap.History {
		out.Print(turn)
	}
	switch {
	case snap.Phase == loop.PhaseDone:
		printFinal(snap)
		return nil
	case snap.Phase == loop.PhasePaused && snap.Error != "":
		return fmt.Errorf("room paused after an upstream failure: %s", snap.Error)
	}

	for {
		select {
		case <-ctx.Done():
			// Ctrl-C 时先收尾：让引擎带着现有记录进入总结。
			_ = room.Engine.Stop()
			final, err := room.Engine.Wait(context.Background(), loop.InPhase(loop.PhaseDone, loop.PhasePaused))
			if err != nil {
				return err
			}
			printFinal(final)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case loop.EventTurnCommitted:
				out.Print(*ev.Turn)
			case loop.EventError:
				fmt.Printf("%s %s\n", color.YellowString("⚠"), ev.Error)
				if room.Engine.State().Phase == loop.PhasePaused {
					return fmt.Errorf("room paused after an upstream failure: %s", ev.Error)
				}
			case loop.EventFinal:
				printFinal(room.Engine.State())
				return nil
			}
		}
	}
}

// turnPrinter prints each committed turn once.
type turnPrinter struct {
	w    io.Writer
	seen map[string]bool
}

func newTurnPrinter(w io.Writer) *turnPrinter {
	return &turnPrinter{w: w, seen: make(map[string]bool)}
}

// Print 输出一条发言，已输出过的发言返回 false。
func (p *turnPrinter) Print(t loop.Turn) bool {
	if p.seen[t.ID] {
		return false
	}
	p.seen[t.ID] = true

	label := seatColor(t.Seat)("[%s]", t.Speaker)
	if t.Interjection {
		label = color.MagentaString("[%s]", t.Speaker)
	}
	fmt.Fprintf(p.w, "%s %s\n\n", label, t.Content)
	return true
}

func printFinal(snap loop.Snapshot) {
	fmt.Println(color.GreenString("✓ Summary (%d rounds)", snap.Rounds))
	fmt.Println(snap.Final)
}

func seatColor(seat int) func(format string, a ...interface{}) string {
	if seat%2 == 0 {
		return color.BlueString
	}
	return color.YellowString
}
