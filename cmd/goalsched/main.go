package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"goalsched/internal/job"
	"goalsched/internal/logging"
	"goalsched/internal/sched"
	"goalsched/internal/splitter"
)

var (
	cfgPath   string
	logPath   string
	tracePath string
)

var rootCmd = &cobra.Command{
	Use:   "goalsched",
	Short: "Priority-preemptive goal scheduler",
	Long: `Goalsched runs a goal-driven agent loop: goals typed on stdin are
executed at high priority, preempting the low-priority goals the idle
loop proposes on its own. Preempted goals are requeued, never lost.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yml", "config file path")
	rootCmd.Flags().StringVar(&logPath, "log", "", "log file path (default: stderr)")
	rootCmd.Flags().StringVar(&tracePath, "trace", "", "write a CSV trace of scheduler events")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := sched.Load(cfgPath)

	logger, err := logging.NewLogger(logPath, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	planner := &job.StepPlanner{Steps: 3, StepDelay: 700 * time.Millisecond}
	proposer := &job.ListProposer{Goals: []string{
		"explore the surroundings",
		"gather some wood",
		"check the inventory and craft basic tools",
	}}

	sep := splitter.NewSeparator()
	sep.MaxSteps = cfg.MaxSplitSteps

	s := sched.New(cfg, planner, sep, proposer, logger)

	if tracePath != "" {
		if err := s.EnableCSVLogging(tracePath); err != nil {
			return err
		}
	}

	if err := s.Start(); err != nil {
		return err
	}

	go renderEvents(s.StatusChannel())

	fmt.Println("type a goal and press enter to submit it (Ctrl-C to quit)")
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			goal := strings.TrimSpace(scanner.Text())
			if goal == "" {
				continue
			}
			s.SubmitExternalGoal(goal)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	st := s.Stats()
	fmt.Printf("processed=%d failed=%d preempted=%d proposed=%d\n",
		st.TasksProcessed, st.TasksFailed, st.Preemptions, st.GoalsProposed)
	return s.Stop()
}

func renderEvents(events <-chan sched.StatusEvent) {
	for ev := range events {
		fmt.Printf("%s [%s] priority=%02d source=%-10s goal=%q %s\n",
			ev.Time.Format("Jan 02 15:04:05.000"),
			center(ev.Kind.String(), 10),
			ev.Priority, ev.Source, ev.Goal, ev.Detail)
	}
}

// center pads the event kind so the console columns line up.
func center(str string, width int) string {
	if len(str) >= width {
		return str
	}
	left := (width - len(str)) / 2
	return strings.Repeat(" ", left) + str + strings.Repeat(" ", width-left-len(str))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
