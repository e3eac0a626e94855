// Command kernelsim drives the kernel's end-to-end scenarios (§8) from
// the command line, for manual exploration and demoing the scheduler
// without wiring up real hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	kernelschedule "github.com/danieltm999/kernelschedule"
)

var (
	flagMaxThreads  int
	flagTimeSliceMS uint32
	flagVerbose     bool
	flagDurationMS  int
	flagStackSize   = stackSizeFlag{value: kernelschedule.StackSizeSmall}
)

// stackSizeFlag adapts kernelschedule.StackSize to pflag.Value so the
// demo can accept "small"/"medium"/"large" on the command line instead
// of a raw byte count.
type stackSizeFlag struct {
	value kernelschedule.StackSize
}

func (f *stackSizeFlag) String() string { return f.value.String() }
func (f *stackSizeFlag) Type() string   { return "stackSize" }
func (f *stackSizeFlag) Set(s string) error {
	switch s {
	case "small":
		f.value = kernelschedule.StackSizeSmall
	case "medium":
		f.value = kernelschedule.StackSizeMedium
	case "large":
		f.value = kernelschedule.StackSizeLarge
	default:
		return fmt.Errorf("unknown stack size %q (want small, medium, or large)", s)
	}
	return nil
}

var _ pflag.Value = (*stackSizeFlag)(nil)

func main() {
	root := &cobra.Command{
		Use:   "kernelsim",
		Short: "Exercise the cooperative/preemptive thread kernel from the command line",
	}

	root.PersistentFlags().IntVar(&flagMaxThreads, "max-threads", 4, "thread table size")
	root.PersistentFlags().Uint32Var(&flagTimeSliceMS, "time-slice-ms", 10, "scheduler time slice in milliseconds")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().IntVar(&flagDurationMS, "duration-ms", 200, "how long to run the demo before shutting down")
	root.PersistentFlags().Var(&flagStackSize, "stack-size", "stack buffer preset for demo threads (small, medium, large)")

	root.AddCommand(newRoundRobinCmd())
	root.AddCommand(newSleepCmd())
	root.AddCommand(newMutexCmd())
	root.AddCommand(newOverflowCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !flagVerbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runFor(logger *zap.Logger, k *kernelschedule.Kernel) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(flagDurationMS)*time.Millisecond)
	defer cancel()

	k.Run(ctx)
	logger.Info("demo finished")
}

// newRoundRobinCmd demonstrates scenario 1 (§8): equally-busy tasks
// (one per non-bootstrap slot), each counting its own loop iterations,
// sharing the CPU in round-robin order.
func newRoundRobinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "round-robin",
		Short: "Run several busy tasks and observe round-robin fairness",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			k := kernelschedule.New(
				kernelschedule.WithMaxThreads(flagMaxThreads),
				kernelschedule.WithTimeSliceMS(flagTimeSliceMS),
				kernelschedule.WithLogger(logger),
			)
			k.Boot()

			var mu sync.Mutex
			counts := make(map[int]int)

			for i := 1; i < flagMaxThreads; i++ {
				buf := make([]byte, flagStackSize.value)
				idx := i
				_, err := k.NewThread(func() {
					for {
						mu.Lock()
						counts[idx]++
						mu.Unlock()
						k.PreemptionPoint()
						if k.IsCorrupted() {
							return
						}
					}
				}, buf)
				if err != nil {
					return err
				}
			}

			runFor(logger, k)

			mu.Lock()
			defer mu.Unlock()
			for i := 1; i < flagMaxThreads; i++ {
				fmt.Printf("thread %d ran %d loop iterations\n", i, counts[i])
			}
			return nil
		},
	}
}

// newSleepCmd demonstrates scenario 2 (§8): a task that sleeps and is
// excluded from selection until its deadline elapses.
func newSleepCmd() *cobra.Command {
	var sleepMS uint32
	cmd := &cobra.Command{
		Use:   "sleep",
		Short: "Run a task that sleeps and report when it wakes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			k := kernelschedule.New(
				kernelschedule.WithMaxThreads(flagMaxThreads),
				kernelschedule.WithTimeSliceMS(flagTimeSliceMS),
				kernelschedule.WithLogger(logger),
			)
			k.Boot()

			buf := make([]byte, flagStackSize.value)
			woke := make(chan uint32, 1)
			_, err := k.NewThread(func() {
				k.Sleep(sleepMS)
				woke <- k.Ticks()
			}, buf)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(flagDurationMS)*time.Millisecond)
			defer cancel()
			go k.Run(ctx)

			select {
			case tick := <-woke:
				fmt.Printf("thread woke at tick %d (requested sleep %dms)\n", tick, sleepMS)
			case <-ctx.Done():
				fmt.Println("demo window elapsed before the thread woke")
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&sleepMS, "sleep-ms", 50, "milliseconds the demo task sleeps")
	return cmd
}

// newMutexCmd demonstrates scenario 3 (§8): two tasks contending on a
// mutex, with the blocked task receiving direct hand-off rather than
// retrying.
func newMutexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mutex",
		Short: "Run two tasks contending on a shared mutex",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			k := kernelschedule.New(
				kernelschedule.WithMaxThreads(3),
				kernelschedule.WithTimeSliceMS(flagTimeSliceMS),
				kernelschedule.WithLogger(logger),
			)
			k.Boot()

			mtx := kernelschedule.NewMutex(k)
			var g errgroup.Group
			order := make(chan int, 2)

			for i := 1; i <= 2; i++ {
				idx := i
				buf := make([]byte, flagStackSize.value)
				_, err := k.NewThread(func() {
					mtx.Lock()
					order <- idx
					k.Sleep(flagTimeSliceMS)
					mtx.Unlock()
				}, buf)
				if err != nil {
					g.Go(func() error { return err })
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(flagDurationMS)*time.Millisecond)
			defer cancel()
			go k.Run(ctx)

			for i := 0; i < 2; i++ {
				select {
				case idx := <-order:
					fmt.Printf("thread %d acquired the mutex\n", idx)
				case <-ctx.Done():
					fmt.Println("demo window elapsed before both threads acquired the mutex")
					return nil
				}
			}
			return g.Wait()
		},
	}
}

// newOverflowCmd demonstrates scenario 5 (§8): a task that consumes its
// own stack buffer until it overruns the guard region, at which point
// IsCorrupted reports true and the task stops instead of corrupting a
// neighbor's memory.
func newOverflowCmd() *cobra.Command {
	var chunkBytes int
	cmd := &cobra.Command{
		Use:   "overflow",
		Short: "Run a task that consumes its own stack until corruption is detected",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			k := kernelschedule.New(
				kernelschedule.WithMaxThreads(2),
				kernelschedule.WithTimeSliceMS(flagTimeSliceMS),
				kernelschedule.WithLogger(logger),
			)
			k.Boot()

			buf := make([]byte, flagStackSize.value)
			corrupted := make(chan struct{}, 1)
			_, err := k.NewThread(func() {
				for !k.IsCorrupted() {
					k.ConsumeStack(chunkBytes)
				}
				corrupted <- struct{}{}
			}, buf)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(flagDurationMS)*time.Millisecond)
			defer cancel()
			go k.Run(ctx)

			select {
			case <-corrupted:
				fmt.Println("stack corruption detected: task halted before overrunning its buffer")
			case <-ctx.Done():
				fmt.Println("demo window elapsed before corruption was detected")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkBytes, "chunk-bytes", 4, "bytes consumed from the stack per simulated recursion step")
	return cmd
}
