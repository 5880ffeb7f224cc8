// farmsync is the dev/test client of the offline sync flow: it keeps records
// in a local SQLite store and delivers them when the server is reachable.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	rootapi "farmapp/api"
	"farmapp/client/connectivity"
	"farmapp/client/store"
	"farmapp/client/syncqueue"
	"farmapp/client/transport"

	"github.com/apex/log"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	dbPath      string
	token       string
	timeout     time.Duration
	concurrency int
	offline     bool
	retention   time.Duration
	lat, lon    float64
	cacheTTL    time.Duration
	watchEvery  time.Duration
)

type env struct {
	store   *store.Store
	monitor *connectivity.Monitor
	client  *transport.Client
	manager *syncqueue.Manager
}

// open wires the client packages. Unless forced offline it probes the server
// once so that commands see the real connectivity.
func open(ctx context.Context) (*env, error) {
	s, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	monitor := connectivity.New(connectivity.NewHTTPProber(serverURL, 3*time.Second))
	if offline {
		monitor.SetForcedOffline(true)
	} else {
		monitor.Refresh(ctx)
	}
	client := transport.New(transport.Config{BaseURL: serverURL, Token: token, Timeout: timeout}).WithCache(s, monitor)
	manager := syncqueue.NewManager(s, monitor, client, syncqueue.Options{
		Concurrency:     concurrency,
		DeliveryTimeout: timeout,
		Retention:       retention,
	})
	return &env{store: s, monitor: monitor, client: client, manager: manager}, nil
}

func (e *env) Close() {
	e.manager.Wait()
	if err := e.store.Close(); err != nil {
		log.Warnf("Failed to close the local store: %v", err)
	}
}

func withEnv(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := open(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(ctx, e, args)
	}
}

var rootCmd = &cobra.Command{
	Use:          "farmsync",
	Short:        "Offline-first sync client for farmapp",
	SilenceUsage: true,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <type> <json>",
	Short: "Store a record locally and deliver it when online",
	Long: `Store a record in the local queue. Types are diagnosis, irrigation,
market and user_data. When the server is reachable the record is delivered
right away, otherwise it waits for the next drain.`,
	Args: cobra.ExactArgs(2),
	RunE: withEnv(func(ctx context.Context, e *env, args []string) error {
		rec, err := e.manager.Enqueue(ctx, rootapi.RecordType(args[0]), json.RawMessage(args[1]))
		if err != nil {
			return err
		}
		e.manager.Wait()
		if got, err := e.store.GetRecord(ctx, rec.ID); err == nil {
			rec = got
		}
		fmt.Printf("%s %s\n", rec.ID, rec.State)
		return nil
	}),
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver every queued record",
	RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
		report, err := e.manager.Drain(ctx)
		if err != nil {
			return err
		}
		if report.Offline {
			fmt.Println("offline, nothing delivered")
			return nil
		}
		fmt.Printf("attempted %d, synced %d, failed %d\n", report.Attempted, report.Synced, report.Failed)
		return nil
	}),
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete synced records older than the retention window",
	RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
		n, err := e.manager.Prune(ctx)
		if err != nil {
			return err
		}
		evicted, err := e.store.CacheEvict(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d records, evicted %d cached responses\n", n, evicted)
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and the local queue",
	RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
		counts, err := e.store.Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("online:  %v\n", e.monitor.Online())
		fmt.Printf("pending: %d\n", counts[store.StatePending])
		fmt.Printf("failed:  %d\n", counts[store.StateFailed])
		fmt.Printf("synced:  %d\n", counts[store.StateSynced])

		queue, err := e.store.QueuedRecords(ctx, 20)
		if err != nil {
			return err
		}
		for _, rec := range queue {
			line := fmt.Sprintf("  %s %s %s", rec.ID, rec.State, rec.CreatedAt.Format(time.RFC3339))
			if rec.LastError != "" {
				line += " (" + rec.LastError + ")"
			}
			fmt.Println(line)
		}
		return nil
	}),
}

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Current weather, served from cache when offline",
	RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
		query := url.Values{
			"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
			"lon": {strconv.FormatFloat(lon, 'f', -1, 64)},
		}
		body, err := e.client.GetCached(ctx, rootapi.WeatherEndpoint, query, cacheTTL)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	}),
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep probing the server and drain on every reconnect",
	RunE: withEnv(func(ctx context.Context, e *env, _ []string) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		e.manager.Start(ctx)
		log.Infof("Watching %s every %v, online: %v", serverURL, watchEvery, e.monitor.Online())
		e.monitor.Watch(ctx, watchEvery)
		return nil
	}),
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "farmsync", "farmsync.db")
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", "http://127.0.0.1:8080", "farmapp server URL")
	flags.StringVar(&dbPath, "db", defaultDBPath(), "local store path")
	flags.StringVar(&token, "token", os.Getenv("FARMSYNC_TOKEN"), "bearer token")
	flags.DurationVar(&timeout, "timeout", syncqueue.DefaultDeliveryTimeout, "per request timeout")
	flags.IntVar(&concurrency, "concurrency", syncqueue.DefaultConcurrency, "deliveries in flight during a drain")
	flags.BoolVar(&offline, "offline", false, "force offline mode")

	pruneCmd.Flags().DurationVar(&retention, "retention", syncqueue.DefaultRetention, "keep synced records this long")
	weatherCmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	weatherCmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	weatherCmd.Flags().DurationVar(&cacheTTL, "max-age", time.Hour, "oldest cached answer to accept offline")
	weatherCmd.MarkFlagRequired("lat") //nolint:errcheck
	weatherCmd.MarkFlagRequired("lon") //nolint:errcheck
	watchCmd.Flags().DurationVar(&watchEvery, "interval", 30*time.Second, "probe interval")

	rootCmd.AddCommand(enqueueCmd, drainCmd, pruneCmd, statusCmd, weatherCmd, watchCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
