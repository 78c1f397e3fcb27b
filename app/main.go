package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/jobboard/app/client"
	"github.com/umputun/jobboard/app/notify"
	"github.com/umputun/jobboard/app/registry"
	"github.com/umputun/jobboard/app/sysinfo"
	"github.com/umputun/jobboard/app/web"
)

var opts struct {
	Listen    string  `short:"l" long:"listen" env:"JOBBOARD_LISTEN" default:":5000" description:"listen address"`
	RateLimit float64 `long:"rate-limit" env:"JOBBOARD_RATE_LIMIT" default:"0" description:"max job inserts per second per client, 0 disables"`
	SizeLimit int64   `long:"size-limit" env:"JOBBOARD_SIZE_LIMIT" default:"1048576" description:"max request body size in bytes"`
	DiskPath  string  `long:"disk-path" env:"JOBBOARD_DISK_PATH" default:"/" description:"path for disk usage in status"`

	Notify struct {
		Webhooks    []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s) notified on each added job"`
		Timeout     time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"webhook request timeout"`
		Attempts    int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"delivery attempts per webhook"`
		Concurrency int           `long:"concurrency" env:"CONCURRENCY" default:"4" description:"max parallel deliveries"`
	} `group:"notify" namespace:"notify" env-namespace:"JOBBOARD_NOTIFY"`

	Client struct {
		URL     string        `long:"url" env:"URL" description:"run as client against this server url"`
		Add     string        `long:"add" description:"json object to add as a job"`
		List    bool          `long:"list" description:"list jobs"`
		Format  string        `long:"format" choice:"json" choice:"yaml" default:"json" description:"list output format"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"request timeout"`
	} `group:"client" namespace:"client" env-namespace:"JOBBOARD_CLIENT"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging"`
		Filename        string `long:"file" env:"FILE" description:"log file, stdout if empty"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in MB"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to keep old logs"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old logs"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated logs"`
	} `group:"log" namespace:"log" env-namespace:"JOBBOARD_LOG"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("jobboard %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if opts.Client.URL != "" {
		if err := runClient(ctx, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(ctx); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

// runServer starts web server with empty registry, blocks until ctx canceled
func runServer(ctx context.Context) error {
	notifier := notify.New(notify.Params{
		Webhooks:    opts.Notify.Webhooks,
		Timeout:     opts.Notify.Timeout,
		Attempts:    opts.Notify.Attempts,
		Concurrency: opts.Notify.Concurrency,
	})
	defer notifier.Close()

	var listener web.JobListener
	if notifier != nil {
		listener = notifier
	}

	srv, err := web.New(web.Config{
		Registry:  registry.New(),
		Listener:  listener,
		HostStats: sysinfo.NewCollector(opts.DiskPath, 0),
		Version:   revision,
		RateLimit: opts.RateLimit,
		SizeLimit: opts.SizeLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to make web server: %w", err)
	}
	return srv.Run(ctx, opts.Listen)
}

// runClient adds and/or lists jobs on remote server, printing results to out
func runClient(ctx context.Context, out io.Writer) error {
	if opts.Client.Add == "" && !opts.Client.List {
		return errors.New("nothing to do, set --client.add or --client.list")
	}
	cl := client.New(client.Params{BaseURL: opts.Client.URL, Timeout: opts.Client.Timeout})

	if opts.Client.Add != "" {
		job, err := parseJob(opts.Client.Add)
		if err != nil {
			return err
		}
		if err := cl.Add(ctx, job); err != nil {
			return err
		}
		fmt.Fprintln(out, "Job added")
	}

	if opts.Client.List {
		jobs, err := cl.List(ctx)
		if err != nil {
			return err
		}
		return printJobs(out, jobs, opts.Client.Format)
	}
	return nil
}

// parseJob parses json object from command line
func parseJob(s string) (registry.Job, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var job registry.Job
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("invalid job %q: %w", s, err)
	}
	if job == nil {
		return nil, fmt.Errorf("invalid job %q: expected json object", s)
	}
	return job, nil
}

// printJobs writes jobs in json or yaml format
func printJobs(out io.Writer, jobs []registry.Job, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(plainValue(jobs)); err != nil {
			return fmt.Errorf("marshal jobs to yaml: %w", err)
		}
		return enc.Close()
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs to json: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// plainValue converts json.Number values to int64 or float64, so yaml renders them as numbers
func plainValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []registry.Job:
		res := make([]any, len(val))
		for i, j := range val {
			res[i] = plainValue(map[string]any(j))
		}
		return res
	case registry.Job:
		return plainValue(map[string]any(val))
	case map[string]any:
		res := make(map[string]any, len(val))
		for k, item := range val {
			res[k] = plainValue(item)
		}
		return res
	case []any:
		res := make([]any, len(val))
		for i, item := range val {
			res[i] = plainValue(item)
		}
		return res
	default:
		return v
	}
}

func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		log.Setup(log.Out(io.Discard), log.Err(io.Discard))
		return os.Stdout
	}

	var out io.Writer = os.Stdout
	if opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxAge:     opts.Log.MaxAge,
			MaxBackups: opts.Log.MaxBackups,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(out), log.Err(out))
		return out
	}
	log.Setup(log.Msec, log.Out(out), log.Err(out))
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %s received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
