// cmdlog-bench drives the command log buffer with a pool of concurrent
// writers and reports throughput, watermarks, and module statistics. With
// --rotate it also exercises a full dual-write rotation, and with
// --archive-bucket the retired file is shipped to GCS.
package main

import (
	goflag "flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	flag "github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/neeharmavuduru/cmdlog/archiver"
	"github.com/neeharmavuduru/cmdlog/cmdlogbuf"
	"github.com/neeharmavuduru/cmdlog/record"
)

func main() {
	var (
		dir           = flag.String("dir", "", "directory for log files (default: a temp dir)")
		configPath    = flag.String("config", "", "HuJSON config file for the log buffer")
		writers       = flag.Int("writers", 8, "concurrent writer goroutines")
		perWriter     = flag.Int("records", 100000, "records per writer")
		bodySize      = flag.Int("body-size", 120, "record body size in bytes")
		syncEvery     = flag.Duration("sync-every", 100*time.Millisecond, "interval between fsync calls (0 = sync once at the end)")
		rotate        = flag.Bool("rotate", false, "perform a dual-write rotation after the writers finish")
		archiveBucket = flag.String("archive-bucket", "", "GCS bucket for retired log files (empty = no archiving)")
	)
	klog.InitFlags(nil)
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	if err := run(*dir, *configPath, *writers, *perWriter, *bodySize, *syncEvery, *rotate, *archiveBucket); err != nil {
		fmt.Fprintf(os.Stderr, "cmdlog-bench: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, configPath string, writers, perWriter, bodySize int, syncEvery time.Duration, rotate bool, archiveBucket string) error {
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "cmdlog-bench-")
		if err != nil {
			return err
		}
		fmt.Printf("log dir: %s\n", dir)
	}

	cfg := cmdlogbuf.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = cmdlogbuf.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}

	var arch *archiver.Archiver
	if archiveBucket != "" {
		var err error
		arch, err = archiver.New(archiver.Config{
			Bucket:       archiveBucket,
			ObjectPrefix: "cmdlog",
		})
		if err != nil {
			return err
		}
		cfg.RetiredFiles = arch.Files()
		arch.Start()
		defer arch.Stop()
	}

	l, err := cmdlogbuf.New(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	logPath := filepath.Join(dir, "cmdlog.0000000001")
	if err := l.PrepareFile(logPath); err != nil {
		return err
	}
	if err := l.StartFlushThread(); err != nil {
		return err
	}
	defer l.StopFlushThread()

	// Periodic fsync, the way a dedicated durability thread would drive it.
	syncDone := make(chan struct{})
	var syncWG sync.WaitGroup
	if syncEvery > 0 {
		syncWG.Add(1)
		go func() {
			defer syncWG.Done()
			ticker := time.NewTicker(syncEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					l.SyncFile()
				case <-syncDone:
					return
				}
			}
		}()
	}

	body := make([]byte, bodySize)
	for i := range body {
		body[i] = byte('a' + i%26)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec, err := record.New(1, 0, body)
				if err != nil {
					klog.Fatalf("bad record: %v", err)
				}
				l.WriteRecord(rec, nil, false)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if rotate {
		nextPath := filepath.Join(dir, "cmdlog.0000000002")
		if err := l.PrepareFile(nextPath); err != nil {
			return err
		}
		rec, _ := record.New(1, 0, body)
		l.WriteRecord(rec, nil, true)
		l.FlushBuffer(l.WriteLSN())
		l.CompleteDualWrite(true)
		if err := cmdlogbuf.SaveManifest(filepath.Join(dir, "MANIFEST"), cmdlogbuf.Manifest{
			CurrentFile: nextPath,
			FileNum:     l.WriteLSN().FileNum,
		}); err != nil {
			return err
		}
	}

	l.FlushBuffer(l.WriteLSN())
	l.SyncFile()
	close(syncDone)
	syncWG.Wait()

	total := writers * perWriter
	bytes := int64(total) * int64(record.HeaderSize+bodySize)
	stats := l.GetStatsSnapshot()

	fmt.Printf("\nResults\n")
	fmt.Printf("  records:        %d (%d writers x %d)\n", total, writers, perWriter)
	fmt.Printf("  bytes:          %d\n", bytes)
	fmt.Printf("  elapsed:        %v\n", elapsed)
	fmt.Printf("  throughput:     %.1f MB/s, %.0f records/s\n",
		float64(bytes)/(1024*1024)/elapsed.Seconds(), float64(total)/elapsed.Seconds())
	fmt.Printf("  write lsn:      %v\n", l.WriteLSN())
	fmt.Printf("  flush lsn:      %v\n", l.FlushLSN())
	fmt.Printf("  fsync lsn:      %v\n", l.FsyncLSN())
	fmt.Printf("  flushes:        %d (%d bytes)\n", stats.Flushes, stats.BytesFlushed)
	fmt.Printf("  fsyncs:         %d\n", stats.Fsyncs)
	fmt.Printf("  rotations:      %d\n", stats.Rotations)
	fmt.Printf("  producer stalls:%d\n", stats.ProducerStalls)
	fmt.Printf("  flusher wakeups:%d\n", stats.FlusherWakeups)

	if arch != nil {
		arch.Stop()
		as := arch.GetStats()
		fmt.Printf("  archived:       %d/%d files, %d bytes\n", as.Successful, as.TotalFiles, as.TotalBytes)
	}
	return nil
}
