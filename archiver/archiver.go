// Package archiver ships retired command log files to a GCS bucket.
//
// When a checkpoint-driven rotation retires a log file, the log buffer
// delivers its path on a channel; the archiver's upload worker picks paths off
// that channel, uploads the files, and optionally removes them locally. The log
// never depends on the archiver; a full channel simply drops notifications.
package archiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
	"k8s.io/klog/v2"
)

// Config holds the configuration for the archiver
type Config struct {
	// Bucket is the destination GCS bucket (required)
	Bucket string

	// ObjectPrefix is prepended to every uploaded object name
	ObjectPrefix string

	// ChannelBufferSize is the capacity of the retired-file channel
	// (default: 16)
	ChannelBufferSize int

	// GRPCPoolSize is the storage client's gRPC connection pool size
	// (default: 4)
	GRPCPoolSize int

	// UploadTimeout bounds a single file upload (default: 5m)
	UploadTimeout time.Duration

	// DeleteAfterUpload removes the local file once it is safely in the bucket
	DeleteAfterUpload bool
}

// Validate checks if the configuration is valid and applies defaults where needed
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("Bucket is required")
	}
	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = 16
	}
	if c.GRPCPoolSize <= 0 {
		c.GRPCPoolSize = 4
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 5 * time.Minute
	}
	return nil
}

// Stats tracks upload statistics
type Stats struct {
	TotalFiles int64
	Successful int64
	Failed     int64
	TotalBytes int64
}

// Archiver uploads retired log files to GCS
type Archiver struct {
	config   Config
	client   *storage.Client
	files    chan string
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stats    Stats
	statsMu  sync.Mutex
	stopOnce sync.Once
}

// New creates an archiver and its GCS client. The returned archiver is idle
// until Start is called.
func New(config Config) (*Archiver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := storage.NewClient(ctx,
		option.WithGRPCConnectionPool(config.GRPCPoolSize),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Archiver{
		config: config,
		client: client,
		files:  make(chan string, config.ChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Files returns the channel the log buffer should be configured with
// (Config.RetiredFiles on the cmdlogbuf side).
func (a *Archiver) Files() chan string {
	return a.files
}

// Start launches the upload worker.
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.uploadWorker()
}

// Stop drains outstanding uploads and shuts the client down. Idempotent.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		close(a.files)
		a.wg.Wait()
		a.cancel()
		if err := a.client.Close(); err != nil {
			klog.Warningf("archiver: failed to close storage client: %v", err)
		}
	})
}

// GetStats returns a copy of the upload statistics.
func (a *Archiver) GetStats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}

func (a *Archiver) uploadWorker() {
	defer a.wg.Done()
	for path := range a.files {
		a.statsMu.Lock()
		a.stats.TotalFiles++
		a.statsMu.Unlock()

		n, err := a.uploadFile(path)
		a.statsMu.Lock()
		if err != nil {
			a.stats.Failed++
		} else {
			a.stats.Successful++
			a.stats.TotalBytes += n
		}
		a.statsMu.Unlock()

		if err != nil {
			klog.Errorf("archiver: upload of %s failed: %v", path, err)
			continue
		}
		if a.config.DeleteAfterUpload {
			if err := os.Remove(path); err != nil {
				klog.Warningf("archiver: failed to remove %s after upload: %v", path, err)
			}
		}
	}
}

func (a *Archiver) uploadFile(path string) (int64, error) {
	ctx, cancel := context.WithTimeout(a.ctx, a.config.UploadTimeout)
	defer cancel()

	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	object := filepath.Base(path)
	if a.config.ObjectPrefix != "" {
		object = a.config.ObjectPrefix + "/" + object
	}

	start := time.Now()
	w := a.client.Bucket(a.config.Bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	n, err := io.Copy(w, src)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("failed to write %s to gs://%s/%s: %w", path, a.config.Bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize gs://%s/%s: %w", a.config.Bucket, object, err)
	}

	klog.V(1).Infof("archiver: uploaded %s (%d bytes) to gs://%s/%s in %v",
		path, n, a.config.Bucket, object, time.Since(start))
	return n, nil
}
