// Archiver exports verified audit trails from the approvals service to
// S3-compatible object storage.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bturcanu/fleetgov/pkg/archiver"
	"github.com/bturcanu/fleetgov/pkg/client"
	"github.com/bturcanu/fleetgov/pkg/config"
	"github.com/bturcanu/fleetgov/pkg/governance"
)

type minioUploader struct {
	client *minio.Client
	bucket string
}

func (m minioUploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	minioClient, err := minio.New(config.EnvOr("EVIDENCE_S3_ENDPOINT", "localhost:9000"), &minio.Options{
		Creds:  credentials.NewStaticV4(config.EnvOr("EVIDENCE_S3_ACCESS_KEY", "minioadmin"), config.EnvOr("EVIDENCE_S3_SECRET_KEY", "minioadmin"), ""),
		Secure: config.EnvOrBool("EVIDENCE_S3_SECURE", false),
	})
	if err != nil {
		log.Error("minio init failed", "error", err)
		os.Exit(1)
	}

	bucket := config.EnvOr("EVIDENCE_S3_BUCKET", "fleetgov-audit")
	api := client.New(config.EnvOr("APPROVALS_URL", "http://localhost:8081"), os.Getenv("ARCHIVER_API_KEY"))
	svc := archiver.New(api, minioUploader{client: minioClient, bucket: bucket}, nil)

	opts := client.ListOptions{}
	if s := os.Getenv("ARCHIVER_STATUS"); s != "" {
		status, err := governance.ParseStatus(s)
		if err != nil {
			log.Error("invalid ARCHIVER_STATUS", "error", err)
			os.Exit(1)
		}
		opts.Status = status
	}
	runOnce := config.EnvOrBool("ARCHIVER_RUN_ONCE", true)
	interval := config.EnvOrDuration("ARCHIVER_INTERVAL_SEC", time.Second, 300*time.Second)

	run := func() {
		keys, err := svc.ArchiveAll(ctx, opts)
		for _, key := range keys {
			log.Info("archived audit bundle", "bucket", bucket, "key", key)
		}
		if err != nil {
			log.Error("archive run incomplete", "archived", len(keys), "error", err)
		}
	}

	run()
	if runOnce {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
