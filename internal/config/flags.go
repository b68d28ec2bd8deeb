package config

import (
	"flag"
	"os"
	"time"

	"github.com/graffiti-garden/byo-storage/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-b string   storage backend: memory or s3
//	-d string   cache database DSN
//	-t int      long-poll timeout in seconds
//	-s3-endpoint, -s3-region, -s3-bucket, -s3-access-key, -s3-secret-key
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with subcommand arguments.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-b", "-d", "-t",
		"-s3-endpoint", "-s3-region", "-s3-bucket", "-s3-access-key", "-s3-secret-key",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Backend, "b", cfg.Backend, "storage backend (memory or s3)")
	fs.StringVar(&cfg.CacheDSN, "d", cfg.CacheDSN, "cache database DSN")
	pollTimeout := fs.Int("t", int(cfg.LongPollTimeout.Seconds()), "long-poll timeout (in seconds)")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 base endpoint")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "S3 secret key")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.LongPollTimeout = time.Duration(*pollTimeout) * time.Second
}
