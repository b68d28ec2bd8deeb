// Package cli provides the interactive byostore command-line client.
//
// It wires configuration, the storage backend, the local cache, and a small
// REPL for posting to and watching channels. The owner key pair is derived
// from a secret prompted at startup, so the same secret always controls the
// same directories.
package cli

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	byostorage "github.com/graffiti-garden/byo-storage"
	"github.com/graffiti-garden/byo-storage/cache"
	"github.com/graffiti-garden/byo-storage/internal/config"
	"github.com/graffiti-garden/byo-storage/storage"
)

// App is the interactive client. Construct with NewApp, drive with Run.
type App struct {
	cfg    *config.Config
	engine *byostorage.Engine
	store  cache.Store
	priv   ed25519.PrivateKey

	in  *bufio.Reader
	out io.Writer
}

// NewApp builds the backend and cache described by cfg and prompts for the
// owner secret.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	var backend storage.Backend
	switch cfg.Backend {
	case "memory":
		backend = storage.NewMemoryBackend()
	case "s3":
		var err error
		backend, err = storage.NewS3Backend(ctx, storage.S3Config{
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			PollInterval: cfg.S3PollInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	store, err := cache.OpenSQLiteStore(ctx, cfg.CacheDSN)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	secret, err := GetSecret(os.Stdout)
	if err != nil {
		return nil, err
	}
	seed := sha256.Sum256(secret)

	return &App{
		cfg:    cfg,
		engine: byostorage.New(backend, store, byostorage.WithLongPollTimeout(cfg.LongPollTimeout)),
		store:  store,
		priv:   ed25519.NewKeyFromSeed(seed[:]),
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

func (a *App) ownerKey() []byte {
	return a.priv.Public().(ed25519.PublicKey)
}

// Run reads commands until exit or EOF.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	fmt.Fprintln(a.out, "commands: post <channel> <text> | delete <channel> <id> | watch <channel> [link] | sign <channel> | key <channel> <link> | exit")
	for {
		fmt.Fprint(a.out, "> ")
		line, err := a.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" {
			return nil
		}
		if err := a.dispatch(ctx, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
		}
	}
}

func (a *App) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "post":
		if len(args) < 2 {
			return fmt.Errorf("usage: post <channel> <text>")
		}
		return a.post(ctx, args[0], strings.Join(args[1:], " "))
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete <channel> <id>")
		}
		return a.delete(ctx, args[0], args[1])
	case "watch":
		if len(args) < 1 {
			return fmt.Errorf("usage: watch <channel> [link]")
		}
		link := ""
		if len(args) > 1 {
			link = args[1]
		}
		return a.watch(ctx, args[0], link)
	case "sign":
		if len(args) != 1 {
			return fmt.Errorf("usage: sign <channel>")
		}
		link, err := a.engine.SignDirectory(ctx, args[0], a.ownerKey(), byostorage.Ed25519Sign(a.priv))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "signed %s\n", link)
		return nil
	case "key":
		if len(args) != 2 {
			return fmt.Errorf("usage: key <channel> <link>")
		}
		key, err := a.engine.PublicKey(ctx, args[0], storage.SharedLink(args[1]), byostorage.Ed25519Verify)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "owner key %s\n", base64.RawURLEncoding.EncodeToString(key))
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *App) post(ctx context.Context, channel, text string) error {
	link, err := a.engine.Post(ctx, channel, a.ownerKey(), nil, []byte(text))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "posted to %s\n", link)
	return nil
}

func (a *App) delete(ctx context.Context, channel, encodedID string) error {
	id, err := base64.RawURLEncoding.DecodeString(encodedID)
	if err != nil {
		return fmt.Errorf("bad record id: %w", err)
	}
	if _, err := a.engine.Delete(ctx, channel, a.ownerKey(), id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted")
	return nil
}

// watch subscribes and prints events until the user presses Enter.
func (a *App) watch(ctx context.Context, channel, link string) error {
	shared := storage.SharedLink(link)
	if link == "" {
		var err error
		shared, err = a.engine.CreateOrGetDirectory(ctx, channel, a.ownerKey())
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := a.engine.Subscribe(ctx, channel, shared)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "watching %s (press Enter to stop)\n", shared)
	go func() {
		_, _ = a.in.ReadString('\n')
		cancel()
	}()

	for event := range sub.Events() {
		switch event.Kind {
		case byostorage.EventBacklogComplete:
			fmt.Fprintln(a.out, "-- caught up --")
		case byostorage.EventDelete:
			fmt.Fprintf(a.out, "deleted %s\n", base64.RawURLEncoding.EncodeToString(event.ID[:]))
		case byostorage.EventUpdate:
			fmt.Fprintf(a.out, "%s: %s\n", base64.RawURLEncoding.EncodeToString(event.ID[:]), event.Data)
		}
	}
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
