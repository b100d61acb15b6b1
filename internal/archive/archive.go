// Package archive publishes synchronized results to object storage.
// Objects are keyed <prefix>/<structure>/<instance>/results/<file>.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/shore-hpc/shore/internal/config"
	"github.com/shore-hpc/shore/internal/constants"
	"github.com/shore-hpc/shore/internal/logging"
)

var (
	ErrDisabled        = errors.New("archive is disabled")
	ErrUnknownProvider = errors.New("unsupported archive provider")
)

// Store puts one local file under a key.
type Store interface {
	Put(ctx context.Context, key, localPath string) error
	Name() string
}

// Credentials for S3 when the default AWS chain should not be used.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Endpoint        string // S3-compatible endpoint, empty for AWS
}

// NewStore builds the store selected by cfg.Provider.
func NewStore(ctx context.Context, cfg config.ArchiveConfig, creds Credentials) (Store, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, ErrDisabled
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:      cfg.Bucket,
			Region:      cfg.Region,
			Credentials: creds,
		})
	case "azure":
		return NewAzureStore(cfg.AccountURL, cfg.Bucket)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// Publisher uploads instance results through a Store.
type Publisher struct {
	store  Store
	prefix string
	logger *logging.Logger
}

// NewPublisher creates a publisher. logger may be nil.
func NewPublisher(store Store, prefix string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{store: store, prefix: prefix, logger: logger}
}

// Key returns the object key of one results file.
func (p *Publisher) Key(structure, instance, file string) string {
	return path.Join(p.prefix, structure, instance, constants.ResultsDir, file)
}

// PublishDir uploads every regular file of dir. Failed uploads do not stop
// the rest; they are joined into the returned error.
func (p *Publisher) PublishDir(ctx context.Context, structure, instance, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var errs []error
	n := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		key := p.Key(structure, instance, name)
		if err := p.store.Put(ctx, key, filepath.Join(dir, name)); err != nil {
			p.logger.Warn().Err(err).Str("instance", instance).Str("key", key).Msg("archive upload failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		n++
	}
	p.logger.Info().Str("instance", instance).Str("store", p.store.Name()).Int("files", n).Msg("results archived")
	return n, errors.Join(errs...)
}
