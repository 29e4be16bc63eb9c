package remap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

const (
	DefaultPollInterval = 60 * time.Second

	// maxBackoff caps exponential backoff on consecutive SSM errors.
	maxBackoff = 5 * time.Minute
)

// ParamGetter is the subset of the SSM API the watcher needs.
type ParamGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncRemapSwaps()
	IncRemapErrors()
}

type WatcherOptions struct {
	Logger       log.Logger
	Client       ParamGetter
	Param        string
	Table        *Table
	PollInterval time.Duration
	Metrics      WatcherMetrics
}

// Watcher polls an SSM parameter holding an alias YAML document and swaps
// the table whenever the document changes.
type Watcher struct {
	client   ParamGetter
	param    string
	table    *Table
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics

	currentHash     string
	consecutiveErrs int
	swapCount       int64
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Client == nil {
		return nil, xerrors.New("remap watcher: Client is required")
	}
	if opts.Param == "" {
		return nil, xerrors.New("remap watcher: Param is required")
	}
	if opts.Table == nil {
		return nil, xerrors.New("remap watcher: Table is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		client:   opts.Client,
		param:    opts.Param,
		table:    opts.Table,
		logger:   opts.Logger,
		interval: interval,
		metrics:  opts.Metrics,
	}, nil
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "remap watcher starting",
		"param", w.param,
		"poll_interval", w.interval.String(),
	)
	if err := w.checkOnce(ctx); err != nil {
		w.consecutiveErrs++
	}

	ticker := time.NewTicker(w.backoffDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "remap watcher stopping", "swaps", w.swapCount)
			return ctx.Err()
		case <-ticker.C:
			if err := w.checkOnce(ctx); err != nil {
				w.consecutiveErrs++
				next := w.backoffDuration()
				w.logger.Warn(ctx, "remap watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", next.String(),
				)
				ticker.Reset(next)
			} else if w.consecutiveErrs > 0 {
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}
		}
	}
}

// checkOnce fetches the parameter and swaps the table if it changed.
func (w *Watcher) checkOnce(ctx context.Context) error {
	out, err := w.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(w.param),
		WithDecryption: aws.Bool(true),
	})
	if err == nil && (out.Parameter == nil || out.Parameter.Value == nil) {
		err = xerrors.Newf("SSM parameter %s has no value", w.param)
	}
	if err != nil {
		err = xerrors.Wrapf(err, "get SSM parameter %s", w.param)
		w.logger.Error(ctx, err, "remap watcher: poll failed")
		if w.metrics != nil {
			w.metrics.IncRemapErrors()
		}
		return err
	}

	doc := strings.TrimSpace(*out.Parameter.Value)
	sum := sha256.Sum256([]byte(doc))
	hash := hex.EncodeToString(sum[:])
	if hash == w.currentHash {
		return nil
	}

	aliases, err := LoadYAML(bytes.NewReader([]byte(doc)))
	if err != nil {
		w.logger.Error(ctx, err, "remap watcher: rejected alias document, keeping current table",
			"hash", hash[:12],
		)
		if w.metrics != nil {
			w.metrics.IncRemapErrors()
		}
		// the fetch itself worked, do not back off on a bad document
		w.currentHash = hash
		return nil
	}

	w.table.Replace(aliases)
	w.currentHash = hash
	w.swapCount++
	if w.metrics != nil {
		w.metrics.IncRemapSwaps()
	}
	w.logger.Info(ctx, "remap watcher: alias table swapped",
		"hash", hash[:12],
		"aliases", len(aliases),
	)
	return nil
}

// backoffDuration: 0 errors → interval, n errors → interval * 2^n, capped.
func (w *Watcher) backoffDuration() time.Duration {
	d := time.Duration(float64(w.interval) * math.Pow(2, float64(w.consecutiveErrs)))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
