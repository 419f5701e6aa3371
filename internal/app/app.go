// Package app wires all dimfocus subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, LoadModels installs the persisted artifacts, Train and TrainPII
// publish new ones, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithRegistry,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/dimfocus/internal/config"
	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/export"
	"github.com/MrWong99/dimfocus/internal/health"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/model/postgres"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/resilience"
	"github.com/MrWong99/dimfocus/internal/similarity"
	"github.com/MrWong99/dimfocus/internal/training"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// TopDimensions is the number of dimensions listed in model summaries.
const TopDimensions = training.TopDimensionCount

// ErrNoRegistry is returned by operations that need the PostgreSQL model
// registry when none is configured.
var ErrNoRegistry = errors.New("app: model registry not configured")

// Providers holds the embeddings provider and its optional fallbacks.
// Populated by the CLI via the config registry.
type Providers struct {
	Embeddings embeddings.Provider
	Fallbacks  []NamedProvider
}

// NamedProvider is a fallback embeddings provider and its label for logs
// and health output.
type NamedProvider struct {
	Name     string
	Provider embeddings.Provider
}

// Registry is the durable model store with run history. It is satisfied by
// [postgres.Store].
type Registry interface {
	model.Store
	SimilarRuns(ctx context.Context, importances []float64, k int) ([]postgres.RunSummary, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	provider embeddings.Provider
	fallback *resilience.EmbeddingsFallback
	metrics  *observe.Metrics

	holder   *model.Holder
	files    *model.FileStore
	registry Registry
	scorer   *similarity.Scorer
	ranker   *similarity.Ranker
	detector *pii.Detector
	watcher  *model.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a model registry instead of connecting to
// model.postgres_dsn.
func WithRegistry(r Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. No model is loaded
// yet; call [App.LoadModels] or [App.Train].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Embeddings == nil {
		return nil, errors.New("app: an embeddings provider is required")
	}
	a := &App{
		cfg:   cfg,
		files: model.NewFileStore(cfg.Model.Path),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Provider failover ─────────────────────────────────────────────
	if err := a.initProvider(providers); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. Model registry ───────────────────────────────────────────────
	if err := a.initRegistry(ctx); err != nil {
		return nil, fmt.Errorf("app: init registry: %w", err)
	}

	// ── 3. Inference ─────────────────────────────────────────────────────
	cacheOpts := a.cacheOptions()
	a.holder = model.NewHolder(a.metrics)
	a.scorer = similarity.NewScorer(a.provider, a.holder,
		similarity.WithThresholds(similarity.Thresholds{
			High:   cfg.Scoring.High,
			Medium: cfg.Scoring.Medium,
		}),
		similarity.WithPreviewChars(cfg.Scoring.PreviewChars),
		similarity.WithCacheOptions(cacheOpts...),
		similarity.WithMetrics(a.metrics),
	)
	a.ranker = similarity.NewRanker(a.scorer)
	a.detector = pii.NewDetector(a.provider, a.metrics, cacheOpts...)

	return a, nil
}

func (a *App) initProvider(ps *Providers) error {
	if len(ps.Fallbacks) == 0 {
		a.provider = ps.Embeddings
		return nil
	}
	br := a.cfg.Resilience.Breaker
	fb := resilience.NewEmbeddingsFallback(ps.Embeddings, a.cfg.Providers.Embeddings.Name,
		resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  br.MaxFailures,
				ResetTimeout: br.ResetTimeout,
				HalfOpenMax:  br.HalfOpenMax,
			},
		}, a.metrics)
	for _, np := range ps.Fallbacks {
		if err := fb.AddFallback(np.Name, np.Provider); err != nil {
			return err
		}
	}
	a.fallback = fb
	a.provider = fb
	slog.Info("embeddings failover enabled", "backends", len(ps.Fallbacks)+1)
	return nil
}

func (a *App) initRegistry(ctx context.Context) error {
	if a.registry != nil || a.cfg.Model.PostgresDSN == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Model.PostgresDSN)
	if err != nil {
		return err
	}
	a.registry = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) cacheOptions() []embedcache.Option {
	return []embedcache.Option{
		embedcache.WithBatchSize(a.cfg.Embedding.BatchSize),
		embedcache.WithConcurrency(a.cfg.Embedding.Concurrency),
		embedcache.WithMetrics(a.metrics),
	}
}

// ─── Models ──────────────────────────────────────────────────────────────────

// LoadModels installs the persisted similarity and PII models. Missing
// artifacts are not an error: the corresponding operations fail with
// [model.ErrModelNotLoaded] until a model is trained. With watch set and a
// positive model.watch_interval, the similarity artifact is polled and
// reloaded when it changes.
func (a *App) LoadModels(ctx context.Context, watch bool) error {
	log := observe.Logger(ctx)

	if watch && a.cfg.Model.WatchInterval > 0 {
		w, err := model.NewWatcher(a.cfg.Model.Path, a.holder,
			model.AllowMissing(),
			model.WithInterval(a.cfg.Model.WatchInterval),
			model.WithOnChange(func(_, m *model.TrainedModel) { a.checkEmbeddingModel(m.EmbeddingModel(), "similarity") }),
		)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	} else {
		m, err := a.files.Latest(ctx)
		if errors.Is(err, model.ErrModelNotLoaded) && a.registry != nil {
			m, err = a.registry.Latest(ctx)
		}
		switch {
		case err == nil:
			a.holder.Swap(ctx, m, "load")
		case errors.Is(err, model.ErrModelNotLoaded):
			log.Info("no similarity model yet; run train first", "path", a.cfg.Model.Path)
		default:
			return fmt.Errorf("app: load similarity model: %w", err)
		}
	}
	if m, err := a.holder.Current(); err == nil {
		a.checkEmbeddingModel(m.EmbeddingModel(), "similarity")
	}

	pm, err := pii.LoadFile(a.cfg.Model.PIIPath)
	switch {
	case err == nil:
		a.detector.Swap(pm)
		a.checkEmbeddingModel(pm.EmbeddingModel, "pii")
		log.Info("pii model loaded", "id", pm.ID, "path", a.cfg.Model.PIIPath)
	case errors.Is(err, model.ErrModelNotLoaded):
		log.Info("no pii model yet; run train-pii first", "path", a.cfg.Model.PIIPath)
	default:
		return fmt.Errorf("app: load pii model: %w", err)
	}
	return nil
}

// checkEmbeddingModel warns when an artifact was trained on a different
// embedding model than the configured provider serves.
func (a *App) checkEmbeddingModel(trained, kind string) {
	if served := a.provider.ModelID(); trained != "" && served != "" && trained != served {
		slog.Warn("model was trained on a different embedding model; scores will be meaningless",
			"kind", kind,
			"trained_on", trained,
			"provider_model", served,
		)
	}
}

// TrainOptions configures one similarity training run.
type TrainOptions struct {
	// ExportFeatures, if set, writes the training pairs and their features
	// to this Parquet file.
	ExportFeatures string
}

// Train fits a similarity model on categories, persists it to the model
// file (and the registry when configured), and installs it as the live model.
func (a *App) Train(ctx context.Context, categories []dataset.Category, opts TrainOptions) (*training.Report, error) {
	tr := a.cfg.Training
	topts := training.Options{
		TestFraction:  tr.TestFraction,
		Seed:          tr.Seed,
		Coverage:      tr.Coverage,
		NegativeRatio: tr.NegativeRatio,
		Classifier:    tr.Classifier,
		BatchSize:     a.cfg.Embedding.BatchSize,
		Concurrency:   a.cfg.Embedding.Concurrency,
	}
	trainerOpts := []training.Option{training.WithMetrics(a.metrics)}
	if opts.ExportFeatures != "" {
		trainerOpts = append(trainerOpts, training.WithFeatureSink(export.NewFeatureWriter(opts.ExportFeatures)))
	}
	trainer, err := training.NewTrainer(a.provider, topts, trainerOpts...)
	if err != nil {
		return nil, err
	}

	report, m, err := trainer.Train(ctx, categories)
	if err != nil {
		return nil, err
	}

	if err := a.files.Save(ctx, m); err != nil {
		return report, fmt.Errorf("app: save model: %w", err)
	}
	if a.registry != nil {
		if err := a.registry.Save(ctx, m); err != nil {
			return report, fmt.Errorf("app: save model to registry: %w", err)
		}
	}
	a.holder.Swap(ctx, m, "train")
	return report, nil
}

// TrainPII fits a PII detector on examples, persists it and installs it.
func (a *App) TrainPII(ctx context.Context, examples []pii.Example) (*pii.Report, error) {
	tr := a.cfg.Training
	trainer, err := pii.NewTrainer(a.provider, pii.Options{
		TestFraction: tr.TestFraction,
		Seed:         tr.Seed,
		Folds:        tr.PIIFolds,
		Classifier:   tr.Classifier,
		BatchSize:    a.cfg.Embedding.BatchSize,
		Concurrency:  a.cfg.Embedding.Concurrency,
	}, a.metrics)
	if err != nil {
		return nil, err
	}
	report, m, err := trainer.Train(ctx, examples)
	if err != nil {
		return nil, err
	}
	if err := pii.SaveFile(a.cfg.Model.PIIPath, m); err != nil {
		return report, fmt.Errorf("app: save pii model: %w", err)
	}
	a.detector.Swap(m)
	return report, nil
}

// ─── Inference ───────────────────────────────────────────────────────────────

// Compare scores two documents with the live model.
func (a *App) Compare(ctx context.Context, doc1, doc2 string) (similarity.Result, error) {
	return a.scorer.Compare(ctx, doc1, doc2)
}

// FindSimilar ranks candidates against target with the live model.
func (a *App) FindSimilar(ctx context.Context, target string, candidates []string, topK int) (*similarity.Ranking, error) {
	return a.ranker.FindSimilar(ctx, target, candidates, topK)
}

// DetectPII classifies texts with the live PII model.
func (a *App) DetectPII(ctx context.Context, texts []string) ([]pii.Detection, error) {
	return a.detector.Detect(ctx, texts)
}

// Model summarises the live similarity model.
func (a *App) Model() (model.Summary, error) {
	m, err := a.holder.Current()
	if err != nil {
		return model.Summary{}, err
	}
	return m.Summarize(TopDimensions), nil
}

// SimilarRuns lists the k registry runs whose importance profile is closest
// to the live model's.
func (a *App) SimilarRuns(ctx context.Context, k int) ([]postgres.RunSummary, error) {
	if a.registry == nil {
		return nil, ErrNoRegistry
	}
	m, err := a.holder.Current()
	if err != nil {
		return nil, err
	}
	return a.registry.SimilarRuns(ctx, m.Importances(), k)
}

// Thresholds returns the match level cut-offs in use.
func (a *App) Thresholds() similarity.Thresholds { return a.scorer.Thresholds() }

// ModelLoaded reports whether a similarity model is live.
func (a *App) ModelLoaded() bool { return a.holder.Loaded() }

// PIILoaded reports whether a PII model is live.
func (a *App) PIILoaded() bool { return a.detector.Loaded() }

// Checkers returns the readiness checks for the HTTP server: the similarity
// model is required, the PII model is optional, and with failover at least
// one provider circuit must be usable.
func (a *App) Checkers() []health.Checker {
	piiCheck := health.Loaded("pii_model", a.PIILoaded)
	piiCheck.Optional = true
	checks := []health.Checker{
		health.Loaded("model", a.ModelLoaded),
		piiCheck,
	}
	if a.fallback != nil {
		checks = append(checks, health.Breakers("providers", a.fallback.Status))
	}
	return checks
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
