package wapp

import (
	"context"
	"image"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/spheroseg/segpipeline/core/contour"
	"github.com/spheroseg/segpipeline/core/libs/grpcsrv"
	mio "github.com/spheroseg/segpipeline/core/libs/minio"
	rediscli "github.com/spheroseg/segpipeline/core/libs/redis"
	"github.com/spheroseg/segpipeline/worker/internal/consumer"
	"github.com/spheroseg/segpipeline/worker/internal/domain"
	"github.com/spheroseg/segpipeline/worker/internal/executor"
	"github.com/spheroseg/segpipeline/worker/internal/health"
	"github.com/spheroseg/segpipeline/worker/internal/infra/callback"
	"github.com/spheroseg/segpipeline/worker/internal/infra/config"
	"github.com/spheroseg/segpipeline/worker/internal/infra/segmenter"
	imagestore "github.com/spheroseg/segpipeline/worker/internal/infra/store/image"
	instancestore "github.com/spheroseg/segpipeline/worker/internal/infra/store/instance"
	"github.com/spheroseg/segpipeline/worker/internal/metrics"
	"github.com/spheroseg/segpipeline/worker/internal/pool"
	"github.com/spheroseg/segpipeline/worker/internal/shutdown"
)

// Segmenter is what the worker needs from any segmentation backend.
type Segmenter interface {
	Segment(ctx context.Context, img []byte, params domain.Parameters) (*image.Gray, error)
	Available() error
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	flag *atomic.Bool

	segConn   *grpc.ClientConn
	segmenter Segmenter

	images   executor.ImageSource
	callback *callback.Client
	executor *executor.Executor

	metrics *metrics.Recorder
	pool    *pool.Pool

	consumer *consumer.Consumer

	reporter   *health.Reporter
	grpcServer *grpc.Server
	grpcHealth *health.GRPCHealth
	httpServer *http.Server

	redis     *redis.Client
	instances health.Registry

	coordinator *shutdown.Coordinator
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(config.Path(config.DefaultPath))
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		cfg := di.Config()
		opts := &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}

		var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
		if cfg.Log.Format == "json" {
			h = slog.NewJSONHandler(os.Stdout, opts)
		}
		di.logger = slog.New(h).With(slog.String("instance_id", cfg.InstanceID))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

// ShutdownFlag is shared by the consumer and the coordinator.
func (di *dependencyInjector) ShutdownFlag() *atomic.Bool {
	if di.flag == nil {
		di.flag = &atomic.Bool{}
	}
	return di.flag
}

func (di *dependencyInjector) SegmenterConn(ctx context.Context) *grpc.ClientConn {
	if di.segConn == nil {
		conn, err := segmenter.NewConnection(di.Config().Segmenter.Addr)
		if err != nil {
			log.Fatalf("SegmenterConn: %+v", err)
		}
		di.segConn = conn
	}

	return di.segConn
}

func (di *dependencyInjector) Segmenter(ctx context.Context) Segmenter {
	if di.segmenter == nil {
		cfg := di.Config()
		switch cfg.Segmenter.Kind {
		case "grpc":
			di.segmenter = segmenter.NewGRPC(di.SegmenterConn(ctx))
			di.Logger().Info("using gRPC segmenter", slog.String("addr", cfg.Segmenter.Addr))
		case "exec":
			s, err := segmenter.NewExec(
				cfg.Segmenter.Command,
				cfg.Segmenter.ModelPath,
				cfg.Segmenter.WorkingSize,
				cfg.Worker.ScratchDir,
			)
			if err != nil {
				log.Fatalf("Segmenter exec: %+v", err)
			}
			di.segmenter = s
			di.Logger().Info("using exec segmenter", slog.String("command", cfg.Segmenter.Command))
		default:
			di.segmenter = segmenter.NewSynthetic(
				cfg.Segmenter.WorkingSize,
				cfg.Segmenter.Delay,
				cfg.Worker.MaxConcurrentTasks,
			)
			di.Logger().Warn("using synthetic segmenter, masks are not real predictions")
		}
	}

	return di.segmenter
}

func (di *dependencyInjector) ImageSource(ctx context.Context) executor.ImageSource {
	if di.images == nil {
		cfg := di.Config()
		local := imagestore.NewLocalStore(cfg.Images.BaseDir)
		di.Logger().Info("initialized local image store", slog.String("base_dir", cfg.Images.BaseDir))

		if !cfg.MinIO.Enabled {
			di.images = imagestore.NewResolver(local, nil)
			return di.images
		}

		remote, err := imagestore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			Prefix:          cfg.MinIO.Prefix,
		})
		if err != nil {
			log.Fatalf("ImageSource minio: %+v", err)
		}
		di.Logger().Info(
			"initialized MinIO image store",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)
		di.images = imagestore.NewResolver(local, remote)
	}

	return di.images
}

func (di *dependencyInjector) Callback() *callback.Client {
	if di.callback == nil {
		cfg := di.Config()
		di.callback = callback.New(cfg.Callback.Timeout, cfg.Callback.Method, cfg.InstanceID)
	}
	return di.callback
}

func (di *dependencyInjector) Executor(ctx context.Context) *executor.Executor {
	if di.executor == nil {
		cfg := di.Config()
		if err := os.MkdirAll(cfg.Worker.ScratchDir, 0o755); err != nil {
			log.Fatalf("Executor scratch dir: %+v", err)
		}
		di.executor = executor.New(
			di.ImageSource(ctx),
			di.Segmenter(ctx),
			di.Callback(),
			executor.Config{
				InstanceID: cfg.InstanceID,
				ScratchDir: cfg.Worker.ScratchDir,
				Extraction: contour.Options{
					MinArea:         cfg.Extraction.MinArea,
					Cutoff:          uint8(cfg.Extraction.Cutoff),
					Clean:           cfg.Extraction.Morphology,
					SimplifyEpsilon: cfg.Extraction.SimplifyTolerance,
				},
				RetryCutoffs: cfg.Extraction.RetryCutoffBytes(),
			},
		)
	}
	return di.executor
}

func (di *dependencyInjector) Metrics() *metrics.Recorder {
	if di.metrics == nil {
		di.metrics = metrics.NewRecorder()
	}
	return di.metrics
}

func (di *dependencyInjector) Pool(ctx context.Context) *pool.Pool {
	if di.pool == nil {
		cfg := di.Config()
		di.pool = pool.New(di.Executor(ctx), pool.Config{
			MaxConcurrent: cfg.Worker.MaxConcurrentTasks,
			TaskTimeout:   cfg.Worker.TaskTimeout,
		}).WithObserver(di.Metrics())
		di.Logger().Info(
			"worker pool ready",
			slog.Int("max_concurrent_tasks", cfg.Worker.MaxConcurrentTasks),
			slog.Duration("task_timeout", cfg.Worker.TaskTimeout),
		)
	}
	return di.pool
}

func (di *dependencyInjector) Consumer(ctx context.Context) *consumer.Consumer {
	if di.consumer == nil {
		cfg := di.Config()
		seg := di.Segmenter(ctx)
		di.consumer = consumer.New(consumer.Config{
			URL:           cfg.NATS.URL,
			User:          cfg.NATS.User,
			Password:      cfg.NATS.Password,
			Name:          "segpipeline-worker-" + cfg.InstanceID,
			Stream:        cfg.NATS.Stream,
			Subject:       cfg.NATS.Subject,
			Durable:       cfg.NATS.Durable,
			Prefetch:      cfg.NATS.PrefetchCount,
			AckWait:       cfg.NATS.AckWait,
			ReconnectWait: cfg.NATS.ReconnectWait,
			FetchWait:     cfg.NATS.FetchWait,
		}, di.Pool(ctx), di.ShutdownFlag()).
			WithGate(func() bool { return seg.Available() == nil })
	}
	return di.consumer
}

func (di *dependencyInjector) Reporter(ctx context.Context) *health.Reporter {
	if di.reporter == nil {
		cfg := di.Config()
		modelPath := ""
		if cfg.Segmenter.Kind == "exec" {
			modelPath = cfg.Segmenter.ModelPath
		}
		di.reporter = health.NewReporter(
			health.Config{
				InstanceID: cfg.InstanceID,
				ModelPath:  modelPath,
				Thresholds: health.Thresholds{
					CPU:    cfg.Health.CPUThreshold,
					Memory: cfg.Health.MemoryThreshold,
					Disk:   cfg.Health.DiskThreshold,
				},
			},
			health.NewSystemProbe(cfg.Worker.ScratchDir),
			di.Segmenter(ctx),
			di.Consumer(ctx),
			di.Pool(ctx),
			di.Metrics(),
		)
	}
	return di.reporter
}

func (di *dependencyInjector) HTTPServer(ctx context.Context) *http.Server {
	if di.httpServer == nil {
		di.httpServer = &http.Server{
			Addr:    di.Config().Health.Addr,
			Handler: health.NewRouter(di.Reporter(ctx)),
		}
	}
	return di.httpServer
}

// GRPCServer hosts the standard health service. It is nil when no gRPC
// address is configured.
func (di *dependencyInjector) GRPCServer(ctx context.Context) *grpc.Server {
	if di.grpcServer == nil && di.Config().Health.GRPCAddr != "" {
		di.grpcServer = grpcsrv.NewServer(di.Logger())
		di.grpcHealth = health.RegisterGRPC(di.grpcServer, di.Reporter(ctx))
	}
	return di.grpcServer
}

func (di *dependencyInjector) GRPCHealth(ctx context.Context) *health.GRPCHealth {
	di.GRPCServer(ctx)
	return di.grpcHealth
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			User:     cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("RedisClient: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

// InstanceRegistry is nil when the fleet registry is disabled.
func (di *dependencyInjector) InstanceRegistry(ctx context.Context) health.Registry {
	if di.instances == nil && di.Config().Redis.Enabled {
		di.instances = instancestore.NewRedisInstanceStore(di.RedisClient(ctx), di.Config().Redis.TTL)
	}
	return di.instances
}

func (di *dependencyInjector) Coordinator(ctx context.Context) *shutdown.Coordinator {
	if di.coordinator == nil {
		di.coordinator = shutdown.New(
			di.ShutdownFlag(),
			di.Consumer(ctx),
			di.Pool(ctx),
			di.Config().Worker.DrainTimeout,
		).OnFlag(di.Reporter(ctx).SetShuttingDown)
	}
	return di.coordinator
}

func (di *dependencyInjector) Close() {
	if di.segConn != nil {
		if err := di.segConn.Close(); err != nil {
			slog.Warn("close segmenter connection", slog.String("error", err.Error()))
		}
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Warn("close redis", slog.String("error", err.Error()))
		}
	}
}
