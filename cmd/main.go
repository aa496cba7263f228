// talkai-gateway exposes an OpenAI-compatible Chat Completions API and
// forwards requests to the TalkAI chat service.
//
// Usage:
//
//	# Start the gateway (default command)
//	talkai-gateway serve --config config.yaml
//
//	# Create client_api_keys.json with a fresh key
//	talkai-gateway init-keys
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"talkai-gateway/config"
	"talkai-gateway/core"
	"talkai-gateway/core/adapter"
	"talkai-gateway/models"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "talkai-gateway",
	Short: "OpenAI-compatible gateway for the TalkAI chat API",
	Long: `talkai-gateway translates OpenAI Chat Completions requests into TalkAI
chat requests and converts the answers (JSON or SSE) back into the OpenAI schema.

Configuration is read from config.yaml (optional) and TALKAI_* environment
variables. PASSWORD holds the comma-separated list of accepted service keys.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: ./config.yaml if present)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// setupLogger 按配置创建 logrus 日志器；返回的 io.Closer 用于关闭日志文件
func setupLogger(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.LogFile == "" {
		return log, io.NopCloser(nil), nil
	}

	rotator, err := core.NewLogRotator(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return nil, nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return log, rotator, nil
}

// gateway 组装好的服务依赖
type gateway struct {
	cfg       *config.Config
	log       *logrus.Logger
	creds     *core.Credentials
	catalog   *core.ModelCatalog
	proxy     *core.ProxyHandler
	access    *core.AsyncRequestLogger
	startedAt time.Time
}

func newGateway(cfg *config.Config, log *logrus.Logger, creds *core.Credentials, catalog *core.ModelCatalog) *gateway {
	talkai := adapter.NewTalkAIAdapter(cfg.UpstreamURL, cfg.DefaultTemperature, log)
	upstream := core.NewUpstreamClient(talkai, creds.UpstreamKey, core.UpstreamOptions{
		RequestTimeout: cfg.RequestTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		Catalog:        catalog,
	}, log)

	return &gateway{
		cfg:       cfg,
		log:       log,
		creds:     creds,
		catalog:   catalog,
		proxy:     core.NewProxyHandler(upstream, log),
		access:    core.NewAsyncRequestLogger(log),
		startedAt: time.Now(),
	}
}

// engine 设置路由
func (g *gateway) engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(g.log.Writer()))
	engine.Use(corsMiddleware())
	engine.Use(requestIDMiddleware())

	// 公开路由 - 无需鉴权，无访问日志
	engine.GET("/", handleRoot(g))
	engine.GET("/health", handleHealth(g.catalog))
	engine.GET("/metrics", handleMetrics())

	api := engine.Group("/v1")
	api.Use(requestLoggerMiddleware(g.access, g.catalog), verifyGatewayToken(g.creds.Service))
	{
		api.POST("/chat/completions", g.proxy.HandleChatCompletions)
		api.GET("/models", handleListModels(g.catalog))
	}

	return engine
}

func (g *gateway) Close() {
	g.access.Close()
}

// logCredentials 启动时记录凭据数量，不输出密钥本身
func logCredentials(log logrus.FieldLogger, creds *core.Credentials) {
	log.WithFields(logrus.Fields{
		"service_keys":  creds.Service.Len(),
		"upstream_keys": creds.Upstream.Len(),
		"upstream_key":  models.MaskAPIKey(creds.UpstreamKey),
	}).Info("Credentials resolved")
	if creds.Upstream.Len() > 1 {
		log.Warnf("Upstream key file holds %d keys, only the first one is used", creds.Upstream.Len())
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, logCloser, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	secrets, err := core.NewSecretProvider(cfg.SecretKey)
	if err != nil {
		return err
	}
	resolver := &core.CredentialResolver{
		Password:        cfg.Password,
		ServiceKeyFile:  cfg.ServiceKeyFile,
		UpstreamKeyFile: cfg.UpstreamKeyFile,
		Secrets:         secrets,
		Logger:          log,
	}
	creds, err := resolver.Resolve()
	if err != nil {
		log.WithError(err).Error("Credential resolution failed")
		return err
	}
	logCredentials(log, creds)

	ctx := context.Background()
	shutdownTracing, err := setupTelemetry(ctx, cfg.TelemetryURL, log)
	if err != nil {
		return err
	}

	catalog := core.LoadModelCatalog(cfg.ModelsFile, log)
	g := newGateway(cfg, log, creds, catalog)
	defer g.Close()

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           g.engine(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"address":  cfg.Address,
			"upstream": cfg.UpstreamURL,
			"models":   len(catalog.IDs()),
		}).Infof("Starting TalkAI gateway %s", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infof("Received %s, shutting down server...", sig)
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("Tracing shutdown failed")
	}

	log.Info("Server exited")
	return nil
}
