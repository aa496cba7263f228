package core

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"talkai-gateway/core/adapter"
	"talkai-gateway/models"
)

const (
	DefaultRequestTimeout = 300 * time.Second
	DefaultIdleTimeout    = 60 * time.Second

	// 错误响应体最多读取的字节数
	maxErrorBodyBytes = 4 << 10
)

var (
	errRequestTimeout = errors.New("talkai: no response headers before request timeout")
	errIdleTimeout    = errors.New("talkai: response body idle timeout")
)

// UpstreamOptions 上游调用参数
type UpstreamOptions struct {
	RequestTimeout time.Duration
	IdleTimeout    time.Duration
	HTTPClient     *http.Client
	// Catalog 限定指标中的 model 标签；为空时所有模型记为 other
	Catalog *ModelCatalog
	// TracerProvider 默认使用全局 provider
	TracerProvider trace.TracerProvider
}

// UpstreamClient 调用 TalkAI 聊天接口；不重试
type UpstreamClient struct {
	adapter        adapter.ProviderAdapter
	apiKey         string
	client         *http.Client
	requestTimeout time.Duration
	idleTimeout    time.Duration
	catalog        *ModelCatalog
	logger         *logrus.Logger
	tracer         trace.Tracer
}

func NewUpstreamClient(a adapter.ProviderAdapter, apiKey string, opts UpstreamOptions, logger *logrus.Logger) *UpstreamClient {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	return &UpstreamClient{
		adapter:        a,
		apiKey:         apiKey,
		client:         opts.HTTPClient,
		requestTimeout: opts.RequestTimeout,
		idleTimeout:    opts.IdleTimeout,
		catalog:        opts.Catalog,
		logger:         logger,
		tracer:         opts.TracerProvider.Tracer("talkai-gateway/core"),
	}
}

// Call 发送一次上游请求
// 成功时返回的 UpstreamResponse 必须 Close；失败时返回 *ValidationError、*UpstreamError
// 或者（入站连接已断开时）父 Context 的错误。校验失败不产生 span 和上游指标
func (u *UpstreamClient) Call(ctx context.Context, req models.ChatCompletionRequest) (*UpstreamResponse, error) {
	httpReq, err := u.adapter.BuildRequest(ctx, req, u.apiKey)
	if err != nil {
		return nil, err
	}

	ctx, span := u.tracer.Start(ctx, "talkai.chat.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.provider", u.adapter.Name()),
			attribute.String("talkai.model", req.Model),
			attribute.Bool("talkai.stream", req.Stream),
		),
	)

	resp, err := u.call(ctx, httpReq, req, span)
	UpstreamRequestsTotal.WithLabelValues(u.catalog.MetricLabel(req.Model), UpstreamOutcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, UpstreamOutcome(err))
		span.End()
		return nil, err
	}
	return resp, nil
}

func (u *UpstreamClient) call(ctx context.Context, httpReq *http.Request, req models.ChatCompletionRequest, span trace.Span) (*UpstreamResponse, error) {
	callCtx, cancel := context.WithCancelCause(ctx)

	var connected atomic.Bool
	traceCtx := httptrace.WithClientTrace(callCtx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	})

	httpReq = httpReq.WithContext(traceCtx)

	logEntry := u.logger.WithFields(logrus.Fields{
		"model":  req.Model,
		"stream": req.Stream,
		"key":    models.MaskAPIKey(u.apiKey),
	})

	timer := time.AfterFunc(u.requestTimeout, func() { cancel(errRequestTimeout) })
	start := time.Now()
	resp, err := u.client.Do(httpReq)
	timer.Stop()
	latency := time.Since(start)
	UpstreamLatency.WithLabelValues(u.catalog.MetricLabel(req.Model)).Observe(latency.Seconds())

	if err != nil {
		classified := u.classifyTransport(ctx, callCtx, err, connected.Load())
		cancel(nil)
		logEntry.WithField("latency_ms", latency.Milliseconds()).Warnf("TalkAI request failed: %s", u.scrub(err.Error()))
		return nil, classified
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		cancel(nil)

		ue := ClassifyStatus(resp.StatusCode, u.scrub(string(body)), resp.Header)
		logEntry.WithFields(logrus.Fields{
			"status":     resp.StatusCode,
			"kind":       ue.Kind.String(),
			"latency_ms": latency.Milliseconds(),
		}).Warn("TalkAI returned an error status")
		return nil, ue
	}

	logEntry.WithFields(logrus.Fields{
		"status":     resp.StatusCode,
		"latency_ms": latency.Milliseconds(),
	}).Debug("TalkAI response headers received")

	body := newIdleTimeoutBody(resp.Body, u.idleTimeout, func() { cancel(errIdleTimeout) })
	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		body:       body,
		scanner:    u.adapter.NewScanner(body),
		parent:     ctx,
		callCtx:    callCtx,
		cancel:     cancel,
		span:       span,
		client:     u,
	}, nil
}

// classifyTransport 没有拿到 HTTP 响应时的错误分类
func (u *UpstreamClient) classifyTransport(parent, callCtx context.Context, err error, connected bool) error {
	if parent.Err() != nil {
		// 入站请求已取消，不归类为上游错误
		return parent.Err()
	}

	timeoutMsg := msgConnectTimeout
	if connected {
		timeoutMsg = msgReadTimeout
	}

	if errors.Is(context.Cause(callCtx), errRequestTimeout) {
		return &UpstreamError{Kind: UpstreamTimeout, Message: timeoutMsg, Cause: u.scrubErr(err)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Kind: UpstreamTimeout, Message: timeoutMsg, Cause: u.scrubErr(err)}
	}
	return &UpstreamError{Kind: UpstreamConnectionFailed, Message: msgConnectionFailed, Cause: u.scrubErr(err)}
}

// classifyRead 读取响应体过程中的错误分类
func (u *UpstreamClient) classifyRead(parent, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}

	var se *adapter.StreamError
	if errors.As(err, &se) {
		return &UpstreamError{Kind: UpstreamUnknown, Message: "TalkAI API stream error: " + u.scrub(se.Message), Cause: se}
	}
	if errors.Is(context.Cause(callCtx), errIdleTimeout) {
		return &UpstreamError{Kind: UpstreamTimeout, Message: msgReadTimeout, Cause: u.scrubErr(err)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Kind: UpstreamTimeout, Message: msgReadTimeout, Cause: u.scrubErr(err)}
	}
	return &UpstreamError{Kind: UpstreamConnectionFailed, Message: msgConnectionFailed, Cause: u.scrubErr(err)}
}

// scrub 将上游密钥替换为脱敏形式
func (u *UpstreamClient) scrub(s string) string {
	if u.apiKey == "" {
		return s
	}
	return strings.ReplaceAll(s, u.apiKey, models.MaskAPIKey(u.apiKey))
}

func (u *UpstreamClient) scrubErr(err error) error {
	if err == nil || u.apiKey == "" || !strings.Contains(err.Error(), u.apiKey) {
		return err
	}
	return errors.New(u.scrub(err.Error()))
}

// UpstreamResponse 成功的上游响应，本身就是一个 EventScanner
type UpstreamResponse struct {
	StatusCode int

	body    io.ReadCloser
	scanner adapter.EventScanner
	parent  context.Context
	callCtx context.Context
	cancel  context.CancelCauseFunc
	span    trace.Span
	client  *UpstreamClient

	closeOnce sync.Once
}

func (r *UpstreamResponse) Scan() bool {
	return r.scanner.Scan()
}

func (r *UpstreamResponse) Event() adapter.StreamEvent {
	return r.scanner.Event()
}

// Err 返回已分类的读取错误
func (r *UpstreamResponse) Err() error {
	return r.client.classifyRead(r.parent, r.callCtx, r.scanner.Err())
}

// Close 关闭响应体并结束 span，可重复调用
func (r *UpstreamResponse) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.body.Close()
		r.cancel(nil)
		if scanErr := r.Err(); scanErr != nil {
			r.span.RecordError(scanErr)
			r.span.SetStatus(codes.Error, UpstreamOutcome(scanErr))
		}
		r.span.End()
	})
	return err
}

// idleTimeoutBody 每次读到数据就重置空闲计时器
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, onIdle func()) *idleTimeoutBody {
	return &idleTimeoutBody{
		rc:      rc,
		timer:   time.AfterFunc(timeout, onIdle),
		timeout: timeout,
	}
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	return b.rc.Close()
}
