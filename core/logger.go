package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RequestRecord 一条入站请求的访问记录
type RequestRecord struct {
	Time      time.Time
	RequestID string
	Method    string
	Path      string
	Model     string
	Status    int
	Latency   time.Duration
	ClientIP  string
	UserAgent string
	Body      string // 仅失败请求记录，已截断
}

// AsyncRequestLogger 异步访问日志：批量写入 logrus，并保留最近的失败请求
type AsyncRequestLogger struct {
	logger    *logrus.Logger
	logChan   chan RequestRecord
	batchSize int
	flushTime time.Duration
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	recent    []RequestRecord
	maxRecent int
}

// NewAsyncRequestLogger 创建新的异步日志记录器
func NewAsyncRequestLogger(logger *logrus.Logger) *AsyncRequestLogger {
	l := &AsyncRequestLogger{
		logger:    logger,
		logChan:   make(chan RequestRecord, 1000), // 缓冲 1000 条
		batchSize: 100,
		flushTime: 5 * time.Second,
		quit:      make(chan struct{}),
		maxRecent: 100,
	}
	l.startWorker()
	return l
}

// Log 提交记录到队列，队列满时丢弃
func (l *AsyncRequestLogger) Log(rec RequestRecord) {
	select {
	case l.logChan <- rec:
	case <-l.quit:
	default:
		l.logger.Warn("Log channel full, dropping request log")
	}
}

func (l *AsyncRequestLogger) startWorker() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.workerLoop()
	}()
}

func (l *AsyncRequestLogger) workerLoop() {
	var batch []RequestRecord
	timer := time.NewTicker(l.flushTime)
	defer timer.Stop()

	for {
		select {
		case rec := <-l.logChan:
			batch = append(batch, rec)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = nil
			}
		case <-timer.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.quit:
			// 退出前清空队列
			for {
				select {
				case rec := <-l.logChan:
					batch = append(batch, rec)
				default:
					l.flush(batch)
					return
				}
			}
		}
	}
}

func (l *AsyncRequestLogger) flush(batch []RequestRecord) {
	if len(batch) == 0 {
		return
	}

	for _, rec := range batch {
		fields := logrus.Fields{
			"request_id": rec.RequestID,
			"method":     rec.Method,
			"path":       rec.Path,
			"status":     rec.Status,
			"latency_ms": rec.Latency.Milliseconds(),
			"client_ip":  rec.ClientIP,
			"user_agent": rec.UserAgent,
		}
		if rec.Model != "" {
			fields["model"] = rec.Model
		}
		if rec.Body != "" {
			fields["request_body"] = rec.Body
		}

		entry := l.logger.WithFields(fields).WithTime(rec.Time)
		switch {
		case rec.Status >= 500:
			entry.Error("Server error")
		case rec.Status >= 400:
			entry.Warn("Client error")
		default:
			entry.Debug("Request processed")
		}
	}

	l.mu.Lock()
	for _, rec := range batch {
		if rec.Status < 400 {
			continue
		}
		l.recent = append(l.recent, rec)
	}
	// 只保留最新的 maxRecent 条
	if over := len(l.recent) - l.maxRecent; over > 0 {
		l.recent = append([]RequestRecord(nil), l.recent[over:]...)
	}
	l.mu.Unlock()
}

// RecentFailures 最近的失败请求，最新的在前
func (l *AsyncRequestLogger) RecentFailures() []RequestRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]RequestRecord, len(l.recent))
	for i, rec := range l.recent {
		out[len(l.recent)-1-i] = rec
	}
	return out
}

// Close 刷新剩余记录并停止后台协程
func (l *AsyncRequestLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
	})
}
