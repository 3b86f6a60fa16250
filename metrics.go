package reactor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "reactor"

// Metrics 为连接与字节计数。nil *Metrics 上的所有方法都是空操作。
type Metrics struct {
	ConnsOpened    prometheus.Counter
	ConnsClosed    prometheus.Counter
	ConnsActive    prometheus.Gauge
	BytesRead      prometheus.Counter
	BytesWritten   prometheus.Counter
	ConnectRetries prometheus.Counter
}

// NewMetrics 创建并注册一组以 name 为 const label 的指标。
// reg 为 nil 时不注册；重复注册时复用已注册的收集器。
func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	labels := prometheus.Labels{"name": name}
	counter := func(n, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace, Name: n, Help: help, ConstLabels: labels,
		})
	}
	m := &Metrics{
		ConnsOpened: counter("connections_opened_total", "Number of TCP connections established."),
		ConnsClosed: counter("connections_closed_total", "Number of TCP connections closed."),
		ConnsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace, Name: "connections_active",
			Help: "Number of currently established TCP connections.", ConstLabels: labels,
		}),
		BytesRead:      counter("bytes_read_total", "Bytes read from connections."),
		BytesWritten:   counter("bytes_written_total", "Bytes written to connections."),
		ConnectRetries: counter("connect_retries_total", "Number of outbound connect retries."),
	}
	if reg == nil {
		return m
	}
	m.ConnsOpened = register(reg, m.ConnsOpened)
	m.ConnsClosed = register(reg, m.ConnsClosed)
	m.ConnsActive = register(reg, m.ConnsActive)
	m.BytesRead = register(reg, m.BytesRead)
	m.BytesWritten = register(reg, m.BytesWritten)
	m.ConnectRetries = register(reg, m.ConnectRetries)
	return m
}

// register 忽略重复注册错误，其他错误 panic
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		panic(err)
	}
	if existing, ok := are.ExistingCollector.(T); ok {
		return existing
	}
	return c
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.ConnsOpened.Inc()
	m.ConnsActive.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.ConnsActive.Dec()
	m.ConnsClosed.Inc()
}

func (m *Metrics) read(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) written(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) connectRetry() {
	if m == nil {
		return
	}
	m.ConnectRetries.Inc()
}
