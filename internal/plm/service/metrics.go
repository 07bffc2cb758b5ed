package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 变更与零件相关的 Prometheus 指标，未注册时所有方法均为空操作
type Metrics struct {
	transitions    *prometheus.CounterVec
	allocations    *prometheus.CounterVec
	commitDuration prometheus.Histogram
	commitFailures prometheus.Counter

	registerOnce sync.Once
}

// NewMetrics 创建指标集合并注册到 registry，registry 为 nil 时不注册
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{}
	m.Register(registry)
	return m
}

// Register 注册指标，重复调用无效
func (m *Metrics) Register(registry prometheus.Registerer) {
	if registry == nil {
		return
	}

	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.transitions = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plm_change_request_transitions_total",
			Help: "Total number of successful change request operations",
		}, []string{"operation"})

		m.allocations = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "plm_part_references_allocated_total",
			Help: "Total number of base references allocated per family",
		}, []string{"family"})

		m.commitDuration = factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "plm_commit_duration_seconds",
			Help:    "Duration of change request commits",
			Buckets: prometheus.DefBuckets,
		})

		m.commitFailures = factory.NewCounter(prometheus.CounterOpts{
			Name: "plm_commit_failures_total",
			Help: "Total number of change request commits that rolled back",
		})
	})
}

// IncTransition 记录一次成功的变更请求操作
func (m *Metrics) IncTransition(operation string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(operation).Inc()
}

// IncAllocation 记录一次编号分配
func (m *Metrics) IncAllocation(familyCode string) {
	if m == nil || m.allocations == nil {
		return
	}
	m.allocations.WithLabelValues(familyCode).Inc()
}

// ObserveCommit 记录提交耗时，失败时计数
func (m *Metrics) ObserveCommit(start time.Time, err error) {
	if m == nil || m.commitDuration == nil {
		return
	}
	m.commitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.commitFailures.Inc()
	}
}
