package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registerOnce         sync.Once
	lifecycleTransitions *prometheus.CounterVec
	scheduledPublishes   *prometheus.CounterVec
	deferredTasks        *prometheus.CounterVec
	cancelRaces          prometheus.Counter
	liveFeedClients      prometheus.Gauge
)

const (
	namespaceMetrics = "releasedock"
)

// MustRegister 初始化 Prometheus 指标并注册 Go 运行时采样器，需在应用启动阶段调用一次。
// 未调用时所有 Record* 函数都是空操作，方便单元测试。
func MustRegister() {
	registerOnce.Do(func() {
		lifecycleTransitions = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "lifecycle",
					Name:      "transitions_total",
					Help:      "发布状态机的迁移次数，按迁移类型与结果统计。",
				},
				[]string{"transition", "result"},
			),
		)
		scheduledPublishes = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "lifecycle",
					Name:      "scheduled_publish_total",
					Help:      "定时发布回调的执行结果（published/stale/error）。",
				},
				[]string{"outcome"},
			),
		)
		deferredTasks = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "scheduler",
					Name:      "tasks_total",
					Help:      "延时任务的执行次数，按任务类型与结果统计。",
				},
				[]string{"kind", "outcome"},
			),
		)
		cancelRaces = registerCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "scheduler",
					Name:      "cancel_races_total",
					Help:      "取消延时任务时任务已触发或已不存在的次数。",
				},
			),
		)
		liveFeedClients = registerGauge(
			prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespaceMetrics,
					Subsystem: "live",
					Name:      "clients",
					Help:      "当前连接中的实时推送客户端数量。",
				},
			),
		)

		registerRuntimeCollectors()
	})
}

// RecordTransition 记录一次状态迁移的结果。
func RecordTransition(transition, result string) {
	if lifecycleTransitions == nil {
		return
	}
	lifecycleTransitions.WithLabelValues(normalizeLabel(transition, "unknown"), normalizeLabel(result, "unknown")).Inc()
}

// RecordScheduledPublish 记录定时发布回调的执行结果。
func RecordScheduledPublish(outcome string) {
	if scheduledPublishes == nil {
		return
	}
	scheduledPublishes.WithLabelValues(normalizeLabel(outcome, "unknown")).Inc()
}

// RecordDeferredTask 记录延时任务的执行结果。
func RecordDeferredTask(kind, outcome string) {
	if deferredTasks == nil {
		return
	}
	deferredTasks.WithLabelValues(normalizeLabel(kind, "unspecified"), normalizeLabel(outcome, "unknown")).Inc()
}

// RecordCancelRace 记录一次取消竞争（任务已触发或已不存在）。
func RecordCancelRace() {
	if cancelRaces == nil {
		return
	}
	cancelRaces.Inc()
}

// AddLiveFeedClients 调整实时推送连接数，delta 可为负。
func AddLiveFeedClients(delta int) {
	if liveFeedClients == nil {
		return
	}
	liveFeedClients.Add(float64(delta))
}

func normalizeLabel(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func registerCounterVec(vec *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return vec
}

func registerCounter(counter prometheus.Counter) prometheus.Counter {
	if err := prometheus.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
		panic(err)
	}
	return counter
}

func registerGauge(gauge prometheus.Gauge) prometheus.Gauge {
	if err := prometheus.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing
			}
		}
		panic(err)
	}
	return gauge
}

func registerRuntimeCollectors() {
	if err := prometheus.Register(collectors.NewGoCollector()); err != nil {
		if !isAlreadyRegistered(err) {
			panic(err)
		}
	}
	if err := prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		if !isAlreadyRegistered(err) {
			panic(err)
		}
	}
}

func isAlreadyRegistered(err error) bool {
	_, ok := err.(prometheus.AlreadyRegisteredError)
	return ok
}
