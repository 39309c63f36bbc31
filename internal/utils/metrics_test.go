// internal/utils/metrics_test.go
package utils

import (
	"sync"
	"testing"
	"time"
)

// 指标收集器是进程级单例，测试使用各自独立的指标名避免串扰

func TestCounterOperations(t *testing.T) {
	m := GetMetricsCollector()

	m.IncrementCounter("test_counter_inc")
	m.IncrementCounter("test_counter_inc")
	if got := m.GetCounterValue("test_counter_inc"); got != 2 {
		t.Errorf("计数器应为2，实际: %d", got)
	}

	m.AddCounter("test_counter_add", 40)
	m.AddCounter("test_counter_add", 2)
	if got := m.GetCounterValue("test_counter_add"); got != 42 {
		t.Errorf("计数器应为42，实际: %d", got)
	}

	if got := m.GetCounterValue("test_counter_missing"); got != 0 {
		t.Errorf("不存在的计数器应为0，实际: %d", got)
	}
}

func TestGaugeOperations(t *testing.T) {
	m := GetMetricsCollector()

	m.SetGauge("test_gauge", 10)
	m.IncGauge("test_gauge")
	m.IncGauge("test_gauge")
	m.DecGauge("test_gauge")
	if got := m.GetGauge("test_gauge"); got != 11 {
		t.Errorf("仪表值应为11，实际: %d", got)
	}
}

func TestHistogramTracksMinMax(t *testing.T) {
	m := GetMetricsCollector()

	for _, v := range []int64{50, 10, 90, 30} {
		m.RecordHistogram("test_histogram", v)
	}

	snapshot := m.GetMetrics()
	histograms, ok := snapshot["histograms"].(map[string]map[string]int64)
	if !ok {
		t.Fatal("快照缺少直方图")
	}
	h, exists := histograms["test_histogram"]
	if !exists {
		t.Fatal("直方图未记录")
	}
	if h["count"] != 4 || h["sum"] != 180 || h["min"] != 10 || h["max"] != 90 {
		t.Errorf("直方图统计不符: %+v", h)
	}
}

func TestConcurrentCounterIncrements(t *testing.T) {
	m := GetMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementCounter("test_counter_concurrent")
			}
		}()
	}
	wg.Wait()

	if got := m.GetCounterValue("test_counter_concurrent"); got != 1000 {
		t.Errorf("并发自增丢失更新，实际: %d", got)
	}
}

func TestRecordAPIRequestBucketsStatusCodes(t *testing.T) {
	pm := NewPipelineMetrics()
	before2xx := pm.metrics.GetCounterValue("api_responses_2xx")
	before4xx := pm.metrics.GetCounterValue("api_responses_4xx")

	pm.RecordAPIRequest("/api/stories", "GET", 200, 5*time.Millisecond)
	pm.RecordAPIRequest("/api/stories", "POST", 404, 5*time.Millisecond)

	if got := pm.metrics.GetCounterValue("api_responses_2xx"); got != before2xx+1 {
		t.Errorf("2xx响应计数不符: %d", got)
	}
	if got := pm.metrics.GetCounterValue("api_responses_4xx"); got != before4xx+1 {
		t.Errorf("4xx响应计数不符: %d", got)
	}
}

func TestRecordPipelineRun(t *testing.T) {
	pm := NewPipelineMetrics()
	before := pm.metrics.GetCounterValue("pipeline_runs_bible_done")

	pm.RecordPipelineRun("bible", "done", 2*time.Second)

	if got := pm.metrics.GetCounterValue("pipeline_runs_bible_done"); got != before+1 {
		t.Errorf("流水线运行计数不符: %d", got)
	}
}

func TestRecordEngineRun(t *testing.T) {
	pm := NewPipelineMetrics()

	pm.RecordEngineRun("test-engine", true)
	pm.RecordEngineRun("test-engine", false)

	if got := pm.metrics.GetCounterValue("engine_success_test-engine"); got != 1 {
		t.Errorf("引擎成功计数不符: %d", got)
	}
	if got := pm.metrics.GetCounterValue("engine_failure_test-engine"); got != 1 {
		t.Errorf("引擎失败计数不符: %d", got)
	}
}

func TestRecordError(t *testing.T) {
	pm := NewPipelineMetrics()
	before := pm.metrics.GetCounterValue("errors_component_test_component")

	pm.RecordError("test_error_type", "test_component")

	if got := pm.metrics.GetCounterValue("errors_component_test_component"); got != before+1 {
		t.Errorf("组件错误计数不符: %d", got)
	}
	if got := pm.metrics.GetCounterValue("errors_test_error_type"); got != 1 {
		t.Errorf("错误类型计数不符: %d", got)
	}
}
