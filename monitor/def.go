package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	PID process.Process

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_received_total",
		Help: "Total number of frame notifications delivered by the transport",
	})
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_dropped_total",
		Help: "Total number of pending frames overwritten before processing",
	})
	FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_processed_total",
		Help: "Total number of frames that completed a full processing cycle",
	})
	DecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decode_failures_total",
		Help: "Total number of frames skipped because the payload did not decode",
	})
	InferenceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_failures_total",
		Help: "Total number of frames skipped because the detector failed",
	})
	PublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "publish_failures_total",
		Help: "Total number of output publications that failed",
	})
	ArrivalRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frame_arrival_rate_hz",
		Help: "Exponential moving average of inbound frame rate",
	})
	ProcessRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frame_process_rate_hz",
		Help: "Exponential moving average of completed cycle rate",
	})
)

var srv *http.Server

func prom(port int) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage,
		FramesReceived, FramesDropped, FramesProcessed,
		DecodeFailures, InferenceFailures, PublishFailures,
		ArrivalRate, ProcessRate)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: nil,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Prometheus server ListenAndServe error: %v\n", err)
		}
	}()
}

func CheckProcessInfo() {
	MemInfo, _ := PID.MemoryInfo()
	var MemMB = MemInfo.RSS / 1024 / 1024
	CPUPercent, _ := PID.CPUPercent()
	CPUPercentFloat := math.Round(CPUPercent*100) / 100
	memUsage.Set(float64(MemMB))
	cpuUsage.Set(CPUPercentFloat)
}

func GotPID() {
	pid := os.Getpid()
	i32Pid := int32(pid)
	PID.Pid = i32Pid
}

func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	go prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("Prometheus server Shutdown error: %v\n", err)
	}
}
