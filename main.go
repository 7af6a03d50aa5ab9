package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"YoloObbNode/adhoc"
	"YoloObbNode/api"
	"YoloObbNode/config"
	"YoloObbNode/engine"
	"YoloObbNode/logger"
	"YoloObbNode/monitor"
	"YoloObbNode/node"
	"YoloObbNode/transport"
)

// GetOutboundIP resolves the local egress address by opening a routed UDP
// socket; no packet is ever sent, so this works offline as long as a route
// exists.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func main() {
	if err := logger.InitProduction(); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Log().Fatal("failed to load config", zap.String("path", configPath), zap.Error(err))
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("      Broker:", cfg.Broker)
	fmt.Println(" Input Topic:", cfg.InputTopic)
	fmt.Println(" Image Topic:", cfg.AnnotatedImageTopic)
	fmt.Println("   OBB Topic:", cfg.DetectionTopic)
	fmt.Println("  Confidence:", cfg.ConfidenceThreshold)
	fmt.Println(strings.Repeat("#", 64))

	names := cfg.Names
	if cfg.NamesFile != "" {
		names, err = engine.ReadLinesFile(cfg.NamesFile)
		if err != nil {
			logger.Log().Fatal("failed to read class names file",
				zap.String("path", cfg.NamesFile), zap.Error(err))
		}
	}
	if len(names) == 0 {
		logger.Log().Warn("no class names configured, detections will be labeled " + engine.UnknownClass)
	}

	// One-time model acquisition. Any failure here is fatal: the node
	// must never accept frames half-initialized.
	modelPath, err := engine.PrepareModel(cfg.SourceModelPath, cfg.OptimizedModelPath)
	if err != nil {
		logger.Log().Fatal("model preparation failed", zap.Error(err))
	}
	detector, err := engine.LoadYoloOBB(modelPath, names, cfg.InputSize)
	if err != nil {
		logger.Log().Fatal("failed to load YOLO-OBB model", zap.Error(err))
	}
	defer detector.Close()
	if cfg.Warmup {
		logger.Log().Info("warming up detector")
		engine.Warmup(detector, cfg.ConfidenceThreshold)
	}

	nodeID := uuid.NewString()
	client, err := transport.Connect(cfg.Broker, fmt.Sprintf("%s-%s", cfg.ClientID, nodeID[:8]))
	if err != nil {
		logger.Log().Fatal("failed to connect to broker", zap.String("broker", cfg.Broker), zap.Error(err))
	}
	defer client.Disconnect()

	inbox := transport.NewInbox()
	if err := client.SubscribeFrames(cfg.InputTopic, inbox); err != nil {
		logger.Log().Fatal("failed to subscribe to input topic",
			zap.String("topic", cfg.InputTopic), zap.Error(err))
	}

	n := node.New(node.Config{
		ImageTopic:     cfg.AnnotatedImageTopic,
		DetectionTopic: cfg.DetectionTopic,
		Confidence:     cfg.ConfidenceThreshold,
		JPEGQuality:    cfg.JPEGQuality,
	}, detector, client)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.UseRegServer {
		ip, err := GetOutboundIP()
		if err != nil {
			logger.Log().Warn("failed to resolve outbound IP, skipping registration", zap.Error(err))
		} else {
			adhoc.RegServerCfg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
			wg.Add(1)
			go adhoc.SendAliveMessage(ip, cfg.APIPort, ctx, &wg)
		}
	}
	go monitor.StartMon(cfg.MonitorPort, ctx)
	api.Run(cfg.APIPort, n.Snapshot)

	logger.Log().Info("YOLO OBB node initialized and ready", zap.String("nodeID", nodeID))
	n.Run(ctx, inbox)
	wg.Wait()
	logger.Log().Info("node stopped")
}
