package engine

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"

	"YoloObbNode/logger"

	"go.uber.org/zap"
)

// PrepareModel makes sure a loadable model artifact exists and returns its
// path. The optimized artifact wins when present. When it is missing but
// the source model exists, the source graph is loaded once for validation
// and written out as the optimized artifact — a one-time, potentially slow
// step. When neither is usable the node must not start serving.
func PrepareModel(srcPath, optPath string) (string, error) {
	if optPath == "" {
		optPath = srcPath
	}
	if _, err := os.Stat(optPath); err == nil {
		return optPath, nil
	}
	logger.Log().Warn("optimized model artifact not found, exporting from source model",
		zap.String("artifact", optPath),
		zap.String("source", srcPath))

	if srcPath == "" {
		return "", errors.New("no source model path configured")
	}
	if _, err := os.Stat(srcPath); err != nil {
		return "", fmt.Errorf("source model not found at %s: %w", srcPath, err)
	}

	// Validate the source graph before committing it as the artifact;
	// a broken model must fail here, not on the first frame.
	net := gocv.ReadNetFromONNX(srcPath)
	if net.Empty() {
		return "", fmt.Errorf("source model at %s is not a readable network", srcPath)
	}
	if err := net.Close(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read source model: %w", err)
	}
	if err := os.WriteFile(optPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write optimized artifact: %w", err)
	}
	logger.Log().Info("export complete", zap.String("artifact", optPath))
	return optPath, nil
}
