// Package adhoc announces node liveness to an optional fleet registry so an
// operator can discover running perception nodes.
package adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"YoloObbNode/logger"
)

const heartbeatSeconds = 5

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Addr string
	Port int
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

var RegServerCfg RegServerConfig

// SendAliveMessage posts a registration heartbeat every few seconds until
// ctx ends. Registry failures are logged and retried on the next tick; the
// pipeline never depends on the registry being up.
func SendAliveMessage(nodeIP string, apiPort int, ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	addr := fmt.Sprintf("%s:%d", RegServerCfg.Addr, RegServerCfg.Port)
	url := fmt.Sprintf("http://%s/api/register", addr)
	client := resty.New().SetTimeout(heartbeatSeconds * time.Second)
	id := uuid.NewString()

	doRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error(fmt.Sprintf("SendAliveMessage panic recovered: %v", r))
			}
		}()
		var respBody RegisterResponse
		reqBody := RegisterRequest{
			Id:        id,
			IP:        nodeIP,
			Port:      apiPort,
			TimeStamp: time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			logger.Log().Error(fmt.Sprintf("registry request error: %v", err))
			return
		}
		if resp.IsError() {
			logger.Log().Error(fmt.Sprintf("registry returned error: %s, body: %s", resp.Status(), resp.String()))
		}
	}

	ticker := time.NewTicker(heartbeatSeconds * time.Second)
	defer ticker.Stop()
	doRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			doRequest()
		}
	}
}
