// Weaverエンジンのホストプロセスです。
// 設定を読み込み、サービスを初期化して、バックグラウンド処理
// （Enrichmentワーカー、孤立ノードGC）を起動した後、シグナルを待ちます。
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/t-kawata/myweave/config"
	"github.com/t-kawata/myweave/lib/logger"
	"github.com/t-kawata/myweave/pkg/weaver"
	"go.uber.org/zap"
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	zl := logger.MustBuild(settings.LogLevel, settings.LogOutput)
	defer zl.Sync()

	service, err := weaver.New(settings, zl)
	if err != nil {
		zl.Fatal("Failed to initialize weaver service", zap.Error(err))
	}
	defer service.Close()

	service.StartBackground()
	zl.Info("Weaver engine started",
		zap.String("version", config.VERSION),
		zap.String("llm_provider", settings.LLMProvider),
		zap.Int("embedding_dimensions", settings.EmbeddingDimensions))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	zl.Info("Shutting down")
}
