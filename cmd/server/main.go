package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txpipeline/internal/config"
	"txpipeline/internal/handler"
	"txpipeline/internal/infrastructure/cache"
	"txpipeline/internal/infrastructure/database"
	"txpipeline/internal/infrastructure/mq"
	"txpipeline/internal/infrastructure/queue"
	"txpipeline/internal/job"
	"txpipeline/internal/pipeline"
	"txpipeline/internal/repository"
	"txpipeline/internal/scoring"
	"txpipeline/internal/service"
	"txpipeline/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka 生产者和告警通道
	producer := mq.InitKafka(&cfg.Kafka)
	defer producer.Close()
	sink := mq.NewKafkaNotificationSink(producer, cfg.Kafka.Topic.Alerts)

	// 队列：主流水线两跳启用死信搬运，死信流自身不启用
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	visibility := queue.WithVisibilityTimeout(time.Duration(cfg.Queue.VisibilityTimeoutSeconds) * time.Second)
	redrive := queue.WithRedrive(cfg.Queue.DLQStream, cfg.Queue.MaxReceiveCount)

	validationQueue, err := queue.NewStreamQueue(redisClient, cfg.Queue.ValidationStream, cfg.Queue.ConsumerGroup, hostname, visibility, redrive)
	if err != nil {
		log.Fatalf("创建校验队列失败: %v", err)
	}
	enrichmentQueue, err := queue.NewStreamQueue(redisClient, cfg.Queue.EnrichmentStream, cfg.Queue.ConsumerGroup, hostname, visibility, redrive)
	if err != nil {
		log.Fatalf("创建富化队列失败: %v", err)
	}
	dlqQueue, err := queue.NewStreamQueue(redisClient, cfg.Queue.DLQStream, cfg.Queue.ConsumerGroup, hostname, visibility)
	if err != nil {
		log.Fatalf("创建死信队列失败: %v", err)
	}

	// 存储与富化源
	txnRepo := repository.NewTransactionRepository(db, redisClient)
	profileRepo := repository.NewProfileRepository(db, redisClient, cfg.Business.HomeCountry)

	// 流水线阶段
	scorer := scoring.NewRiskScorer(cfg.Business.HomeCountry)
	validator := pipeline.NewValidator(txnRepo, enrichmentQueue, sink, &cfg.Business)
	enricher := pipeline.NewEnricher(txnRepo, profileRepo, sink, scorer, &cfg.Business)
	analyzer := pipeline.NewDLQAnalyzer(txnRepo, dlqQueue, validationQueue, sink, cfg.Business.DLQRetryLimit)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	validationWorker := job.NewStageWorker("ValidationWorker", validationQueue, pipeline.NewConsumer(validator))
	go validationWorker.Start(ctx)

	enrichmentWorker := job.NewStageWorker("EnrichmentWorker", enrichmentQueue, pipeline.NewConsumer(enricher))
	go enrichmentWorker.Start(ctx)

	triageJob := job.NewDLQTriageJob(dlqQueue, analyzer)
	go triageJob.Start(ctx)

	// 接入服务与路由
	intake := service.NewIntakeService(txnRepo, validationQueue)
	router := handler.SetupRouter(intake, analyzer)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
