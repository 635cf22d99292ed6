package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hivetax/config"
	"hivetax/internal"
	"hivetax/logger"
	"hivetax/processor"
	"hivetax/reader"
	"hivetax/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Hivetax.Name,
		"version":     cfg.Hivetax.Version,
		"environment": config.AppEnvironment(),
		"account":     cfg.Export.Account,
		"window":      cfg.Export.StartDate + ".." + cfg.Export.EndDate,
	}).Info("starting hivetax export")

	if env := config.AppEnvironment(); config.IsProductionLike(env) && !cfg.Storage.S3.Enabled {
		log.WithFields(logger.Fields{"environment": env}).Warn("S3 upload disabled, export stays on local disk")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Metrics.CloudWatch.DashboardName,
		)
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := internal.NewChannels(
		cfg.Channels.OperationBuffer,
		cfg.Channels.RowBuffer,
		cfg.Channels.ErrorBuffer,
		cfg.Storage.Kafka.Enabled,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)

	client, err := reader.NewClient(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to connect to a hive node")
		os.Exit(1)
	}
	defer client.Close()

	props, err := client.DynamicGlobalProperties(ctx)
	if err != nil {
		log.WithError(err).Error("failed to fetch dynamic global properties")
		os.Exit(1)
	}
	rate, err := processor.ConversionRate(props)
	if err != nil {
		log.WithError(err).Error("failed to compute vests conversion rate")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{
		"node":       client.Endpoint(),
		"head_block": props.HeadBlockNumber,
		"rate":       rate,
	}).Info("vests conversion rate computed")

	historyReader := reader.NewHistoryReader(cfg, client, channels)
	transformer := processor.NewTransformer(cfg, rate, channels)

	exportWriter, err := writer.NewExportWriter(cfg, channels)
	if err != nil {
		log.WithError(err).Error("failed to create export writer")
		os.Exit(1)
	}

	var kafkaWriter *writer.KafkaWriter
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg, channels)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	}

	if err := historyReader.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start history reader")
		os.Exit(1)
	}
	if err := transformer.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start transformer")
		os.Exit(1)
	}
	if err := exportWriter.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start export writer")
		os.Exit(1)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0

	select {
	case err := <-channels.Errors:
		log.WithError(err).Error("export failed")
		exitCode = 1
	case <-exportWriter.Done():
		// A stage that fails reports its error before closing the channels
		// downstream of it, so the writer can still drain and finish. Check
		// for a reported error before declaring success.
		select {
		case err := <-channels.Errors:
			log.WithError(err).Error("export failed")
			exitCode = 1
		default:
			log.WithFields(logger.Fields{
				"account": cfg.Export.Account,
				"output":  cfg.Export.Output,
				"rows":    exportWriter.RowsWritten(),
			}).Info("csv export completed")
		}
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		exitCode = 1
	}

	log.Info("starting graceful shutdown")
	cancel()

	historyReader.Stop()
	transformer.Stop()
	if err := exportWriter.Stop(); err != nil {
		log.WithError(err).Error("failed to close output file")
		exitCode = 1
	}
	if kafkaWriter != nil {
		kafkaWriter.Stop()
	}

	if exitCode == 0 && cfg.Storage.S3.Enabled {
		uploadCtx, uploadCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer uploadCancel()

		uploader, err := writer.NewS3Uploader(uploadCtx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create s3 uploader")
			exitCode = 1
		} else {
			files := []string{cfg.Export.Output}
			if cfg.Writer.Formats.Parquet.Enabled {
				files = append(files, cfg.Export.Output+".parquet")
			}
			for _, f := range files {
				if err := uploader.UploadFile(uploadCtx, f); err != nil {
					log.WithError(err).Error("failed to upload export")
					exitCode = 1
				}
			}
		}
	}

	log.Info("hivetax stopped")
	os.Exit(exitCode)
}
