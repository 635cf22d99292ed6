package internal

import (
	"context"
	"sync"
	"time"

	"hivetax/logger"
	"hivetax/models"
)

type ChannelStats struct {
	OperationsSent int64
	RowsSent       int64
	ErrorsReported int64
}

// Channels wires the pipeline stages together. Operations flows from the
// history reader to the transformer, Rows from the transformer to the export
// writer. KafkaRows is only allocated when the Kafka sink is enabled; the
// transformer mirrors every row into it. Errors carries fatal failures to the
// run loop in main.
type Channels struct {
	Operations chan models.Operation
	Rows       chan models.LedgerRow
	KafkaRows  chan models.LedgerRow
	Errors     chan error

	stats               ChannelStats
	statsMutex          sync.RWMutex
	closeOperationsOnce sync.Once
	closeRowsOnce       sync.Once
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(operationBuffer, rowBuffer, errorBuffer int, kafkaEnabled bool) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Operations: make(chan models.Operation, operationBuffer),
		Rows:       make(chan models.LedgerRow, rowBuffer),
		Errors:     make(chan error, errorBuffer),
		log:        log,
	}
	if kafkaEnabled {
		c.KafkaRows = make(chan models.LedgerRow, rowBuffer)
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"operation_buffer_size": operationBuffer,
		"row_buffer_size":       rowBuffer,
		"kafka_enabled":         kafkaEnabled,
	}).Info("channels initialized")

	return c
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats(c.log)
			}
		}
	}()
}

func (c *Channels) logChannelStats(log *logger.Log) {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	log.WithComponent("channels").WithFields(logger.Fields{
		"operations_sent":        stats.OperationsSent,
		"rows_sent":              stats.RowsSent,
		"errors_reported":        stats.ErrorsReported,
		"operations_channel_len": len(c.Operations),
		"operations_channel_cap": cap(c.Operations),
		"rows_channel_len":       len(c.Rows),
		"rows_channel_cap":       cap(c.Rows),
	}).Info("channel statistics")
}

// CloseOperations signals end of feed to the transformer. Safe to call more
// than once.
func (c *Channels) CloseOperations() {
	c.closeOperationsOnce.Do(func() {
		close(c.Operations)
	})
}

// CloseRows signals end of rows to the writers. Safe to call more than once.
func (c *Channels) CloseRows() {
	c.closeRowsOnce.Do(func() {
		close(c.Rows)
		if c.KafkaRows != nil {
			close(c.KafkaRows)
		}
	})
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	c.CloseOperations()
	c.CloseRows()

	c.log.WithComponent("channels").Info("all channels closed")
}

// ReportError hands a fatal error to the run loop. The send never blocks; if
// the buffer is already full the first error wins and later ones are only
// logged.
func (c *Channels) ReportError(err error) {
	c.statsMutex.Lock()
	c.stats.ErrorsReported++
	c.statsMutex.Unlock()

	select {
	case c.Errors <- err:
	default:
		c.log.WithComponent("channels").WithError(err).Warn("error channel full, dropping error")
	}
}

func (c *Channels) IncrementOperationsSent() {
	c.statsMutex.Lock()
	c.stats.OperationsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRowsSent() {
	c.statsMutex.Lock()
	c.stats.RowsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
