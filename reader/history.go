package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "hivetax/config"
	"hivetax/internal"
	"hivetax/logger"
	"hivetax/models"
)

// HistoryReader pulls the account's filtered operation history from the node
// and feeds it to the transformer in chronological order. The feed is finite;
// the operations channel is closed when it is exhausted.
type HistoryReader struct {
	config   *appconfig.Config
	client   *Client
	channels *internal.Channels
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewHistoryReader(cfg *appconfig.Config, client *Client, channels *internal.Channels) *HistoryReader {
	return &HistoryReader{
		config:   cfg,
		client:   client,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start begins the history walk in the background.
func (hr *HistoryReader) Start(ctx context.Context) error {
	hr.mu.Lock()
	if hr.running {
		hr.mu.Unlock()
		return fmt.Errorf("history reader already running")
	}
	hr.running = true
	hr.mu.Unlock()

	log := hr.log.WithComponent("history_reader").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"account":    hr.config.Export.Account,
		"start_date": hr.config.Export.StartDate,
		"end_date":   hr.config.Export.EndDate,
	}).Info("starting history reader")

	hr.wg.Add(1)
	go hr.run(ctx)

	return nil
}

// Stop waits for the history walk to finish.
func (hr *HistoryReader) Stop() {
	hr.mu.Lock()
	hr.running = false
	hr.mu.Unlock()

	hr.log.WithComponent("history_reader").Info("stopping history reader")
	hr.wg.Wait()
	hr.log.WithComponent("history_reader").Info("history reader stopped")
}

func (hr *HistoryReader) run(ctx context.Context) {
	defer hr.wg.Done()
	defer hr.channels.CloseOperations()

	log := hr.log.WithComponent("history_reader")

	windowStart, windowEnd, err := hr.config.Export.Window()
	if err != nil {
		hr.channels.ReportError(err)
		return
	}

	pages, err := hr.fetchPages(ctx, windowStart)
	if err != nil {
		log.WithError(err).Error("history fetch failed")
		hr.channels.ReportError(err)
		return
	}

	// Pages were fetched newest first; walk them backwards so operations
	// reach the transformer in occurrence order.
	sent := 0
	for i := len(pages) - 1; i >= 0; i-- {
		for _, op := range pages[i] {
			if op.Timestamp.Before(windowStart) || op.Timestamp.After(windowEnd) {
				continue
			}
			select {
			case hr.channels.Operations <- op:
				hr.channels.IncrementOperationsSent()
				logger.IncrementOperationsRead(1)
				sent++
			case <-ctx.Done():
				log.Info("history reader stopped due to context cancellation")
				return
			}
		}
	}

	log.WithFields(logger.Fields{
		"operations": sent,
		"pages":      len(pages),
	}).Info("history feed complete")
}

// fetchPages walks the paginated history backwards from the newest entry
// until it reaches the beginning of the account history or passes the start
// of the export window. Filtering by operation kind happens on the node via
// the bitmask; only the time window is clipped here.
func (hr *HistoryReader) fetchPages(ctx context.Context, windowStart time.Time) ([][]models.Operation, error) {
	filterLow, filterHigh := models.OperationFilter(models.RecognizedOps())
	account := hr.config.Export.Account

	var pages [][]models.Operation
	start := int64(-1)
	limit := hr.config.Reader.PageSize

	for {
		ops, err := hr.client.AccountHistory(ctx, account, start, limit, filterLow, filterHigh)
		if err != nil {
			return nil, err
		}
		if len(ops) == 0 {
			break
		}

		pages = append(pages, ops)
		oldest := ops[0]

		logger.LogDataFlowEntry(hr.log.WithComponent("history_reader"), "hive_api", "operations_channel", len(ops), "account_history")

		if oldest.Index == 0 || oldest.Timestamp.Before(windowStart) {
			break
		}

		start = oldest.Index - 1
		// The API rejects limit > start+1 on subsequent pages.
		if int64(limit) > start+1 {
			limit = int(start + 1)
		}
	}

	return pages, nil
}
