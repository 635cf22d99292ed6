package writer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	appconfig "hivetax/config"
	"hivetax/internal"
	"hivetax/logger"
	"hivetax/models"
)

// ExportWriter drains the row channel into the output CSV file. The header
// row is written at construction time so the file is valid even when the
// account has no matching operations. Every data row is flushed as soon as
// it is written.
type ExportWriter struct {
	config   *appconfig.Config
	channels *internal.Channels

	file *os.File
	csv  *csv.Writer

	parquetRows []models.LedgerRow

	rowsWritten atomic.Int64
	done        chan struct{}
	runID       string

	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
}

func NewExportWriter(cfg *appconfig.Config, channels *internal.Channels) (*ExportWriter, error) {
	file, err := os.Create(cfg.Export.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", cfg.Export.Output, err)
	}

	cw := csv.NewWriter(file)
	if err := cw.Write(models.RowHeader()); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to flush csv header: %w", err)
	}

	w := &ExportWriter{
		config:   cfg,
		channels: channels,
		file:     file,
		csv:      cw,
		done:     make(chan struct{}),
		runID:    uuid.New().String(),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
	if cfg.Writer.Formats.Parquet.Enabled {
		w.parquetRows = make([]models.LedgerRow, 0, 1024)
	}

	w.log.WithComponent("export_writer").WithFields(logger.Fields{
		"output":  cfg.Export.Output,
		"run_id":  w.runID,
		"parquet": cfg.Writer.Formats.Parquet.Enabled,
	}).Info("export writer initialized")

	return w, nil
}

func (w *ExportWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("export writer is already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.WithComponent("export_writer").Debug("starting export writer")

	w.wg.Add(1)
	go w.run(ctx)

	return nil
}

func (w *ExportWriter) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case row, ok := <-w.channels.Rows:
			if !ok {
				w.finalize()
				return
			}
			if err := w.writeRow(row); err != nil {
				w.channels.ReportError(err)
				return
			}
		}
	}
}

func (w *ExportWriter) writeRow(row models.LedgerRow) error {
	if err := w.csv.Write(row.Record()); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush csv row: %w", err)
	}

	if w.parquetRows != nil {
		w.parquetRows = append(w.parquetRows, row)
	}

	w.rowsWritten.Add(1)
	logger.IncrementRowsWritten(1)

	return nil
}

// finalize runs after the row channel closes: the CSV file is complete, so
// the optional parquet mirror is produced next to it.
func (w *ExportWriter) finalize() {
	if w.parquetRows != nil {
		path := w.config.Export.Output + ".parquet"
		if err := writeParquetFile(path, w.parquetRows, w.config.Writer.Formats.Parquet.Compression); err != nil {
			w.log.WithComponent("export_writer").WithError(err).Error("failed to write parquet mirror")
		} else {
			w.log.WithComponent("export_writer").WithFields(logger.Fields{
				"path": path,
				"rows": len(w.parquetRows),
			}).Info("parquet mirror written")
		}
	}
	close(w.done)
}

// Done is closed once the row channel has drained and all output files are
// complete.
func (w *ExportWriter) Done() <-chan struct{} {
	return w.done
}

func (w *ExportWriter) RowsWritten() int64 {
	return w.rowsWritten.Load()
}

func (w *ExportWriter) Stop() error {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("export_writer").Debug("stopping export writer")
	w.wg.Wait()

	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush output file: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}

	w.log.WithComponent("export_writer").WithFields(logger.Fields{
		"rows_written": w.rowsWritten.Load(),
	}).Debug("export writer stopped")

	return nil
}
