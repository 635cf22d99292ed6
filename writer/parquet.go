package writer

import (
	"bytes"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"hivetax/models"
)

// ParquetRecord mirrors one ledger row in the optional parquet output.
type ParquetRecord struct {
	Time        string `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type        string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	In          string `parquet:"name=in, type=BYTE_ARRAY, convertedtype=UTF8"`
	InCurrency  string `parquet:"name=in_currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Out         string `parquet:"name=out, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutCurrency string `parquet:"name=out_currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee         string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	FeeCurrency string `parquet:"name=fee_currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market      string `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Note        string `parquet:"name=note, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return 0, nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func writeParquetFile(path string, rows []models.LedgerRow, compression string) error {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "lzo":
		pw.CompressionType = parquet.CompressionCodec_LZO
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		record := ParquetRecord{
			Time:        row.Time,
			Type:        row.Type,
			In:          row.In,
			InCurrency:  row.InCurrency,
			Out:         row.Out,
			OutCurrency: row.OutCurrency,
			Fee:         row.Fee,
			FeeCurrency: row.FeeCurrency,
			Market:      row.Market,
			Note:        row.Note,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	if err := os.WriteFile(path, fw.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write parquet file %s: %w", path, err)
	}

	return nil
}
