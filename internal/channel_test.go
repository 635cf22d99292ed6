package internal

import (
	"errors"
	"testing"
)

func TestChannelsStats(t *testing.T) {
	c := NewChannels(1, 1, 1, false)
	defer c.Close()

	c.IncrementOperationsSent()
	c.IncrementRowsSent()
	c.ReportError(errors.New("boom"))

	stats := c.GetStats()
	if stats.OperationsSent != 1 || stats.RowsSent != 1 || stats.ErrorsReported != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	select {
	case err := <-c.Errors:
		if err == nil {
			t.Fatalf("expected error from channel")
		}
	default:
		t.Fatalf("error not delivered")
	}
}

func TestKafkaRowsAllocation(t *testing.T) {
	c := NewChannels(1, 1, 1, false)
	if c.KafkaRows != nil {
		t.Fatalf("kafka channel allocated while disabled")
	}
	c.Close()

	c = NewChannels(1, 1, 1, true)
	if c.KafkaRows == nil {
		t.Fatalf("kafka channel missing while enabled")
	}
	c.Close()
}

func TestCloseIdempotent(t *testing.T) {
	c := NewChannels(1, 1, 1, true)
	c.CloseOperations()
	c.CloseRows()
	// Close must tolerate channels that were already closed by the pipeline.
	c.Close()

	if _, ok := <-c.Operations; ok {
		t.Fatalf("operations channel not closed")
	}
}
