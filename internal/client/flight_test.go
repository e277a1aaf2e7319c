package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/stats"
	"github.com/23skdu/longbow-moments/internal/table"
)

// mockFlightServer keeps uploaded datasets and answers DoGet with the
// statistics of the named one.
type mockFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	datasets map[string][]arrow.RecordBatch
}

func (s *mockFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	name := reader.LatestFlightDescriptor().GetPath()[0]
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		s.mu.Lock()
		s.datasets[name] = append(s.datasets[name], rec)
		s.mu.Unlock()
	}
	return reader.Err()
}

func (s *mockFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	t, err := DecodeTicket(tkt.GetTicket())
	if err != nil {
		return err
	}
	opts, err := stats.ParseOptions(t.Options)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ds, err := table.FromRecords(s.datasets[t.Dataset], t.Weights)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	res, err := stats.NewEngine(device.NewCPUBackend(), nil).Compute(stream.Context(),
		stats.Descriptor{Options: opts, RowBlockCount: t.RowBlocks},
		stats.Input{Data: ds.Matrix, Weights: ds.Weights})
	if err != nil {
		return err
	}

	rec := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildResultRecord(res, ds.Columns)
	defer rec.Release()
	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	defer w.Close()
	return w.Write(rec)
}

func startMockServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	mock := &mockFlightServer{datasets: make(map[string][]arrow.RecordBatch)}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mock)
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return mock, server.Addr().String()
}

func TestFlightClient_PutAndCompute(t *testing.T) {
	mock, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	rb, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildDatasetRecord(
		[]string{"a", "b", "w"},
		[][]float64{{1, 3, 5}, {2, 4, 6}, {1, 0, 1}},
	)
	require.NoError(t, err)
	defer rb.Release()

	ctx := context.Background()
	require.NoError(t, client.DoPut(ctx, "test-dataset", rb))
	mock.mu.Lock()
	assert.Len(t, mock.datasets["test-dataset"], 1)
	mock.mu.Unlock()

	got, err := client.Compute(ctx, Ticket{Dataset: "test-dataset", Options: "sum,mean,variance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "w"}, got.Columns)
	assert.Equal(t, []float64{9, 12, 2}, got.Values["sum"])
	assert.InDeltaSlice(t, []float64{4, 4, 1.0 / 3}, got.Values["variance"], 1e-12)

	weighted, err := client.Compute(ctx, Ticket{Dataset: "test-dataset", Options: "sum", Weights: "w"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, weighted.Columns)
	assert.Equal(t, []float64{6, 8}, weighted.Values["sum"])
	assert.Equal(t, StateClosed, client.Breaker().State())
}

func TestFlightClient_ServerErrorTripsBreaker(t *testing.T) {
	_, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()
	client.breaker = NewCircuitBreaker(2, time.Hour)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.Compute(ctx, Ticket{Dataset: "missing", Options: "median"})
		assert.Error(t, err)
	}
	_, err = client.Compute(ctx, Ticket{Dataset: "missing", Options: "sum"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestDecodeTicket(t *testing.T) {
	b, err := EncodeTicket(Ticket{Dataset: "d", Options: "all", RowBlocks: 4})
	require.NoError(t, err)
	got, err := DecodeTicket(b)
	require.NoError(t, err)
	assert.Equal(t, Ticket{Dataset: "d", Options: "all", RowBlocks: 4}, got)

	b, err = EncodeTicket(Ticket{Options: "sum"})
	require.NoError(t, err)
	_, err = DecodeTicket(b)
	assert.Error(t, err)

	_, err = DecodeTicket([]byte{0xff})
	assert.Error(t, err)
}
