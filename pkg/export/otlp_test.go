package export

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"

	"github.com/mbeema/rehook/pkg/config"
)

type logsCollector struct {
	collogspb.UnimplementedLogsServiceServer

	mu       sync.Mutex
	requests []*collogspb.ExportLogsServiceRequest
	tenant   []string
}

func (c *logsCollector) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		c.tenant = append(c.tenant, md.Get("x-tenant")...)
	}
	return &collogspb.ExportLogsServiceResponse{}, nil
}

func startCollector(t *testing.T) (*logsCollector, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	c := &logsCollector{}
	srv := grpc.NewServer()
	collogspb.RegisterLogsServiceServer(srv, c)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return c, lis.Addr().String()
}

func TestOTLPExporterExportEvents(t *testing.T) {
	c, addr := startCollector(t)

	exp, err := NewOTLPExporter(&config.OTLPConfig{
		Enabled:  true,
		Endpoint: addr,
		Insecure: true,
		Headers:  map[string]string{"x-tenant": "ops"},
	}, zap.NewNop())
	require.NoError(t, err)
	defer exp.Shutdown(context.Background())

	ev := testEvent()
	ev.Attributes["process.pid"] = int64(42)
	require.NoError(t, exp.ExportEvents(context.Background(), []*Event{ev}))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.requests, 1)
	assert.Equal(t, []string{"ops"}, c.tenant)

	rl := c.requests[0].ResourceLogs
	require.Len(t, rl, 1)
	var service string
	for _, kv := range rl[0].Resource.Attributes {
		if kv.Key == "service.name" {
			service = kv.Value.GetStringValue()
		}
	}
	assert.Equal(t, "rehook", service)

	require.Len(t, rl[0].ScopeLogs, 1)
	records := rl[0].ScopeLogs[0].LogRecords
	require.Len(t, records, 1)
	assert.Equal(t, "Minimal syscall hooks enabled", records[0].Body.GetStringValue())
	assert.Equal(t, "INFO", records[0].SeverityText)
	assert.Equal(t, uint64(ev.Timestamp.UnixNano()), records[0].TimeUnixNano)

	attrs := map[string]interface{}{}
	for _, kv := range records[0].Attributes {
		if s := kv.Value.GetStringValue(); s != "" {
			attrs[kv.Key] = s
		} else {
			attrs[kv.Key] = kv.Value.GetIntValue()
		}
	}
	assert.Equal(t, "minimal", attrs["rehook.set"])
	assert.Equal(t, int64(42), attrs["process.pid"])
	assert.Equal(t, int64(1), attrs["rehook.installed"])
}

func TestOTLPExporterEmptyBatch(t *testing.T) {
	exp, err := NewOTLPExporter(&config.OTLPConfig{Endpoint: "127.0.0.1:1", Insecure: true}, zap.NewNop())
	require.NoError(t, err)
	defer exp.Shutdown(context.Background())

	assert.NoError(t, exp.ExportEvents(context.Background(), nil))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "ok", sanitizeUTF8("ok"))
	assert.Equal(t, "a�b", sanitizeUTF8("a\xffb"))
}
