package clickhouse

import (
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ericogr/luxmeter/pkg/config"
	"github.com/ericogr/luxmeter/pkg/output"
)

var _ output.Sink = (*ClickHouseOutput)(nil)

func TestOptions(t *testing.T) {
	o := options(config.ClickHouseConfig{Addr: "db:9000", Database: "lab", Username: "u", Password: "p"})
	if len(o.Addr) != 1 || o.Addr[0] != "db:9000" {
		t.Fatalf("addr: %v", o.Addr)
	}
	if o.Auth.Database != "lab" || o.Auth.Username != "u" || o.Auth.Password != "p" {
		t.Fatalf("auth: %+v", o.Auth)
	}
	if o.DialTimeout != 5*time.Second {
		t.Fatalf("dial timeout: %v", o.DialTimeout)
	}
	if o.Compression == nil || o.Compression.Method != clickhouse.CompressionLZ4 {
		t.Fatalf("compression: %+v", o.Compression)
	}
}

func TestSchema(t *testing.T) {
	tables := AllTables()
	if len(tables) != 2 {
		t.Fatalf("tables: %d", len(tables))
	}
	if !strings.Contains(tables[0], "raw_samples") || strings.Contains(tables[0], "trace") {
		t.Fatalf("raw table: %s", tables[0])
	}
	if !strings.Contains(tables[1], "derived_results") || !strings.Contains(tables[1], "Array(Float64)") {
		t.Fatalf("derived table: %s", tables[1])
	}
}
