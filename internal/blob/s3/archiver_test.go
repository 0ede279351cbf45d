package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

type fakeHistory struct {
	outcomes []domain.FundingOutcome
	err      error
	before   time.Time
}

func (f *fakeHistory) ListBefore(_ context.Context, before time.Time) ([]domain.FundingOutcome, error) {
	f.before = before
	return f.outcomes, f.err
}

type fakeWriter struct {
	puts        map[string][]byte
	contentType string
	err         error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[path] = b
	f.contentType = contentType
	return nil
}

type fakeAudit struct {
	events []string
	detail []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.detail = append(f.detail, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testOutcome(seq uint64, symbol string) domain.FundingOutcome {
	return domain.FundingOutcome{
		Seq:               seq,
		ID:                "id",
		Symbol:            symbol,
		Rate:              500,
		CumulativeFunding: uint256.NewInt(1_000_500_000_000_000_000),
		Price:             uint256.NewInt(1),
		Timestamp:         time.Unix(int64(seq), 0),
		RateComputed:      true,
	}
}

func TestArchiveFundingHistory(t *testing.T) {
	cutoff := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	history := &fakeHistory{outcomes: []domain.FundingOutcome{testOutcome(1, "BTC"), testOutcome(2, "ETH")}}
	writer := &fakeWriter{}
	audit := &fakeAudit{}

	n, err := NewArchiver(writer, history, audit).ArchiveFundingHistory(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveFundingHistory: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}
	if !history.before.Equal(cutoff) {
		t.Fatalf("queried before %s", history.before)
	}

	const path = "archive/funding_history/2025-01/20250115T000000Z.jsonl"
	body, ok := writer.puts[path]
	if !ok {
		t.Fatalf("no upload at %s: %v", path, writer.puts)
	}
	if writer.contentType != "application/x-ndjson" {
		t.Fatalf("content type = %s", writer.contentType)
	}

	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 || lines[0]["symbol"] != "BTC" || lines[1]["cumulative_funding"] != "1000500000000000000" {
		t.Fatalf("lines = %v", lines)
	}

	if len(audit.events) != 1 || audit.events[0] != "archive.funding_history" {
		t.Fatalf("audit events = %v", audit.events)
	}
	if audit.detail[0]["path"] != path || audit.detail[0]["count"] != int64(2) {
		t.Fatalf("audit detail = %v", audit.detail[0])
	}
}

func TestArchiveFundingHistoryEmpty(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	n, err := NewArchiver(writer, &fakeHistory{}, audit).ArchiveFundingHistory(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", n, err)
	}
	if len(writer.puts) != 0 || len(audit.events) != 0 {
		t.Fatal("empty archive should neither upload nor audit")
	}
}

func TestArchiveFundingHistoryUploadError(t *testing.T) {
	history := &fakeHistory{outcomes: []domain.FundingOutcome{testOutcome(1, "BTC")}}
	writer := &fakeWriter{err: errors.New("boom")}
	audit := &fakeAudit{}

	if _, err := NewArchiver(writer, history, audit).ArchiveFundingHistory(context.Background(), time.Now()); err == nil {
		t.Fatal("expected upload error")
	}
	if len(audit.events) != 0 {
		t.Fatal("failed upload must not be audited")
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"http://minio:9000", true, "http://minio:9000"},
		{"minio.internal", false, "http://minio.internal"},
		{"s3.example.com/", true, "https://s3.example.com"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.in, tt.useSSL); got != tt.want {
			t.Fatalf("endpointURL(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}

func TestS3Options(t *testing.T) {
	var o s3.Options
	s3Options(ClientConfig{Endpoint: "minio:9000", ForcePathStyle: true})(&o)
	if o.BaseEndpoint == nil || *o.BaseEndpoint != "http://minio:9000" || !o.UsePathStyle {
		t.Fatalf("options = endpoint %v, path style %v", o.BaseEndpoint, o.UsePathStyle)
	}

	var plain s3.Options
	s3Options(ClientConfig{})(&plain)
	if plain.BaseEndpoint != nil || plain.UsePathStyle {
		t.Fatal("plain AWS config must not override the endpoint")
	}
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	if _, err := New(context.Background(), ClientConfig{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
