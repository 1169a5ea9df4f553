package minio

import (
	"context"
	"testing"
)

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(context.Background(), Options{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := New(context.Background(), Options{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
